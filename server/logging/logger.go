package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 是全局可用的 SugaredLogger；Init 之前为空实现，测试中可直接使用
var Log = zap.NewNop().Sugar()

// Options 日志输出配置
type Options struct {
	FilePath string // 日志文件路径，如 "relay.log"；为空则不写文件
	Level    string // debug / info / warn / error
	Console  bool   // 同时输出到 stderr
}

// RollingFile 返回带滚动策略的文件写入器（10MB 每文件，保留3个备份，7天）
func RollingFile(filePath string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   false,
	})
}

// EncoderConfig 控制台风格的编码配置，服务日志与审计日志共用
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
}

// Init 初始化 zap 日志（文件滚动 + 可选控制台）
func Init(opts Options) error {
	level := zapcore.DebugLevel
	if opts.Level != "" {
		lv, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		level = lv
	}

	var sinks []zapcore.WriteSyncer
	if opts.FilePath != "" {
		sinks = append(sinks, RollingFile(opts.FilePath))
	}
	if opts.Console || len(sinks) == 0 {
		sinks = append(sinks, zapcore.Lock(os.Stderr))
	}

	encoder := zapcore.NewConsoleEncoder(EncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)

	// 添加调用者信息（文件:行号）
	Log = zap.New(core, zap.AddCaller()).Sugar()
	return nil
}

// Named 返回带组件名的子日志
func Named(name string) *zap.SugaredLogger {
	return Log.Named(name)
}

// Sync 清理和同步缓冲
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
