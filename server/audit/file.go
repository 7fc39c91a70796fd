package audit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"protorelay/server/logging"
)

// FileSink 以 JSON 行写入滚动文件（lumberjack）
type FileSink struct {
	log *zap.Logger
}

// NewFileSink path 为审计日志文件路径
func NewFileSink(path string) *FileSink {
	return NewWriterSink(logging.RollingFile(path))
}

// NewWriterSink 写入任意 WriteSyncer，测试中传入缓冲区
func NewWriterSink(ws zapcore.WriteSyncer) *FileSink {
	cfg := logging.EncoderConfig()
	cfg.CallerKey = zapcore.OmitKey
	cfg.StacktraceKey = zapcore.OmitKey
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), ws, zapcore.InfoLevel)
	return &FileSink{log: zap.New(core)}
}

func (f *FileSink) PlayerJoined(e PlayerEvent) {
	f.log.Info("player_join",
		zap.String("playerId", e.PlayerID),
		zap.String("name", e.Name),
		zap.String("roomId", e.RoomID),
		zap.String("roomName", e.RoomName),
		zap.Time("at", e.At),
	)
}

func (f *FileSink) PlayerLeft(e PlayerEvent) {
	f.log.Info("player_leave",
		zap.String("playerId", e.PlayerID),
		zap.String("name", e.Name),
		zap.String("roomId", e.RoomID),
		zap.Time("at", e.At),
	)
}

func (f *FileSink) ChatMessage(e ChatEvent) {
	f.log.Info("chat",
		zap.String("senderId", e.SenderID),
		zap.String("senderName", e.SenderName),
		zap.String("roomId", e.RoomID),
		zap.String("message", e.Message),
		zap.Time("at", e.At),
	)
}

func (f *FileSink) PlayerStats(e StatsEvent) {
	f.log.Info("player_stats",
		zap.String("playerId", e.PlayerID),
		zap.Float64("health", e.Health),
		zap.Float64("latency", e.Latency),
		zap.Time("at", e.At),
	)
}

func (f *FileSink) AdminAction(e AdminEvent) {
	f.log.Info("admin_action",
		zap.String("action", e.Action),
		zap.String("target", e.Target),
		zap.String("detail", e.Detail),
		zap.Time("at", e.At),
	)
}

func (f *FileSink) ServerSnapshot(e Snapshot) {
	f.log.Info("server_snapshot",
		zap.Int("playerCount", e.PlayerCount),
		zap.Int("roomCount", e.RoomCount),
		zap.Duration("uptime", e.Uptime),
		zap.Any("rooms", e.Rooms),
		zap.Time("at", e.At),
	)
}

// Sync 刷新底层文件
func (f *FileSink) Sync() error {
	return f.log.Sync()
}
