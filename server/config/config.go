// Package config 进程配置：命令行参数优先，默认值取自环境变量，可选 .env 文件
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

const envPrefix = "RELAY_"

type Config struct {
	Addr       string
	LogFile    string
	LogLevel   string
	LogConsole bool
	AuditFile  string
	AdminToken string

	// 传输
	TickRate             int
	MaxFrameBytes        int64
	MaxDecompressedBytes int64
	QueueCeiling         int
	FrameRate            float64 // 每连接每秒帧数上限
	FrameBurst           int

	// 健康监控
	ZombieMessages       int
	ZombieWindow         time.Duration
	MaxConsecutiveErrors int
	InactivityTimeout    time.Duration
	SweepInterval        time.Duration
	ReconcileInterval    time.Duration
	SnapshotInterval     time.Duration

	// 中间件策略
	RateLimitInterval time.Duration
	MinRoomNameLen    int
	MaxPlayersLimit   int
	WelcomeText       string
	WelcomeDelay      time.Duration
	FilterPatterns    []string
	FilterReplacement string
	MaxSpeed          float64
	TeleportAllowance time.Duration
	ThrottleInterval  time.Duration

	// 服务器信息（/query）
	ServerName        string
	ServerVersion     string
	SupportedVersions []string
	Description       string
	CountryCode       string
	IconFile          string

	ShutdownGrace time.Duration
}

// TickInterval 批量发送周期
func (c Config) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(c.TickRate)
}

func (c Config) Validate() error {
	var err error
	if c.TickRate <= 0 {
		err = multierr.Append(err, fmt.Errorf("tick rate must be positive, got %d", c.TickRate))
	}
	if c.MaxFrameBytes <= 0 {
		err = multierr.Append(err, fmt.Errorf("max frame bytes must be positive, got %d", c.MaxFrameBytes))
	}
	if c.MaxDecompressedBytes < c.MaxFrameBytes {
		err = multierr.Append(err, fmt.Errorf("max decompressed bytes (%d) below max frame bytes (%d)",
			c.MaxDecompressedBytes, c.MaxFrameBytes))
	}
	if c.QueueCeiling <= 0 {
		err = multierr.Append(err, fmt.Errorf("queue ceiling must be positive, got %d", c.QueueCeiling))
	}
	if c.SweepInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval))
	}
	if c.MaxSpeed <= 0 {
		err = multierr.Append(err, fmt.Errorf("max speed must be positive, got %v", c.MaxSpeed))
	}
	if c.FrameRate <= 0 || c.FrameBurst <= 0 {
		err = multierr.Append(err, fmt.Errorf("frame limiter needs positive rate and burst, got %v/%d",
			c.FrameRate, c.FrameBurst))
	}
	return err
}

// Load 先加载 envFile（不存在不算错误），再解析 args
func Load(envFile string, args []string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return Parse(args, os.LookupEnv)
}

// Parse 环境变量通过 lookup 读取，便于测试
func Parse(args []string, lookup func(string) (string, bool)) (Config, error) {
	env := envReader{lookup: lookup}
	var c Config
	var patterns, versions string

	set := flag.NewFlagSet("protorelay", flag.ContinueOnError)
	set.StringVar(&c.Addr, "addr", env.str("ADDR", ":8080"), "listen address")
	set.StringVar(&c.LogFile, "log-file", env.str("LOG_FILE", "relay.log"), "rolling log file")
	set.StringVar(&c.LogLevel, "log-level", env.str("LOG_LEVEL", "info"), "log level")
	set.BoolVar(&c.LogConsole, "log-console", env.boolean("LOG_CONSOLE", true), "also log to stderr")
	set.StringVar(&c.AuditFile, "audit-file", env.str("AUDIT_FILE", "audit.log"), "audit log file, empty disables")
	set.StringVar(&c.AdminToken, "admin-token", env.str("ADMIN_TOKEN", ""), "token required by /admin endpoints, empty disables the check")

	set.IntVar(&c.TickRate, "tick-rate", env.integer("TICK_RATE", 30), "outbound flushes per second")
	set.Int64Var(&c.MaxFrameBytes, "max-frame", env.int64("MAX_FRAME_BYTES", 1<<20), "max inbound frame size")
	set.Int64Var(&c.MaxDecompressedBytes, "max-decompressed", env.int64("MAX_DECOMPRESSED_BYTES", 4<<20), "max inflated frame size")
	set.IntVar(&c.QueueCeiling, "queue-ceiling", env.integer("QUEUE_CEILING", 1<<20), "max bytes queued per connection")
	set.Float64Var(&c.FrameRate, "frame-rate", env.float("FRAME_RATE", 120), "inbound frames per second per connection")
	set.IntVar(&c.FrameBurst, "frame-burst", env.integer("FRAME_BURST", 240), "inbound frame burst per connection")

	set.IntVar(&c.ZombieMessages, "zombie-messages", env.integer("ZOMBIE_MESSAGES", 300), "messages that flag a new connection as zombie")
	set.DurationVar(&c.ZombieWindow, "zombie-window", env.duration("ZOMBIE_WINDOW", 2*time.Second), "window after connect for the zombie check")
	set.IntVar(&c.MaxConsecutiveErrors, "max-errors", env.integer("MAX_CONSECUTIVE_ERRORS", 10), "consecutive protocol errors before disconnect")
	set.DurationVar(&c.InactivityTimeout, "inactivity-timeout", env.duration("INACTIVITY_TIMEOUT", 10*time.Second), "evict connections idle this long")
	set.DurationVar(&c.SweepInterval, "sweep-interval", env.duration("SWEEP_INTERVAL", 3*time.Second), "inactivity sweep interval")
	set.DurationVar(&c.ReconcileInterval, "reconcile-interval", env.duration("RECONCILE_INTERVAL", 30*time.Second), "room membership reconcile interval")
	set.DurationVar(&c.SnapshotInterval, "snapshot-interval", env.duration("SNAPSHOT_INTERVAL", time.Minute), "audit snapshot interval")

	set.DurationVar(&c.RateLimitInterval, "rate-limit", env.duration("RATE_LIMIT_INTERVAL", 100*time.Millisecond), "min interval between accepted player messages")
	set.IntVar(&c.MinRoomNameLen, "min-room-name", env.integer("MIN_ROOM_NAME", 3), "min room name length")
	set.IntVar(&c.MaxPlayersLimit, "max-players", env.integer("MAX_PLAYERS", 64), "upper bound for room capacity")
	set.StringVar(&c.WelcomeText, "welcome", env.str("WELCOME_TEXT", "Welcome to the server!"), "welcome chat text")
	set.DurationVar(&c.WelcomeDelay, "welcome-delay", env.duration("WELCOME_DELAY", time.Second), "delay before the welcome message")
	set.StringVar(&patterns, "chat-filter", env.str("CHAT_FILTER", "owo,knot,uwu,nya,meow"), "comma separated chat filter patterns")
	set.StringVar(&c.FilterReplacement, "chat-filter-replacement",
		env.str("CHAT_FILTER_REPLACEMENT", "<color=red>message removed by chat filter</color>"), "text replacing filtered messages")
	set.Float64Var(&c.MaxSpeed, "max-speed", env.float("MAX_SPEED", 50), "movement smoothing speed cap, units per second")
	set.DurationVar(&c.TeleportAllowance, "teleport-allowance", env.duration("TELEPORT_ALLOWANCE", time.Second), "gaps longer than this are not smoothed")
	set.DurationVar(&c.ThrottleInterval, "transform-throttle", env.duration("TRANSFORM_THROTTLE", 500*time.Millisecond), "transform update log threshold")

	set.StringVar(&c.ServerName, "name", env.str("SERVER_NAME", "Relay Server"), "server name")
	set.StringVar(&c.ServerVersion, "version", env.str("SERVER_VERSION", "1.0.0"), "server version")
	set.StringVar(&versions, "supported-versions", env.str("SUPPORTED_VERSIONS", ""), "comma separated game versions")
	set.StringVar(&c.Description, "description", env.str("DESCRIPTION", ""), "server description")
	set.StringVar(&c.CountryCode, "country", env.str("COUNTRY_CODE", ""), "server country code")
	set.StringVar(&c.IconFile, "icon", env.str("ICON_FILE", ""), "64x64 png server icon")
	set.DurationVar(&c.ShutdownGrace, "shutdown-grace", env.duration("SHUTDOWN_GRACE", 5*time.Second), "graceful shutdown timeout")

	if env.err != nil {
		return Config{}, env.err
	}
	if err := set.Parse(args); err != nil {
		return Config{}, err
	}
	c.FilterPatterns = splitList(patterns)
	c.SupportedVersions = splitList(versions)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envReader 读取 RELAY_ 前缀的环境变量，解析错误累积到 err
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, v string, err error) {
	e.err = multierr.Append(e.err, fmt.Errorf("%s%s=%q: %w", envPrefix, key, v, err))
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) int64(key string, def int64) int64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return f
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}
