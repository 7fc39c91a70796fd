// Package builtin 内置中间件：日志、限流、房间校验、欢迎消息、聊天过滤与命令、聊天监控、名称绑定、统计
package builtin

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"protorelay/server/audit"
	"protorelay/server/pipeline"
	"protorelay/server/plugin"
	"protorelay/server/protocol"
)

// Directory 处理器需要的只读会话查询
type Directory interface {
	NameTaken(name, exceptID string) bool
	TotalPlayerCount() int
}

// ChatObserver 接收聊天副本（管理端转发）
type ChatObserver interface {
	ForwardChat(audit.ChatEvent)
}

type Config struct {
	RateLimitInterval time.Duration
	MinRoomNameLen    int
	MaxPlayersLimit   int
	WelcomeText       string
	WelcomeDelay      time.Duration
	FilterPatterns    []string
	FilterReplacement string
}

func DefaultConfig() Config {
	return Config{
		RateLimitInterval: 100 * time.Millisecond,
		MinRoomNameLen:    3,
		MaxPlayersLimit:   64,
		WelcomeText:       "Welcome to the server!",
		WelcomeDelay:      time.Second,
		FilterPatterns:    []string{"owo", "knot", "uwu", "nya", "meow"},
		FilterReplacement: protocol.Colorize(protocol.ColorRed, "message removed by chat filter"),
	}
}

// Plugin 内置处理器集合
type Plugin struct {
	cfg      Config
	dir      Directory
	observer ChatObserver
	audit    audit.Sink
	log      *zap.SugaredLogger
	filters  []*regexp.Regexp

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New observer 与 sink 可为空
func New(cfg Config, dir Directory, observer ChatObserver, sink audit.Sink, log *zap.SugaredLogger) *Plugin {
	if sink == nil {
		sink = audit.Nop{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Plugin{
		cfg:      cfg,
		dir:      dir,
		observer: observer,
		audit:    sink,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		ID:          "relay.builtin",
		Name:        "Built-in Handlers",
		Description: "Logging, rate limiting, room validation, welcome, chat filter/commands/monitoring, name binding, stats",
		Version:     "1.0.0",
		Author:      "relay",
	}
}

func (p *Plugin) Register(pl *pipeline.Pipeline) error {
	if p.dir == nil {
		return fmt.Errorf("builtin: player directory is required")
	}
	filters := make([]*regexp.Regexp, 0, len(p.cfg.FilterPatterns))
	for _, pat := range p.cfg.FilterPatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return fmt.Errorf("builtin: chat filter %q: %w", pat, err)
		}
		filters = append(filters, re)
	}
	p.filters = filters

	pl.Use("logging", p.logAction)
	pl.Use("rate-limit", p.rateLimit)

	pl.Handle(protocol.ActionCreateRoom, "room-validation", p.validateRoom)
	pl.Handle(protocol.ActionCreateRoom, "welcome", p.welcome)
	pl.Handle(protocol.ActionJoinRoom, "welcome", p.welcome)
	pl.Handle(protocol.ActionRPC, "stats-tracking", p.trackStats)

	pl.HandleRPC(protocol.RPCChatMessage, "chat-filter", p.filterChat)
	pl.HandleRPC(protocol.RPCChatMessage, "chat-commands", p.chatCommands)
	pl.HandleRPC(protocol.RPCChatMessage, "chat-monitoring", p.monitorChat)
	pl.HandleRPC(protocol.RPCSetPlayerName, "player-name", p.bindName)

	pl.OnRelease(p.forget)
	return nil
}

func (p *Plugin) logAction(ctx *pipeline.Context, a protocol.Action) (pipeline.Result, error) {
	p.log.Debugw("action received", "action", a.Type(), "conn", ctx.ConnID, "player", ctx.PlayerID())
	return pipeline.Pass(), nil
}

func (p *Plugin) forget(playerID string) {
	p.mu.Lock()
	delete(p.limiters, playerID)
	p.mu.Unlock()
}
