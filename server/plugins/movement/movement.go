// Package movement 位置同步的节流日志与平滑处理
package movement

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"protorelay/server/pipeline"
	"protorelay/server/plugin"
	"protorelay/server/protocol"
)

type Config struct {
	MaxSpeed          float64       // 单位/秒
	TeleportAllowance time.Duration // 超过该间隔的跳变视为传送/重生，不做平滑
	ThrottleInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxSpeed:          50,
		TeleportAllowance: time.Second,
		ThrottleInterval:  500 * time.Millisecond,
	}
}

type lastSeen struct {
	pos vec3
	at  time.Time
}

// Plugin 状态按 发送者 -> 物体 id 分组，玩家离开时整组释放
type Plugin struct {
	cfg Config
	log *zap.SugaredLogger

	mu      sync.Mutex
	updates map[string]map[string]time.Time
	last    map[string]map[string]lastSeen
}

func New(cfg Config, log *zap.SugaredLogger) *Plugin {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Plugin{
		cfg:     cfg,
		log:     log,
		updates: make(map[string]map[string]time.Time),
		last:    make(map[string]map[string]lastSeen),
	}
}

func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		ID:          "relay.movement",
		Name:        "Movement Smoothing",
		Description: "Logs bursts of transform updates and clamps implausible position jumps",
		Version:     "1.0.0",
		Author:      "relay",
	}
}

func (p *Plugin) Register(pl *pipeline.Pipeline) error {
	pl.HandleRPC(protocol.RPCSyncTransform, "transform-throttle", p.throttle)
	pl.HandleRPC(protocol.RPCSyncTransform, "transform-smoothing", p.smooth)
	pl.OnRelease(p.forget)
	return nil
}

func senderOf(ctx *pipeline.Context, a protocol.Action) string {
	if id := ctx.PlayerID(); id != "" {
		return id
	}
	if ra, ok := a.(protocol.RPCAction); ok {
		return ra.Sender
	}
	return ctx.ConnID
}

// throttle 同一物体更新过快时只记录日志，不阻止
func (p *Plugin) throttle(ctx *pipeline.Context, a protocol.Action) (pipeline.Result, error) {
	t, ok := ctx.RPC.(protocol.SyncTransform)
	if !ok || p.cfg.ThrottleInterval <= 0 {
		return pipeline.Pass(), nil
	}
	sender := senderOf(ctx, a)

	p.mu.Lock()
	objs := p.updates[sender]
	if objs == nil {
		objs = make(map[string]time.Time)
		p.updates[sender] = objs
	}
	prev, seen := objs[t.ObjectID]
	objs[t.ObjectID] = ctx.Time
	p.mu.Unlock()

	if seen && ctx.Time.Sub(prev) < p.cfg.ThrottleInterval {
		p.log.Debugw("transform updates too frequent", "sender", sender, "object", t.ObjectID,
			"since_last", ctx.Time.Sub(prev))
	}
	return pipeline.Pass(), nil
}

// smooth 位移超过 maxSpeed*dt 时，沿位移方向截断到最大允许距离，并记住截断后的位置
func (p *Plugin) smooth(ctx *pipeline.Context, a protocol.Action) (pipeline.Result, error) {
	t, ok := ctx.RPC.(protocol.SyncTransform)
	if !ok {
		return pipeline.Pass(), nil
	}
	ra, ok := a.(protocol.RPCAction)
	if !ok {
		return pipeline.Pass(), nil
	}
	sender := senderOf(ctx, a)
	reported := vec3{t.PosX, t.PosY, t.PosZ}

	p.mu.Lock()
	defer p.mu.Unlock()
	objs := p.last[sender]
	if objs == nil {
		objs = make(map[string]lastSeen)
		p.last[sender] = objs
	}
	prev, seen := objs[t.ObjectID]
	if !seen {
		objs[t.ObjectID] = lastSeen{pos: reported, at: ctx.Time}
		return pipeline.Pass(), nil
	}

	elapsed := ctx.Time.Sub(prev.at)
	pos, clamped := clamp(prev.pos, reported, p.cfg.MaxSpeed*elapsed.Seconds())
	if !clamped || elapsed >= p.cfg.TeleportAllowance {
		objs[t.ObjectID] = lastSeen{pos: reported, at: ctx.Time}
		return pipeline.Pass(), nil
	}

	t.PosX, t.PosY, t.PosZ = pos.x, pos.y, pos.z
	smoothed, err := protocol.NewRPCAction(t, ra.Sender, ra.ID)
	if err != nil {
		return pipeline.Result{}, err
	}
	objs[t.ObjectID] = lastSeen{pos: pos, at: ctx.Time}
	p.log.Debugw("transform smoothed", "sender", sender, "object", t.ObjectID, "elapsed", elapsed)
	return pipeline.Modify(smoothed, "Smoothed movement"), nil
}

func (p *Plugin) forget(playerID string) {
	p.mu.Lock()
	delete(p.updates, playerID)
	delete(p.last, playerID)
	p.mu.Unlock()
}

// Tracked 当前保存状态的发送者数量
func (p *Plugin) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.last)
}
