// Package anticheat 玩家状态边界检查：生命值、延迟超出合理范围时阻止转发
package anticheat

import (
	"math"

	"go.uber.org/zap"

	"protorelay/server/pipeline"
	"protorelay/server/plugin"
	"protorelay/server/protocol"
)

type Config struct {
	MinHealth  float64
	MaxHealth  float64
	MinLatency float64
	MaxLatency float64
}

func DefaultConfig() Config {
	return Config{MinHealth: 0, MaxHealth: 100, MinLatency: 0, MaxLatency: 10000}
}

type Plugin struct {
	cfg Config
	log *zap.SugaredLogger
}

func New(cfg Config, log *zap.SugaredLogger) *Plugin {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Plugin{cfg: cfg, log: log}
}

func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		ID:          "relay.anticheat",
		Name:        "Anti-Cheat",
		Description: "Rejects player-info updates with out-of-range health or latency",
		Version:     "1.0.0",
		Author:      "relay",
	}
}

func (p *Plugin) Register(pl *pipeline.Pipeline) error {
	pl.HandleRPC(protocol.RPCPlayerInfo, "anticheat-bounds", p.checkBounds)
	return nil
}

func (p *Plugin) checkBounds(ctx *pipeline.Context, _ protocol.Action) (pipeline.Result, error) {
	info, ok := ctx.RPC.(protocol.PlayerInfo)
	if !ok {
		return pipeline.Pass(), nil
	}
	if !within(info.Health, p.cfg.MinHealth, p.cfg.MaxHealth) {
		p.log.Infow("invalid health", "player", ctx.PlayerID(), "health", info.Health)
		return pipeline.Block("Invalid health value detected"), nil
	}
	if !within(info.Latency, p.cfg.MinLatency, p.cfg.MaxLatency) {
		p.log.Infow("invalid latency", "player", ctx.PlayerID(), "latency", info.Latency)
		return pipeline.Block("Invalid latency value detected"), nil
	}
	return pipeline.Pass(), nil
}

// within NaN 不在任何区间内
func within(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
