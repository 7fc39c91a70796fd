package builtin

import (
	"golang.org/x/time/rate"

	"protorelay/server/pipeline"
	"protorelay/server/protocol"
)

// rateLimit 距离上次被接受的消息不足最小间隔时阻止；没有玩家的连接不受限
func (p *Plugin) rateLimit(ctx *pipeline.Context, _ protocol.Action) (pipeline.Result, error) {
	if ctx.Player == nil || p.cfg.RateLimitInterval <= 0 {
		return pipeline.Pass(), nil
	}
	if !p.limiter(ctx.Player.ID).AllowN(ctx.Time, 1) {
		return pipeline.Block("Rate limit exceeded"), nil
	}
	ctx.Player.LastMessageAt = ctx.Time
	return pipeline.Pass(), nil
}

func (p *Plugin) limiter(playerID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[playerID]
	if !ok {
		l = rate.NewLimiter(rate.Every(p.cfg.RateLimitInterval), 1)
		p.limiters[playerID] = l
	}
	return l
}
