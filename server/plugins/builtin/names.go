package builtin

import (
	"strings"

	"protorelay/server/audit"
	"protorelay/server/pipeline"
	"protorelay/server/protocol"
)

const nameSuffixLen = 3

// bindName 玩家显示名唯一的写入点；重名时追加随机后缀并改写转发的 RPC
func (p *Plugin) bindName(ctx *pipeline.Context, a protocol.Action) (pipeline.Result, error) {
	req, ok := ctx.RPC.(protocol.SetPlayerName)
	if !ok {
		return pipeline.Pass(), nil
	}
	if ctx.Player == nil {
		p.log.Debugw("name rpc without player", "conn", ctx.ConnID, "name", req.Name)
		return pipeline.Pass(), nil
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return pipeline.Pass(), nil
	}

	final := name
	for p.dir.NameTaken(final, ctx.Player.ID) {
		final = name + protocol.RandomSuffix(nameSuffixLen)
	}
	ctx.Player.Name = final
	p.log.Infow("player name bound", "player", ctx.Player.ID, "name", final)

	if final == req.Name {
		return pipeline.Pass(), nil
	}
	ra, ok := a.(protocol.RPCAction)
	if !ok {
		return pipeline.Pass(), nil
	}
	renamed := protocol.SetPlayerNameAction(ra.Sender, final)
	renamed.ID = ra.ID
	return pipeline.Modify(renamed, "Resolved duplicate player name"), nil
}

// trackStats 把玩家状态、聊天与改名记录到审计，始终透传
func (p *Plugin) trackStats(ctx *pipeline.Context, _ protocol.Action) (pipeline.Result, error) {
	if ctx.Player == nil {
		return pipeline.Pass(), nil
	}
	switch r := ctx.RPC.(type) {
	case protocol.PlayerInfo:
		p.audit.PlayerStats(audit.StatsEvent{
			PlayerID: ctx.Player.ID,
			Name:     ctx.Player.Name,
			Health:   r.Health,
			Latency:  r.Latency,
			At:       ctx.Time,
		})
	case protocol.SetPlayerName:
		p.audit.PlayerStats(audit.StatsEvent{PlayerID: ctx.Player.ID, Name: r.Name, At: ctx.Time})
	}
	return pipeline.Pass(), nil
}
