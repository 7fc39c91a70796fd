package builtin

import (
	"fmt"
	"regexp"
	"strings"

	"protorelay/server/audit"
	"protorelay/server/pipeline"
	"protorelay/server/protocol"
)

var (
	// 客户端在消息前附加 "名字: "
	senderPrefix     = regexp.MustCompile(`^[^:]+: \s*`)
	monitoringPrefix = regexp.MustCompile(`^[^: ]+: `)
)

func chatOf(ctx *pipeline.Context) (protocol.ChatMessage, bool) {
	m, ok := ctx.RPC.(protocol.ChatMessage)
	return m, ok
}

// filterChat 命中任一过滤规则时替换消息文本，载荷中的其他字段保留
func (p *Plugin) filterChat(ctx *pipeline.Context, a protocol.Action) (pipeline.Result, error) {
	msg, ok := chatOf(ctx)
	if !ok {
		return pipeline.Pass(), nil
	}
	ra, ok := a.(protocol.RPCAction)
	if !ok {
		return pipeline.Pass(), nil
	}
	for _, re := range p.filters {
		if !re.MatchString(msg.Message) {
			continue
		}
		replaced, err := ra.WithRPCField("message", p.cfg.FilterReplacement)
		if err != nil {
			return pipeline.Result{}, err
		}
		return pipeline.Modify(replaced, "Filtered inappropriate content"), nil
	}
	return pipeline.Pass(), nil
}

// chatCommands 处理 /help /time /players；答复只发给发送者，命令不转发
func (p *Plugin) chatCommands(ctx *pipeline.Context, _ protocol.Action) (pipeline.Result, error) {
	msg, ok := chatOf(ctx)
	if !ok {
		return pipeline.Pass(), nil
	}
	text := senderPrefix.ReplaceAllString(msg.Message, "")
	if !strings.HasPrefix(text, "/") {
		return pipeline.Pass(), nil
	}
	command, _, _ := strings.Cut(text[1:], " ")

	switch strings.ToLower(command) {
	case "help":
		return pipeline.Reply(protocol.SystemAnnouncement("Available commands: /help, /time, /players")), nil
	case "time":
		return pipeline.Reply(protocol.ColoredChatAction(protocol.ServerSender, protocol.ColorBlue,
			"Current time: "+ctx.Time.Format("15:04:05"))), nil
	case "players":
		return pipeline.Reply(protocol.ColoredChatAction(protocol.ServerSender, protocol.ColorGreen,
			fmt.Sprintf("Players online: %d", p.dir.TotalPlayerCount()))), nil
	default:
		return pipeline.Reply(protocol.ColoredChatAction(protocol.ServerSender, protocol.ColorRed,
			"Unknown command: /"+command)), nil
	}
}

// monitorChat 把聊天副本交给观察者与审计，始终透传
func (p *Plugin) monitorChat(ctx *pipeline.Context, a protocol.Action) (pipeline.Result, error) {
	msg, ok := chatOf(ctx)
	if !ok {
		return pipeline.Pass(), nil
	}
	ev := audit.ChatEvent{
		SenderName: "Unknown",
		RoomName:   "Unknown",
		Message:    monitoringPrefix.ReplaceAllString(msg.Message, ""),
		At:         ctx.Time,
	}
	if ra, ok := a.(protocol.RPCAction); ok {
		ev.SenderID = ra.Sender
	}
	if ctx.Player != nil {
		ev.SenderID = ctx.Player.ID
		ev.SenderName = ctx.Player.Name
	}
	if ctx.Room != nil {
		ev.RoomID = ctx.Room.ID
		ev.RoomName = ctx.Room.Name
	}
	if p.observer != nil {
		p.observer.ForwardChat(ev)
	}
	p.audit.ChatMessage(ev)
	return pipeline.Pass(), nil
}
