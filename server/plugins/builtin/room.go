package builtin

import (
	"fmt"
	"strings"

	"protorelay/server/pipeline"
	"protorelay/server/protocol"
)

var roomNameSanitizer = strings.NewReplacer("<", "", ">", "")

// validateRoom 名称过短或人数越界时阻止；去除名称中的尖括号
func (p *Plugin) validateRoom(_ *pipeline.Context, a protocol.Action) (pipeline.Result, error) {
	req, ok := a.(protocol.CreateRoom)
	if !ok {
		return pipeline.Pass(), nil
	}
	if len([]rune(strings.TrimSpace(req.RoomName))) < p.cfg.MinRoomNameLen {
		return pipeline.Block(fmt.Sprintf("Room name must be at least %d characters", p.cfg.MinRoomNameLen)), nil
	}
	if req.MaxPlayers < 1 || req.MaxPlayers > p.cfg.MaxPlayersLimit {
		return pipeline.Block(fmt.Sprintf("Max players must be between 1 and %d", p.cfg.MaxPlayersLimit)), nil
	}
	sanitized := roomNameSanitizer.Replace(strings.TrimSpace(req.RoomName))
	if sanitized != req.RoomName {
		req.RoomName = sanitized
		return pipeline.Modify(req, "Sanitized room name"), nil
	}
	return pipeline.Pass(), nil
}

// welcome 创建/加入房间后延迟发送欢迎消息给本人
func (p *Plugin) welcome(_ *pipeline.Context, _ protocol.Action) (pipeline.Result, error) {
	return pipeline.SendAdditional(protocol.WelcomeAction(p.cfg.WelcomeText)).After(p.cfg.WelcomeDelay), nil
}
