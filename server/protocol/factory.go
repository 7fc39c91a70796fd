package protocol

import (
	"fmt"
	"strings"
)

// ServerSender 服务端自身产生的 RPC 使用的发送者 id
const ServerSender = "server"

// Color 聊天富文本颜色
type Color string

const (
	ColorGreen  Color = "green"
	ColorRed    Color = "red"
	ColorBlue   Color = "blue"
	ColorYellow Color = "yellow"
	ColorWhite  Color = "white"
)

// NewRPCAction 将 RPC 编码后装入 rpc 动作
func NewRPCAction(r RPC, sender, id string) (RPCAction, error) {
	payload, err := EncodeRPC(r)
	if err != nil {
		return RPCAction{}, err
	}
	return RPCAction{RPC: payload, Sender: sender, ID: id}, nil
}

// mustRPCAction 仅用于内部已知可编码的 RPC
func mustRPCAction(r RPC, sender string) RPCAction {
	a, err := NewRPCAction(r, sender, "")
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %s: %v", r.RPCType(), err))
	}
	return a
}

// Colorize 包裹颜色标签
func Colorize(c Color, msg string) string {
	return "<color=" + string(c) + ">" + msg + "</color>"
}

func ChatAction(sender, msg string) RPCAction {
	return mustRPCAction(ChatMessage{Message: msg}, sender)
}

func ColoredChatAction(sender string, c Color, msg string) RPCAction {
	return ChatAction(sender, Colorize(c, msg))
}

// SystemAnnouncement 黄色 [SYSTEM] 前缀的服务端公告
func SystemAnnouncement(msg string) RPCAction {
	return ChatAction(ServerSender, Colorize(ColorYellow, "[SYSTEM]")+" "+msg)
}

func WelcomeAction(text string) RPCAction {
	if text == "" {
		text = "Welcome to the server!"
	}
	return ColoredChatAction(ServerSender, ColorGreen, text)
}

func DisconnectAction(playerName string) RPCAction {
	name := strings.TrimSpace(playerName)
	if name == "" {
		name = "A player"
	}
	return ColoredChatAction(ServerSender, ColorRed, name+" left the server.")
}

func NewHostAction(newHostID string) RPCAction {
	return mustRPCAction(NewHost{NewHostID: newHostID}, ServerSender)
}

func SetPlayerNameAction(sender, name string) RPCAction {
	return mustRPCAction(SetPlayerName{Name: name}, sender)
}

func PlayerInfoAction(sender string, info PlayerInfo) (RPCAction, error) {
	return NewRPCAction(info, sender, "")
}

func CheatsAction(sender string, enabled bool) RPCAction {
	return mustRPCAction(Cheats{Enabled: enabled}, sender)
}

func SwitchWeaponAction(sender string, index int) RPCAction {
	return mustRPCAction(SwitchWeapon{Index: index}, sender)
}

func PlayerSpawnAction(sender string) RPCAction {
	return mustRPCAction(PlayerSpawn{}, sender)
}

func PlayerJoinedAction(sender string) RPCAction {
	return mustRPCAction(PlayerJoined{}, sender)
}

func CustomizationAction(sender string, c Customization) RPCAction {
	return mustRPCAction(c, sender)
}

// SyncInfoAction TeamScore 中的原始 JSON 可能非法，因此返回 error
func SyncInfoAction(sender string, info SyncInfo) (RPCAction, error) {
	return NewRPCAction(info, sender, "")
}

// SyncTransformAction 浮点值可能为 NaN/Inf，无法编码时返回 error
func SyncTransformAction(sender string, t SyncTransform) (RPCAction, error) {
	return NewRPCAction(t, sender, "")
}
