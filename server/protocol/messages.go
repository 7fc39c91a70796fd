package protocol

import "encoding/json"

// 服务端 -> 客户端的非 RPC 消息
const (
	MsgRoomInfo       = "roominfo"
	MsgCurrentPlayers = "currentplayers"
	MsgRoomListEntry  = "roomlist_roominfo"
	MsgError          = "error"
	MsgKick           = "kick"
)

// PlayerRef 房间成员条目，Local 标记接收者本人
type PlayerRef struct {
	PlayerID string `json:"playerId"`
	Local    bool   `json:"local"`
	RoomID   string `json:"roomId"`
}

// RoomInfo 房间成员快照（roominfo / currentplayers）
type RoomInfo struct {
	Action      string      `json:"action"`
	PlayerIDs   []PlayerRef `json:"playerIds"`
	Scene       string      `json:"scene"`
	ScenePath   string      `json:"scenepath"`
	GameVersion string      `json:"gameversion"`
	ID          string      `json:"id"`
}

// RoomListEntry 房间列表中的一项，每个房间单独发送
type RoomListEntry struct {
	Action      string `json:"action"`
	RoomName    string `json:"roomName"`
	RoomID      string `json:"roomId"`
	RoomVersion string `json:"roomversion"`
	PlayerCount int    `json:"playercount"`
}

// ErrorNotice 强制断开前发给客户端的错误说明
type ErrorNotice struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// KickNotice 管理员踢出通知
type KickNotice struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func NewErrorNotice(code, msg string) ErrorNotice {
	return ErrorNotice{Action: MsgError, Message: msg, Code: code}
}

func NewKickNotice(reason string) KickNotice {
	return KickNotice{Action: MsgKick, Reason: reason}
}

// Marshal 序列化任意出站消息，失败时返回 nil（出站结构均为已知可编码类型）
func Marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
