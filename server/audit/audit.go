// Package audit 审计/统计记录：核心只投递普通数据记录，下游失败不影响转发
package audit

import "time"

// PlayerEvent 玩家加入/离开
type PlayerEvent struct {
	PlayerID string    `json:"playerId"`
	Name     string    `json:"name"`
	RoomID   string    `json:"roomId"`
	RoomName string    `json:"roomName"`
	At       time.Time `json:"at"`
}

// ChatEvent 聊天记录（同时用于管理端转发）
type ChatEvent struct {
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	RoomID     string    `json:"roomId"`
	RoomName   string    `json:"roomName"`
	Message    string    `json:"message"`
	At         time.Time `json:"timestamp"`
}

// StatsEvent 玩家状态采样
type StatsEvent struct {
	PlayerID string    `json:"playerId"`
	Name     string    `json:"name,omitempty"`
	Health   float64   `json:"health"`
	Latency  float64   `json:"latency"`
	At       time.Time `json:"at"`
}

// AdminEvent 管理操作
type AdminEvent struct {
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// RoomSummary 快照中的房间摘要
type RoomSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	GameVersion string `json:"gameversion"`
	Players     int    `json:"players"`
	MaxPlayers  int    `json:"maxPlayers"`
}

// Snapshot 服务器周期快照
type Snapshot struct {
	At          time.Time     `json:"at"`
	PlayerCount int           `json:"playerCount"`
	RoomCount   int           `json:"roomCount"`
	Rooms       []RoomSummary `json:"rooms"`
	Uptime      time.Duration `json:"uptime"`
}

// Sink 外部审计接收方；所有方法都是 fire-and-forget，不返回错误
type Sink interface {
	PlayerJoined(PlayerEvent)
	PlayerLeft(PlayerEvent)
	ChatMessage(ChatEvent)
	PlayerStats(StatsEvent)
	AdminAction(AdminEvent)
	ServerSnapshot(Snapshot)
}

// Nop 丢弃一切记录
type Nop struct{}

func (Nop) PlayerJoined(PlayerEvent) {}
func (Nop) PlayerLeft(PlayerEvent)   {}
func (Nop) ChatMessage(ChatEvent)    {}
func (Nop) PlayerStats(StatsEvent)   {}
func (Nop) AdminAction(AdminEvent)   {}
func (Nop) ServerSnapshot(Snapshot)  {}

// Multi 依次投递给多个 Sink
type Multi []Sink

func (m Multi) PlayerJoined(e PlayerEvent) {
	for _, s := range m {
		s.PlayerJoined(e)
	}
}

func (m Multi) PlayerLeft(e PlayerEvent) {
	for _, s := range m {
		s.PlayerLeft(e)
	}
}

func (m Multi) ChatMessage(e ChatEvent) {
	for _, s := range m {
		s.ChatMessage(e)
	}
}

func (m Multi) PlayerStats(e StatsEvent) {
	for _, s := range m {
		s.PlayerStats(e)
	}
}

func (m Multi) AdminAction(e AdminEvent) {
	for _, s := range m {
		s.AdminAction(e)
	}
}

func (m Multi) ServerSnapshot(e Snapshot) {
	for _, s := range m {
		s.ServerSnapshot(e)
	}
}
