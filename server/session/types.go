package session

import (
	"errors"
	"time"
)

var (
	ErrAlreadyInRoom   = errors.New("connection already has a player")
	ErrRoomNotFound    = errors.New("room not found")
	ErrVersionMismatch = errors.New("game version mismatch")
	ErrRoomFull        = errors.New("room is full")
	ErrNotInRoom       = errors.New("connection has no player")
)

// DefaultPlayerName 名称 RPC 到达前的显示名
const DefaultPlayerName = "PLAYER"

// Player 每个连接至多一个；加入房间时创建，离开/断开/超时清理时销毁
type Player struct {
	ID            string
	Conn          string
	RoomID        string
	Hosting       bool
	Name          string
	LastMessageAt time.Time
	JoinedAt      time.Time
}

// Room 成员按加入顺序保存，房主迁移据此确定
type Room struct {
	ID          string
	Name        string
	Scene       string
	ScenePath   string
	GameVersion string
	MaxPlayers  int // <= 0 表示不限
	CreatedAt   time.Time

	players map[string]*Player
	order   []string
}

func newRoom() *Room {
	return &Room{players: make(map[string]*Player)}
}

// PlayerCount 与成员表大小始终一致
func (r *Room) PlayerCount() int { return len(r.order) }

func (r *Room) Full() bool {
	return r.MaxPlayers > 0 && len(r.order) >= r.MaxPlayers
}

func (r *Room) Has(playerID string) bool {
	_, ok := r.players[playerID]
	return ok
}

// Players 按加入顺序返回成员
func (r *Room) Players() []*Player {
	out := make([]*Player, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id])
	}
	return out
}

// Host 当前房主，可能为空（仅在迁移过程中）
func (r *Room) Host() *Player {
	for _, id := range r.order {
		if p := r.players[id]; p.Hosting {
			return p
		}
	}
	return nil
}

func (r *Room) add(p *Player) {
	r.players[p.ID] = p
	r.order = append(r.order, p.ID)
}

func (r *Room) remove(playerID string) bool {
	if _, ok := r.players[playerID]; !ok {
		return false
	}
	delete(r.players, playerID)
	for i, id := range r.order {
		if id == playerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// RoomView 房间的只读副本，可安全地交给其他协程
type RoomView struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Scene       string       `json:"scene"`
	ScenePath   string       `json:"scenepath"`
	GameVersion string       `json:"gameversion"`
	MaxPlayers  int          `json:"maxPlayers"`
	PlayerCount int          `json:"playerCount"`
	Players     []PlayerView `json:"players"`
}

// PlayerView 玩家的只读副本
type PlayerView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	RoomID        string    `json:"roomId"`
	Hosting       bool      `json:"hosting"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	JoinedAt      time.Time `json:"joinedAt"`
}

func (p *Player) View() PlayerView {
	return PlayerView{
		ID:            p.ID,
		Name:          p.Name,
		RoomID:        p.RoomID,
		Hosting:       p.Hosting,
		LastMessageAt: p.LastMessageAt,
		JoinedAt:      p.JoinedAt,
	}
}

func (r *Room) View() RoomView {
	v := RoomView{
		ID:          r.ID,
		Name:        r.Name,
		Scene:       r.Scene,
		ScenePath:   r.ScenePath,
		GameVersion: r.GameVersion,
		MaxPlayers:  r.MaxPlayers,
		PlayerCount: r.PlayerCount(),
		Players:     make([]PlayerView, 0, len(r.order)),
	}
	for _, p := range r.Players() {
		v.Players = append(v.Players, p.View())
	}
	return v
}
