package session

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"protorelay/server/audit"
	"protorelay/server/protocol"
)

// Sender 出站投递（通常是 transport.Batcher），不得阻塞
type Sender interface {
	Send(connID string, payload []byte)
}

// Options State 的依赖；零值字段使用默认实现
type Options struct {
	Sender Sender
	Audit  audit.Sink
	Log    *zap.SugaredLogger
	Now    func() time.Time
}

// State 玩家与房间的唯一权威；没有内部锁，只能在 Hub 循环协程中使用
type State struct {
	players   map[string]*Player
	byConn    map[string]string
	rooms     map[string]*Room
	roomOrder []string

	sender    Sender
	audit     audit.Sink
	log       *zap.SugaredLogger
	now       func() time.Time
	startedAt time.Time
}

type nopSender struct{}

func (nopSender) Send(string, []byte) {}

func New(opts Options) *State {
	s := &State{
		players: make(map[string]*Player),
		byConn:  make(map[string]string),
		rooms:   make(map[string]*Room),
		sender:  opts.Sender,
		audit:   opts.Audit,
		log:     opts.Log,
		now:     opts.Now,
	}
	if s.sender == nil {
		s.sender = nopSender{}
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.startedAt = s.now()
	return s
}

func (s *State) playerTaken(id string) bool {
	_, ok := s.players[id]
	return ok
}

func (s *State) roomTaken(id string) bool {
	_, ok := s.rooms[id]
	return ok
}

// CreateRoom 创建房间并让请求者以房主身份加入
func (s *State) CreateRoom(conn string, req protocol.CreateRoom) (*Room, *Player, error) {
	if id, ok := s.byConn[conn]; ok {
		s.log.Infow("create room ignored, already in a room", "conn", conn, "player", id)
		return nil, nil, ErrAlreadyInRoom
	}
	room := newRoom()
	room.ID = protocol.NewID(s.roomTaken)
	room.Name = req.RoomName
	room.Scene = req.Scene
	room.ScenePath = req.ScenePath
	room.GameVersion = req.GameVersion
	room.MaxPlayers = req.MaxPlayers
	room.CreatedAt = s.now()
	s.rooms[room.ID] = room
	s.roomOrder = append(s.roomOrder, room.ID)

	p, err := s.JoinRoom(conn, room.ID, req.GameVersion, true)
	if err != nil {
		s.deleteRoom(room.ID)
		return nil, nil, fmt.Errorf("join created room: %w", err)
	}
	s.log.Infow("room created", "room", room.ID, "name", room.Name, "host", p.ID)
	s.audit.ServerSnapshot(s.Snapshot())
	return room, p, nil
}

// JoinRoom 版本严格相等才允许加入；成功后向房间成员广播成员列表
func (s *State) JoinRoom(conn, roomID, gameVersion string, asHost bool) (*Player, error) {
	if id, ok := s.byConn[conn]; ok {
		s.log.Infow("join ignored, already in a room", "conn", conn, "player", id)
		return nil, ErrAlreadyInRoom
	}
	room, ok := s.rooms[roomID]
	if !ok {
		s.log.Debugw("join ignored, room not found", "conn", conn, "room", roomID)
		return nil, ErrRoomNotFound
	}
	if room.GameVersion != gameVersion {
		s.log.Infow("join rejected, version mismatch", "conn", conn, "room", roomID,
			"want", room.GameVersion, "got", gameVersion)
		return nil, ErrVersionMismatch
	}
	if room.Full() {
		s.log.Infow("join rejected, room full", "conn", conn, "room", roomID, "max", room.MaxPlayers)
		return nil, ErrRoomFull
	}

	now := s.now()
	p := &Player{
		ID:            protocol.NewID(s.playerTaken),
		Conn:          conn,
		RoomID:        roomID,
		Hosting:       asHost,
		Name:          DefaultPlayerName,
		LastMessageAt: now,
		JoinedAt:      now,
	}
	room.add(p)
	s.players[p.ID] = p
	s.byConn[conn] = p.ID
	s.log.Debugw("player joined", "player", p.ID, "room", roomID, "count", room.PlayerCount())

	s.broadcastRoomInfo(room)
	s.audit.PlayerJoined(s.playerEvent(p, room))
	return p, nil
}

// RemoveConn 按连接移除玩家；重复调用为空操作
func (s *State) RemoveConn(conn string) (*Player, bool) {
	id, ok := s.byConn[conn]
	if !ok {
		return nil, false
	}
	return s.RemovePlayer(id)
}

// RemovePlayer 移除玩家；如其为房主且仍有其他成员，按成员顺序选出第一个其他成员继任
func (s *State) RemovePlayer(playerID string) (*Player, bool) {
	p, ok := s.players[playerID]
	if !ok {
		return nil, false
	}
	delete(s.players, p.ID)
	if s.byConn[p.Conn] == p.ID {
		delete(s.byConn, p.Conn)
	}

	room, ok := s.rooms[p.RoomID]
	if !ok {
		s.log.Debugw("removed player without room", "player", p.ID, "room", p.RoomID)
		s.audit.PlayerLeft(s.playerEvent(p, nil))
		return p, true
	}

	if p.Hosting && room.PlayerCount() > 1 {
		for _, other := range room.Players() {
			if other.ID == p.ID {
				continue
			}
			other.Hosting = true
			notice := protocol.Marshal(s.stamp(protocol.NewHostAction(other.ID)))
			for _, member := range room.Players() {
				if member.ID != p.ID {
					s.sender.Send(member.Conn, notice)
				}
			}
			s.log.Infow("host migrated", "room", room.ID, "from", p.ID, "to", other.ID)
			break
		}
	}
	p.Hosting = false

	room.remove(p.ID)
	if room.PlayerCount() == 0 {
		s.deleteRoom(room.ID)
		s.log.Infow("room closed", "room", room.ID)
	} else {
		s.broadcastRoomInfo(room)
	}
	s.log.Debugw("player left", "player", p.ID, "room", room.ID, "count", room.PlayerCount())
	s.audit.PlayerLeft(s.playerEvent(p, room))
	return p, true
}

func (s *State) deleteRoom(id string) {
	delete(s.rooms, id)
	for i, rid := range s.roomOrder {
		if rid == id {
			s.roomOrder = append(s.roomOrder[:i], s.roomOrder[i+1:]...)
			break
		}
	}
}

func (s *State) PlayerByConn(conn string) *Player {
	if id, ok := s.byConn[conn]; ok {
		return s.players[id]
	}
	return nil
}

func (s *State) PlayerByID(id string) *Player {
	return s.players[id]
}

func (s *State) Room(id string) *Room {
	return s.rooms[id]
}

// PlayersInRoom 房间不存在时返回空
func (s *State) PlayersInRoom(roomID string) []*Player {
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return room.Players()
}

func (s *State) TotalPlayerCount() int {
	total := 0
	for _, r := range s.rooms {
		total += r.PlayerCount()
	}
	return total
}

func (s *State) RoomCount() int { return len(s.rooms) }

// Rooms 按创建顺序返回
func (s *State) Rooms() []*Room {
	out := make([]*Room, 0, len(s.roomOrder))
	for _, id := range s.roomOrder {
		out = append(out, s.rooms[id])
	}
	return out
}

// NameTaken 名称是否已被其他玩家占用（大小写不敏感）
func (s *State) NameTaken(name, exceptID string) bool {
	for id, p := range s.players {
		if id != exceptID && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// Conns 当前拥有玩家的所有连接
func (s *State) Conns() []string {
	out := make([]string, 0, len(s.byConn))
	for c := range s.byConn {
		out = append(out, c)
	}
	return out
}

func (s *State) stamp(a protocol.RPCAction) protocol.RPCAction {
	a.ID = protocol.NewID(nil)
	return a
}

// BroadcastRPC 重新分配消息 id 后发给房间全部成员；房间不存在时为空操作
func (s *State) BroadcastRPC(roomID string, a protocol.RPCAction) int {
	room, ok := s.rooms[roomID]
	if !ok {
		s.log.Debugw("broadcast to missing room", "room", roomID)
		return 0
	}
	payload := protocol.Marshal(s.stamp(a))
	if payload == nil {
		return 0
	}
	for _, p := range room.Players() {
		s.sender.Send(p.Conn, payload)
	}
	return room.PlayerCount()
}

// SendToAllInRoom 发给发送者所在房间的全部成员（包括发送者）
func (s *State) SendToAllInRoom(conn string, a protocol.RPCAction) int {
	p := s.PlayerByConn(conn)
	if p == nil {
		s.log.Debugw("rpc from connection without player", "conn", conn)
		return 0
	}
	return s.BroadcastRPC(p.RoomID, a)
}

// SendToAllInRoomByID 发送任意已序列化消息给房间成员
func (s *State) SendToAllInRoomByID(roomID string, payload []byte) int {
	room, ok := s.rooms[roomID]
	if !ok {
		s.log.Debugw("send to missing room", "room", roomID)
		return 0
	}
	for _, p := range room.Players() {
		s.sender.Send(p.Conn, payload)
	}
	return room.PlayerCount()
}

// SendTo 发给单个连接
func (s *State) SendTo(conn string, payload []byte) {
	if payload != nil {
		s.sender.Send(conn, payload)
	}
}

// SendRPCTo 重新分配 id 后发给单个连接
func (s *State) SendRPCTo(conn string, a protocol.RPCAction) {
	s.SendTo(conn, protocol.Marshal(s.stamp(a)))
}

func (s *State) roomInfo(kind string, room *Room, viewer *Player) protocol.RoomInfo {
	refs := make([]protocol.PlayerRef, 0, room.PlayerCount())
	for _, id := range room.order {
		refs = append(refs, protocol.PlayerRef{PlayerID: id, Local: id == viewer.ID, RoomID: room.ID})
	}
	return protocol.RoomInfo{
		Action:      kind,
		PlayerIDs:   refs,
		Scene:       room.Scene,
		ScenePath:   room.ScenePath,
		GameVersion: room.GameVersion,
		ID:          protocol.NewID(nil),
	}
}

func (s *State) broadcastRoomInfo(room *Room) {
	for _, p := range room.Players() {
		s.sender.Send(p.Conn, protocol.Marshal(s.roomInfo(protocol.MsgRoomInfo, room, p)))
	}
}

// SendCurrentPlayers 回复请求者所在房间的成员列表
func (s *State) SendCurrentPlayers(conn string) bool {
	p := s.PlayerByConn(conn)
	if p == nil {
		return false
	}
	room, ok := s.rooms[p.RoomID]
	if !ok {
		return false
	}
	s.sender.Send(conn, protocol.Marshal(s.roomInfo(protocol.MsgCurrentPlayers, room, p)))
	return true
}

// SendRoomList 每个房间一条消息；emptyOnly 只列出未满的房间，amount > 0 时限制条数
func (s *State) SendRoomList(conn string, emptyOnly bool, amount int) int {
	sent := 0
	for _, room := range s.Rooms() {
		if amount > 0 && sent >= amount {
			break
		}
		if emptyOnly && room.Full() {
			continue
		}
		s.sender.Send(conn, protocol.Marshal(protocol.RoomListEntry{
			Action:      protocol.MsgRoomListEntry,
			RoomName:    room.Name,
			RoomID:      room.ID,
			RoomVersion: room.GameVersion,
			PlayerCount: room.PlayerCount(),
		}))
		sent++
	}
	return sent
}

// Reconcile 清理房间内已不在全局索引中的成员，并删除空房间；返回清理的条目数
func (s *State) Reconcile() int {
	fixed := 0
	for _, room := range s.Rooms() {
		for _, p := range room.Players() {
			if cur, ok := s.players[p.ID]; ok && cur == p && cur.RoomID == room.ID {
				continue
			}
			room.remove(p.ID)
			fixed++
			s.log.Warnw("dropped stale room member", "room", room.ID, "player", p.ID)
		}
		if room.PlayerCount() == 0 {
			s.deleteRoom(room.ID)
		}
	}
	for id, p := range s.players {
		if room, ok := s.rooms[p.RoomID]; ok && room.Has(id) {
			continue
		}
		delete(s.players, id)
		if s.byConn[p.Conn] == id {
			delete(s.byConn, p.Conn)
		}
		fixed++
		s.log.Warnw("dropped orphan player", "player", id, "room", p.RoomID)
	}
	for conn, id := range s.byConn {
		if _, ok := s.players[id]; !ok {
			delete(s.byConn, conn)
		}
	}
	return fixed
}

// Snapshot 当前状态摘要，用于审计与管理端
func (s *State) Snapshot() audit.Snapshot {
	snap := audit.Snapshot{
		At:          s.now(),
		PlayerCount: s.TotalPlayerCount(),
		RoomCount:   len(s.rooms),
		Uptime:      s.now().Sub(s.startedAt),
	}
	for _, r := range s.Rooms() {
		snap.Rooms = append(snap.Rooms, audit.RoomSummary{
			ID:          r.ID,
			Name:        r.Name,
			GameVersion: r.GameVersion,
			Players:     r.PlayerCount(),
			MaxPlayers:  r.MaxPlayers,
		})
	}
	return snap
}

// Views 所有房间的只读副本
func (s *State) Views() []RoomView {
	out := make([]RoomView, 0, len(s.rooms))
	for _, r := range s.Rooms() {
		out = append(out, r.View())
	}
	return out
}

func (s *State) playerEvent(p *Player, room *Room) audit.PlayerEvent {
	e := audit.PlayerEvent{PlayerID: p.ID, Name: p.Name, RoomID: p.RoomID, At: s.now()}
	if room != nil {
		e.RoomName = room.Name
	}
	return e
}
