package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"protorelay/server/audit"
	"protorelay/server/protocol"
)

type fakeSender struct {
	sent map[string][][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][][]byte)}
}

func (f *fakeSender) Send(conn string, payload []byte) {
	f.sent[conn] = append(f.sent[conn], payload)
}

func (f *fakeSender) reset() { f.sent = make(map[string][][]byte) }

// decoded 返回发给 conn 的消息，按 action 字段过滤
func (f *fakeSender) decoded(t *testing.T, conn, action string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, b := range f.sent[conn] {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("payload is not json: %v", err)
		}
		if m["action"] == action {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) rpcs(t *testing.T, conn string) []protocol.RPC {
	t.Helper()
	var out []protocol.RPC
	for _, b := range f.sent[conn] {
		a, err := protocol.DecodeAction(b)
		if err != nil {
			continue
		}
		ra, ok := a.(protocol.RPCAction)
		if !ok {
			continue
		}
		r, err := ra.Parse()
		if err != nil {
			t.Fatalf("parse rpc: %v", err)
		}
		out = append(out, r)
	}
	return out
}

type auditRecorder struct {
	audit.Nop
	joins, leaves, snapshots int
}

func (a *auditRecorder) PlayerJoined(audit.PlayerEvent) { a.joins++ }
func (a *auditRecorder) PlayerLeft(audit.PlayerEvent)   { a.leaves++ }
func (a *auditRecorder) ServerSnapshot(audit.Snapshot)  { a.snapshots++ }

func newState(t *testing.T) (*State, *fakeSender, *auditRecorder) {
	t.Helper()
	fs := newFakeSender()
	ar := &auditRecorder{}
	return New(Options{Sender: fs, Audit: ar}), fs, ar
}

func arena() protocol.CreateRoom {
	return protocol.CreateRoom{RoomName: "Arena", Scene: "s", ScenePath: "p", GameVersion: "1.0", MaxPlayers: 8}
}

func checkInvariants(t *testing.T, s *State) {
	t.Helper()
	for id, r := range s.rooms {
		if r.PlayerCount() != len(r.players) {
			t.Fatalf("room %s count %d != members %d", id, r.PlayerCount(), len(r.players))
		}
		if r.PlayerCount() == 0 {
			t.Fatalf("empty room %s still indexed", id)
		}
	}
	if len(s.roomOrder) != len(s.rooms) {
		t.Fatalf("room order %d != rooms %d", len(s.roomOrder), len(s.rooms))
	}
}

func TestCreateRoomJoinsCreatorAsHost(t *testing.T) {
	t.Parallel()

	s, fs, ar := newState(t)
	room, p, err := s.CreateRoom("c1", arena())
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if s.RoomCount() != 1 || room.PlayerCount() != 1 {
		t.Fatalf("rooms=%d players=%d", s.RoomCount(), room.PlayerCount())
	}
	if !p.Hosting || p.Name != DefaultPlayerName || p.RoomID != room.ID {
		t.Fatalf("unexpected player %+v", p)
	}
	infos := fs.decoded(t, "c1", protocol.MsgRoomInfo)
	if len(infos) != 1 {
		t.Fatalf("room info broadcasts = %d, want 1", len(infos))
	}
	ids := infos[0]["playerIds"].([]any)
	if len(ids) != 1 || ids[0].(map[string]any)["local"] != true {
		t.Fatalf("room info = %v", infos[0])
	}
	if ar.joins != 1 || ar.snapshots != 1 {
		t.Fatalf("audit joins=%d snapshots=%d", ar.joins, ar.snapshots)
	}

	if _, _, err := s.CreateRoom("c1", arena()); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("second CreateRoom error = %v", err)
	}
	checkInvariants(t, s)
}

func TestJoinRoomGates(t *testing.T) {
	t.Parallel()

	s, _, _ := newState(t)
	req := arena()
	req.MaxPlayers = 2
	room, _, err := s.CreateRoom("host", req)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	tests := []struct {
		name    string
		conn    string
		roomID  string
		version string
		wantErr error
	}{
		{name: "missing room", conn: "a", roomID: "nope", version: "1.0", wantErr: ErrRoomNotFound},
		{name: "version differs by one character", conn: "a", roomID: room.ID, version: "1.0 ", wantErr: ErrVersionMismatch},
		{name: "already joined", conn: "host", roomID: room.ID, version: "1.0", wantErr: ErrAlreadyInRoom},
	}
	for _, tt := range tests {
		before := room.PlayerCount()
		if _, err := s.JoinRoom(tt.conn, tt.roomID, tt.version, false); !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: error = %v, want %v", tt.name, err, tt.wantErr)
		}
		if room.PlayerCount() != before {
			t.Fatalf("%s: room mutated", tt.name)
		}
	}

	if _, err := s.JoinRoom("b", room.ID, "1.0", false); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if _, err := s.JoinRoom("c", room.ID, "1.0", false); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("join full room error = %v", err)
	}
	if s.PlayerByConn("c") != nil {
		t.Fatal("rejected connection got a player")
	}
	checkInvariants(t, s)
}

func TestHostMigration(t *testing.T) {
	t.Parallel()

	s, fs, _ := newState(t)
	room, host, _ := s.CreateRoom("c1", arena())
	second, _ := s.JoinRoom("c2", room.ID, "1.0", false)
	third, _ := s.JoinRoom("c3", room.ID, "1.0", false)
	fs.reset()

	if _, ok := s.RemoveConn("c1"); !ok {
		t.Fatal("RemoveConn reported missing player")
	}
	if !second.Hosting || third.Hosting {
		t.Fatalf("host flags: second=%v third=%v", second.Hosting, third.Hosting)
	}
	if h := room.Host(); h == nil || h.ID != second.ID {
		t.Fatalf("room host = %v", h)
	}
	for _, conn := range []string{"c2", "c3"} {
		var notices int
		for _, r := range fs.rpcs(t, conn) {
			if nh, ok := r.(protocol.NewHost); ok {
				notices++
				if nh.NewHostID != second.ID {
					t.Fatalf("%s notified of %s", conn, nh.NewHostID)
				}
			}
		}
		if notices != 1 {
			t.Fatalf("%s got %d host notices", conn, notices)
		}
	}
	if len(fs.sent["c1"]) != 0 {
		t.Fatal("leaving player received messages")
	}
	if s.PlayerByID(host.ID) != nil {
		t.Fatal("host still indexed")
	}
	checkInvariants(t, s)
}

func TestRemoveIsIdempotentAndDeletesEmptyRoom(t *testing.T) {
	t.Parallel()

	s, _, ar := newState(t)
	room, p, _ := s.CreateRoom("c1", arena())

	if _, ok := s.RemovePlayer(p.ID); !ok {
		t.Fatal("first removal failed")
	}
	if s.Room(room.ID) != nil || s.RoomCount() != 0 {
		t.Fatal("empty room not deleted")
	}
	if _, ok := s.RemovePlayer(p.ID); ok {
		t.Fatal("second removal reported success")
	}
	if _, ok := s.RemoveConn("c1"); ok {
		t.Fatal("RemoveConn on absent connection reported success")
	}
	if ar.leaves != 1 {
		t.Fatalf("leaves audited = %d", ar.leaves)
	}
	checkInvariants(t, s)
}

func TestRandomJoinLeaveKeepsCounts(t *testing.T) {
	t.Parallel()

	s, _, _ := newState(t)
	room, _, _ := s.CreateRoom("c0", arena())
	roomID := room.ID
	conns := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	for round := 0; round < 20; round++ {
		for i, c := range conns {
			if (round+i)%3 == 0 {
				s.RemoveConn(c)
			} else if r := s.Room(roomID); r != nil {
				_, _ = s.JoinRoom(c, roomID, "1.0", false)
			}
			checkInvariants(t, s)
		}
	}
}

func TestBroadcastRPCRestampsID(t *testing.T) {
	t.Parallel()

	s, fs, _ := newState(t)
	room, _, _ := s.CreateRoom("c1", arena())
	_, _ = s.JoinRoom("c2", room.ID, "1.0", false)
	fs.reset()

	n := s.SendToAllInRoom("c1", protocol.RPCAction{RPC: `{"type":"chatmessage","message":"hi"}`, Sender: "p", ID: "client-id"})
	if n != 2 {
		t.Fatalf("delivered to %d, want 2", n)
	}
	msgs := fs.decoded(t, "c2", "rpc")
	if len(msgs) != 1 || msgs[0]["id"] == "client-id" || msgs[0]["sender"] != "p" {
		t.Fatalf("rpc = %v", msgs)
	}
	if s.BroadcastRPC("missing", protocol.ChatAction("x", "y")) != 0 {
		t.Fatal("broadcast to missing room delivered")
	}
	if s.SendToAllInRoom("stranger", protocol.ChatAction("x", "y")) != 0 {
		t.Fatal("connection without player delivered")
	}
}

func TestRoomListAndCurrentPlayers(t *testing.T) {
	t.Parallel()

	s, fs, _ := newState(t)
	full := arena()
	full.MaxPlayers = 1
	_, _, _ = s.CreateRoom("c1", full)
	open, _, _ := s.CreateRoom("c2", arena())
	fs.reset()

	if n := s.SendRoomList("q", false, 0); n != 2 {
		t.Fatalf("room list = %d entries", n)
	}
	if n := s.SendRoomList("q", true, 0); n != 1 {
		t.Fatalf("emptyonly list = %d entries", n)
	}
	if n := s.SendRoomList("q", false, 1); n != 1 {
		t.Fatalf("amount-limited list = %d entries", n)
	}
	entries := fs.decoded(t, "q", protocol.MsgRoomListEntry)
	if entries[2]["roomId"] != open.ID {
		t.Fatalf("emptyonly returned %v", entries[2])
	}

	if !s.SendCurrentPlayers("c2") {
		t.Fatal("SendCurrentPlayers failed")
	}
	if got := fs.decoded(t, "c2", protocol.MsgCurrentPlayers); len(got) != 1 {
		t.Fatalf("currentplayers messages = %d", len(got))
	}
	if s.SendCurrentPlayers("q") {
		t.Fatal("SendCurrentPlayers for a connection without player")
	}
}

func TestReconcileDropsStaleMembers(t *testing.T) {
	t.Parallel()

	s, _, _ := newState(t)
	room, _, _ := s.CreateRoom("c1", arena())
	ghost, _ := s.JoinRoom("c2", room.ID, "1.0", false)
	delete(s.players, ghost.ID)

	if fixed := s.Reconcile(); fixed != 1 {
		t.Fatalf("Reconcile fixed %d", fixed)
	}
	if room.Has(ghost.ID) || room.PlayerCount() != 1 {
		t.Fatalf("stale member kept, count %d", room.PlayerCount())
	}
	checkInvariants(t, s)
}

func TestNameTakenAndSnapshot(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	s := New(Options{Now: func() time.Time { return now }})
	_, p, _ := s.CreateRoom("c1", arena())
	p.Name = "Alice"
	if !s.NameTaken("alice", "") {
		t.Fatal("name lookup should be case-insensitive")
	}
	if s.NameTaken("Alice", p.ID) {
		t.Fatal("own name reported as taken")
	}
	snap := s.Snapshot()
	if snap.PlayerCount != 1 || snap.RoomCount != 1 || len(snap.Rooms) != 1 || !snap.At.Equal(now) {
		t.Fatalf("snapshot = %+v", snap)
	}
}
