package protocol

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
)

func TestDecodeAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Action
		wantErr error
	}{
		{
			name:  "create room",
			input: `{"action":"createRoom","roomName":"Arena","scene":"s1","scenepath":"Assets/s1","gameversion":"1.0","maxplayers":8}`,
			want:  CreateRoom{RoomName: "Arena", Scene: "s1", ScenePath: "Assets/s1", GameVersion: "1.0", MaxPlayers: 8},
		},
		{
			name:  "create room with name alias",
			input: `{"action":"createRoom","name":"Arena","gameversion":"1.0","maxplayers":8}`,
			want:  CreateRoom{RoomName: "Arena", GameVersion: "1.0", MaxPlayers: 8},
		},
		{
			name:  "action type is case insensitive",
			input: `{"action":"GETROOMLIST","emptyonly":true}`,
			want:  GetRoomList{EmptyOnly: true},
		},
		{
			name:  "join room",
			input: `{"action":"joinRoom","roomId":"r1","gameversion":"1.0"}`,
			want:  JoinRoom{RoomID: "r1", GameVersion: "1.0"},
		},
		{
			name:  "rpc",
			input: `{"action":"rpc","rpc":"{\"type\":\"chatmessage\",\"message\":\"hi\"}","sender":"p1","id":"m1"}`,
			want:  RPCAction{RPC: `{"type":"chatmessage","message":"hi"}`, Sender: "p1", ID: "m1"},
		},
		{name: "current players", input: `{"action":"getcurrentplayers"}`, want: GetCurrentPlayers{}},
		{name: "leave", input: `{"action":"leave"}`, want: Leave{}},
		{name: "unknown", input: `{"action":"dance"}`, wantErr: ErrUnknownAction},
		{name: "empty", input: ``, wantErr: ErrEmptyAction},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeAction([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeAction() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeAction() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("DecodeAction() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeActionMalformedJSON(t *testing.T) {
	t.Parallel()

	if _, err := DecodeAction([]byte(`{"action":`)); err == nil {
		t.Fatal("expected error for truncated json")
	}
}

func TestEncodeActionCarriesTag(t *testing.T) {
	t.Parallel()

	b, err := EncodeAction(JoinRoom{RoomID: "r1", GameVersion: "2"})
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["action"] != "joinRoom" || m["roomId"] != "r1" {
		t.Fatalf("unexpected encoding: %s", b)
	}

	back, err := DecodeAction(b)
	if err != nil {
		t.Fatalf("DecodeAction: %v", err)
	}
	if back != (JoinRoom{RoomID: "r1", GameVersion: "2"}) {
		t.Fatalf("decoded = %#v", back)
	}
}

func TestParseRPC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, r RPC)
	}{
		{
			name:    "player info",
			payload: `{"type":"playerinfo","health":55.5,"latency":120,"crouching":true}`,
			check: func(t *testing.T, r RPC) {
				pi, ok := r.(PlayerInfo)
				if !ok {
					t.Fatalf("got %T", r)
				}
				if pi.Health != 55.5 || pi.Latency != 120 || !pi.Crouching {
					t.Fatalf("unexpected %#v", pi)
				}
			},
		},
		{
			name:    "sync transform",
			payload: `{"type":"SyncTransform","id":"obj","posx":1,"posy":2,"posz":3}`,
			check: func(t *testing.T, r RPC) {
				st, ok := r.(SyncTransform)
				if !ok {
					t.Fatalf("got %T", r)
				}
				if st.ObjectID != "obj" || st.PosX != 1 || st.PosZ != 3 {
					t.Fatalf("unexpected %#v", st)
				}
			},
		},
		{
			name:    "player spawn",
			payload: `{"type":"playerspawn"}`,
			check: func(t *testing.T, r RPC) {
				if _, ok := r.(PlayerSpawn); !ok {
					t.Fatalf("got %T", r)
				}
			},
		},
		{
			name:    "unknown kept verbatim",
			payload: `{"type":"emote","name":"wave"}`,
			check: func(t *testing.T, r RPC) {
				u, ok := r.(UnknownRPC)
				if !ok {
					t.Fatalf("got %T", r)
				}
				if u.Kind != "emote" || string(u.Raw) != `{"type":"emote","name":"wave"}` {
					t.Fatalf("unexpected %#v", u)
				}
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := ParseRPC(tt.payload)
			if err != nil {
				t.Fatalf("ParseRPC: %v", err)
			}
			tt.check(t, r)
		})
	}
}

func TestParseRPCErrors(t *testing.T) {
	t.Parallel()

	if _, err := ParseRPC(""); !errors.Is(err, ErrEmptyRPC) {
		t.Fatalf("empty payload error = %v", err)
	}
	if _, err := ParseRPC("not json"); err == nil || errors.Is(err, ErrMalformedRPC) {
		t.Fatalf("invalid json error = %v", err)
	}
	for _, payload := range []string{
		`{"type":"playerinfo","health":"full"}`,
		`{"type":"playerinfo","health":500,"crouching":"yes"}`,
		`{"type":"SyncTransform","id":7}`,
	} {
		if _, err := ParseRPC(payload); !errors.Is(err, ErrMalformedRPC) {
			t.Fatalf("%s: error = %v, want ErrMalformedRPC", payload, err)
		}
	}
}

func TestEncodeRPCRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := EncodeRPC(NewHost{NewHostID: "abc"})
	if err != nil {
		t.Fatalf("EncodeRPC: %v", err)
	}
	if s != `{"type":"newhost","newhostid":"abc"}` {
		t.Fatalf("EncodeRPC = %s", s)
	}
	r, err := ParseRPC(s)
	if err != nil {
		t.Fatalf("ParseRPC: %v", err)
	}
	if r != (NewHost{NewHostID: "abc"}) {
		t.Fatalf("round trip = %#v", r)
	}
}

func TestFactories(t *testing.T) {
	t.Parallel()

	a := SystemAnnouncement("restart soon")
	if a.Sender != ServerSender {
		t.Fatalf("sender = %q", a.Sender)
	}
	r, err := a.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := r.(ChatMessage).Message; got != "<color=yellow>[SYSTEM]</color> restart soon" {
		t.Fatalf("announcement = %q", got)
	}

	w, _ := WelcomeAction("").Parse()
	if got := w.(ChatMessage).Message; got != "<color=green>Welcome to the server!</color>" {
		t.Fatalf("welcome = %q", got)
	}

	d, _ := DisconnectAction("").Parse()
	if got := d.(ChatMessage).Message; !strings.Contains(got, "A player left") {
		t.Fatalf("disconnect = %q", got)
	}

	nh, _ := NewHostAction("p2").Parse()
	if nh != (NewHost{NewHostID: "p2"}) {
		t.Fatalf("newhost = %#v", nh)
	}
}

func TestNewID(t *testing.T) {
	t.Parallel()

	pattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{8}-[0-9a-f]{8}-[0-9a-f]{8}$`)
	if id := NewID(nil); !pattern.MatchString(id) {
		t.Fatalf("NewID format = %q", id)
	}

	calls := 0
	id := NewID(func(string) bool {
		calls++
		return calls < 3
	})
	if calls != 3 || id == "" {
		t.Fatalf("NewID retried %d times", calls)
	}
}

func TestRandomSuffix(t *testing.T) {
	t.Parallel()

	s := RandomSuffix(3)
	if len(s) != 3 || strings.Trim(s, base36) != "" {
		t.Fatalf("RandomSuffix = %q", s)
	}
}
