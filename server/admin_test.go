package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"protorelay/server/plugin"
	"protorelay/server/protocol"
)

func newAdminMux(t *testing.T, h *Hub, token string) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewAdmin(h, token, []plugin.Info{{ID: "relay.builtin", Name: "Builtin"}}, nil).Routes(mux)
	return mux
}

func TestAdminGuard(t *testing.T) {
	t.Parallel()

	h := newTestHub(t, nil)
	mux := newAdminMux(t, h, "secret")

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "nope", "", http.StatusUnauthorized},
		{"header", "secret", "", http.StatusOK},
		{"query", "", "?token=secret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/state"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("X-Admin-Token", tc.header)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAdminStateReportsRooms(t *testing.T) {
	t.Parallel()

	h := newTestHub(t, nil)
	a := newFakeConn("a")
	h.Register(a)
	send(t, h, a, time.Now(), arena())
	a.next(t, action(protocol.MsgRoomInfo))

	rec := httptest.NewRecorder()
	newAdminMux(t, h, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st AdminState
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Snapshot.RoomCount != 1 || len(st.Rooms) != 1 || st.Rooms[0].Name != "Arena" {
		t.Fatalf("state = %+v", st)
	}
	if len(st.Connections) != 1 || len(st.Plugins) != 1 {
		t.Fatalf("connections=%d plugins=%d", len(st.Connections), len(st.Plugins))
	}
	if len(st.Handlers) == 0 {
		t.Fatal("no handlers reported")
	}
}

func TestAdminBroadcast(t *testing.T) {
	t.Parallel()

	h := newTestHub(t, nil)
	a := newFakeConn("a")
	h.Register(a)
	mux := newAdminMux(t, h, "")

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/broadcast", strings.NewReader(body)))
		return rec
	}

	rec := post(`{"message":"maintenance soon"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var resp struct {
		Recipients int `json:"recipients"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Recipients != 1 {
		t.Fatalf("recipients = %d", resp.Recipients)
	}
	a.next(t, chatWith(AdminChatText("maintenance soon")))

	if rec := post(`{"message":"hi","roomId":"missing"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("missing room status = %d", rec.Code)
	}
	if rec := post(`{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", rec.Code)
	}
}

func TestAdminKickUnknownPlayer(t *testing.T) {
	t.Parallel()

	h := newTestHub(t, nil)
	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"playerId":"ghost","reason":"x"}`)
	newAdminMux(t, h, "").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/kick", body))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	newAdminMux(t, h, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/kick", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", rec.Code)
	}
}

func TestAdminFeedForwardsBroadcast(t *testing.T) {
	t.Parallel()

	h := newTestHub(t, nil)
	srv := httptest.NewServer(newAdminMux(t, h, "secret"))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/feed?token=secret"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Feed().Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("feed never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	newAdminMux(t, h, "secret").ServeHTTP(rec, func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/admin/broadcast", strings.NewReader(`{"message":"hello feed"}`))
		r.Header.Set("X-Admin-Token", "secret")
		return r
	}())
	if rec.Code != http.StatusOK {
		t.Fatalf("broadcast status = %d", rec.Code)
	}

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var m struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := ws.ReadJSON(&m); err != nil {
			t.Fatal(err)
		}
		if m.Type != FeedChat {
			continue
		}
		if !bytes.Contains(m.Data, []byte("hello feed")) {
			t.Fatalf("chat data = %s", m.Data)
		}
		return
	}
}

func TestAdminFeedRequiresUpgrade(t *testing.T) {
	t.Parallel()

	h := newTestHub(t, nil)
	rec := httptest.NewRecorder()
	newAdminMux(t, h, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/feed", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	h := newTestHub(t, nil)
	rec := httptest.NewRecorder()
	newAdminMux(t, h, "secret").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["pipeline"]; !ok {
		t.Fatalf("metrics = %v", m)
	}
}
