package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"protorelay/server/audit"
	"protorelay/server/health"
	"protorelay/server/plugin"
	"protorelay/server/session"
)

const adminTimeout = 2 * time.Second

// Admin 管理与监控接口
type Admin struct {
	hub     *Hub
	token   string
	plugins []plugin.Info
	log     *zap.SugaredLogger
}

func NewAdmin(hub *Hub, token string, plugins []plugin.Info, log *zap.SugaredLogger) *Admin {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Admin{hub: hub, token: token, plugins: plugins, log: log}
}

// Routes 注册管理接口；JSON 响应按客户端能力 gzip 压缩
func (a *Admin) Routes(mux *http.ServeMux) {
	mux.Handle("/admin/state", gzhttp.GzipHandler(a.guard(a.HandleState)))
	mux.Handle("/admin/kick", a.guard(a.HandleKick))
	mux.Handle("/admin/broadcast", a.guard(a.HandleBroadcast))
	mux.Handle("/admin/feed", a.guard(a.HandleFeed))
	mux.Handle("/metrics", gzhttp.GzipHandler(http.HandlerFunc(a.HandleMetrics)))
}

// guard 配置了令牌时要求 X-Admin-Token 头或 token 参数
func (a *Admin) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.token != "" {
			got := r.Header.Get("X-Admin-Token")
			if got == "" {
				got = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// AdminState GET /admin/state 的响应
type AdminState struct {
	Snapshot    audit.Snapshot      `json:"snapshot"`
	Rooms       []session.RoomView  `json:"rooms"`
	Connections []health.ConnState  `json:"connections"`
	Plugins     []plugin.Info       `json:"plugins"`
	Handlers    map[string][]string `json:"handlers"`
	Pipeline    map[string]int64    `json:"pipeline"`
	Metrics     map[string]any      `json:"metrics"`
}

// State 在 Hub 协程中采集一致的快照
func (a *Admin) State(ctx context.Context) (AdminState, error) {
	var out AdminState
	err := a.hub.Exec(ctx, func(st *session.State) {
		out.Snapshot = st.Snapshot()
		out.Rooms = st.Views()
	})
	if err != nil {
		return AdminState{}, err
	}
	out.Connections = a.hub.health.Snapshot()
	out.Plugins = a.plugins
	out.Handlers = a.hub.pipe.HandlerNames()
	out.Pipeline = a.hub.pipe.Stats()
	out.Metrics = a.hub.metrics.Snapshot()
	return out, nil
}

// HandleState GET /admin/state
func (a *Admin) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	st, err := a.State(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleKick POST /admin/kick {"playerId": "...", "reason": "..."}
func (a *Admin) HandleKick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		PlayerID string `json:"playerId"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PlayerID == "" {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	if err := a.hub.Kick(ctx, body.PlayerID, body.Reason); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HandleBroadcast POST /admin/broadcast {"message": "...", "roomId": ""}
func (a *Admin) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Message string `json:"message"`
		RoomID  string `json:"roomId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	n, err := a.hub.Broadcast(ctx, body.RoomID, body.Message)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "recipients": n})
}

func (a *Admin) fail(w http.ResponseWriter, err error) {
	if IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	a.log.Warnw("admin request failed", "err", err)
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
}

// HandleMetrics GET /metrics
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"connections": a.hub.conns.Len(),
		"uptime_s":    int64(a.hub.opts.Now().Sub(a.hub.started).Seconds()),
		"metrics":     a.hub.metrics.Snapshot(),
		"pipeline":    a.hub.pipe.Stats(),
		"feed": map[string]any{
			"subscribers": a.hub.feed.Subscribers(),
			"dropped":     a.hub.feed.Dropped(),
		},
	}
	writeJSON(w, http.StatusOK, payload)
}

// HandleFeed 管理端 WebSocket：转发聊天副本与管理事件，每秒推送一次遥测
func (a *Admin) HandleFeed(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warnw("feed upgrade failed", "err", err)
		return
	}
	defer ws.Close()

	msgs, cancel := a.hub.feed.Subscribe(64)
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	a.log.Infow("admin feed connected", "remote", r.RemoteAddr)
	for {
		var m FeedMessage
		select {
		case <-gone:
			a.log.Infow("admin feed closed", "remote", r.RemoteAddr)
			return
		case <-a.hub.Done():
			return
		case m = <-msgs:
		case <-ticker.C:
			ctx, cancelState := context.WithTimeout(context.Background(), adminTimeout)
			st, err := a.State(ctx)
			cancelState()
			if err != nil {
				continue
			}
			m = FeedMessage{Type: FeedTelemetry, Data: st}
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(m); err != nil {
			return
		}
	}
}
