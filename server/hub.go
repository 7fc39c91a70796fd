// Package server 中继服务：Hub 串行处理所有会话状态，连接协程只负责收发
package server

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"protorelay/server/audit"
	"protorelay/server/health"
	"protorelay/server/pipeline"
	"protorelay/server/protocol"
	"protorelay/server/session"
	"protorelay/server/transport"
)

var (
	ErrHubStopped     = errors.New("hub stopped")
	ErrPlayerNotFound = errors.New("player not found")
)

// Options Hub 的运行参数；零值字段使用默认值
type Options struct {
	TickInterval         time.Duration
	SweepInterval        time.Duration
	ReconcileInterval    time.Duration
	SnapshotInterval     time.Duration
	KickDelay            time.Duration
	MaxFrameBytes        int64
	MaxDecompressedBytes int64
	QueueCeiling         int
	FrameRate            float64
	FrameBurst           int
	Health               health.Config
	Audit                audit.Sink
	Log                  *zap.SugaredLogger
	Now                  func() time.Time
}

func (o *Options) defaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second / 30
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 3 * time.Second
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = 30 * time.Second
	}
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = time.Minute
	}
	if o.KickDelay <= 0 {
		o.KickDelay = time.Second
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 1 << 20
	}
	if o.MaxDecompressedBytes <= 0 {
		o.MaxDecompressedBytes = 4 << 20
	}
	if o.QueueCeiling <= 0 {
		o.QueueCeiling = int(o.MaxFrameBytes)
	}
	if o.FrameRate <= 0 {
		o.FrameRate = 120
	}
	if o.FrameBurst <= 0 {
		o.FrameBurst = 240
	}
	if o.Audit == nil {
		o.Audit = audit.Nop{}
	}
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Hub 会话状态的唯一所有者。State 与 Pipeline 只在 Run 的协程中使用；
// 其余组件（连接索引、出站批量器、健康监控、指标）并发安全。
type Hub struct {
	opts    Options
	state   *session.State
	pipe    *pipeline.Pipeline
	batcher *transport.Batcher
	health  *health.Monitor
	conns   *ConnManager
	metrics *HubMetrics
	feed    *Feed
	audit   audit.Sink
	log     *zap.SugaredLogger
	inbox   chan any
	done    chan struct{}
	started time.Time
}

func NewHub(opts Options) *Hub {
	opts.defaults()
	h := &Hub{
		opts:    opts,
		health:  health.NewMonitor(opts.Health),
		conns:   NewConnManager(),
		metrics: &HubMetrics{},
		feed:    NewFeed(),
		audit:   opts.Audit,
		log:     opts.Log,
		inbox:   make(chan any, 256),
		done:    make(chan struct{}),
		started: opts.Now(),
	}
	h.batcher = transport.NewBatcher(opts.QueueCeiling, h.onOverflow, opts.Log.Named("batcher"))
	h.state = session.New(session.Options{
		Sender: h.batcher,
		Audit:  opts.Audit,
		Log:    opts.Log.Named("session"),
		Now:    opts.Now,
	})
	h.pipe = pipeline.New(opts.Log.Named("pipeline"))
	return h
}

// State 只能在处理器或 Exec 回调中使用
func (h *Hub) State() *session.State        { return h.state }
func (h *Hub) Pipeline() *pipeline.Pipeline { return h.pipe }
func (h *Hub) Health() *health.Monitor      { return h.health }
func (h *Hub) Metrics() *HubMetrics         { return h.metrics }
func (h *Hub) Conns() *ConnManager          { return h.conns }
func (h *Hub) Feed() *Feed                  { return h.feed }
func (h *Hub) Done() <-chan struct{}        { return h.done }

func (h *Hub) handle(cmd any) {
	switch c := cmd.(type) {
	case inbound:
		for _, a := range c.Actions {
			h.dispatch(c.ConnID, a, c.At)
		}
	case deliver:
		if h.conns.Get(c.ConnID) == nil {
			h.log.Debugw("drop delayed actions for closed connection", "conn", c.ConnID)
			return
		}
		h.deliverNow(c.ConnID, c.Actions)
	case disconnect:
		h.drop(c.ConnID, c.Reason)
	case exec:
		c.Fn(h.state)
		close(c.Done)
	default:
		h.log.Errorw("unknown hub command", "type", cmd)
	}
}

// post 投递命令；Hub 已停止时返回 false
func (h *Hub) post(cmd any) bool {
	select {
	case h.inbox <- cmd:
		return true
	case <-h.done:
		return false
	}
}

// Register 登记新连接；连接协程启动前调用
func (h *Hub) Register(c Conn) {
	h.conns.Add(c)
	h.batcher.Register(c.ID(), c)
	h.health.Track(c.ID(), h.opts.Now())
	h.log.Debugw("connection registered", "conn", c.ID(), "total", h.conns.Len())
}

// Submit 把一帧解析出的动作交给 Hub，保持帧内顺序
func (h *Hub) Submit(connID string, actions []protocol.Action, at time.Time) bool {
	return h.post(inbound{ConnID: connID, Actions: actions, At: at})
}

// Disconnect 连接关闭后清理；可重复调用
func (h *Hub) Disconnect(connID, reason string) {
	if !h.post(disconnect{ConnID: connID, Reason: reason}) {
		h.conns.Remove(connID)
	}
}

// Exec 在 Hub 协程中执行 fn 并等待完成
func (h *Hub) Exec(ctx context.Context, fn func(st *session.State)) error {
	done := make(chan struct{})
	select {
	case h.inbox <- exec{Fn: fn, Done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}

// dispatch 让一个动作通过中间件管线，再执行结果
func (h *Hub) dispatch(conn string, a protocol.Action, at time.Time) {
	ctx := &pipeline.Context{ConnID: conn, Time: at}
	if p := h.state.PlayerByConn(conn); p != nil {
		ctx.Player = p
		ctx.Room = h.state.Room(p.RoomID)
	}
	out := h.pipe.Process(ctx, a)
	switch {
	case out.Fault != nil:
		h.metrics.IncFaults()
	case out.Blocked:
		h.metrics.IncBlocked()
		return
	case out.Modified:
		h.metrics.IncModified()
	}

	if out.Action != nil {
		h.apply(conn, out.Action)
	}
	h.deliverNow(conn, out.Additional)
	for _, b := range out.Delayed {
		h.schedule(conn, b)
	}
}

// deliverNow 附加动作只发给发起连接
func (h *Hub) deliverNow(conn string, actions []protocol.Action) {
	for _, a := range actions {
		if ra, ok := a.(protocol.RPCAction); ok {
			h.state.SendRPCTo(conn, ra)
			continue
		}
		b, err := protocol.EncodeAction(a)
		if err != nil {
			h.log.Errorw("encode additional action", "conn", conn, "action", a.Type(), "err", err)
			continue
		}
		h.state.SendTo(conn, b)
	}
}

func (h *Hub) schedule(conn string, b pipeline.Batch) {
	time.AfterFunc(b.Delay, func() {
		h.post(deliver{ConnID: conn, Actions: b.Actions})
	})
}

// leave 与显式 leave 相同的清理：移除玩家、释放处理器状态、通知原房间
func (h *Hub) leave(conn string) *session.Player {
	p, ok := h.state.RemoveConn(conn)
	if !ok {
		return nil
	}
	h.pipe.Release(p.ID)
	if h.state.Room(p.RoomID) != nil {
		h.metrics.AddForwarded(h.state.BroadcastRPC(p.RoomID, protocol.DisconnectAction(p.Name)))
	}
	h.log.Infow("player left", "player", p.ID, "name", p.Name, "room", p.RoomID, "conn", conn)
	return p
}

// drop 连接彻底移除
func (h *Hub) drop(conn, reason string) {
	h.leave(conn)
	h.batcher.Unregister(conn)
	h.health.Forget(conn)
	if h.conns.Remove(conn) != nil {
		h.log.Infow("connection closed", "conn", conn, "reason", reason, "total", h.conns.Len())
	}
}

// terminate 强制断开：先立即发送错误说明，再关闭连接
func (h *Hub) terminate(c Conn, code, msg string, closeCode int) {
	h.metrics.IncForcedCloses()
	h.log.Warnw("terminating connection", "conn", c.ID(), "code", code, "msg", msg)
	h.notifyAndClose(c, code, msg, closeCode)
}

func (h *Hub) notifyAndClose(c Conn, code, msg string, closeCode int) {
	if err := transport.SendNow(c, protocol.Marshal(protocol.NewErrorNotice(code, msg))); err != nil {
		h.log.Debugw("error notice not sent", "conn", c.ID(), "err", err)
	}
	c.Close(closeCode, msg)
}

// onOverflow 由批量器调用（可能在 Hub 协程内），不得阻塞
func (h *Hub) onOverflow(connID string) {
	h.metrics.IncQueueOverflows()
	if c := h.conns.Get(connID); c != nil {
		c.Close(websocket.CloseTryAgainLater, "outbound queue overflow")
	}
}

// newFrameLimiter 每连接的入站帧率限制
func (h *Hub) newFrameLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(h.opts.FrameRate), h.opts.FrameBurst)
}

// Ingest 处理一帧入站数据，在连接的读协程中调用。返回 false 表示连接已被终止。
func (h *Hub) Ingest(c Conn, limiter *rate.Limiter, frame []byte, now time.Time) bool {
	id := c.ID()
	h.metrics.IncFramesIn()
	if v := h.health.RecordMessage(id, now); v == health.Zombie {
		h.terminate(c, v.String(), v.Notice(), websocket.ClosePolicyViolation)
		return false
	}
	if limiter != nil && !limiter.AllowN(now, 1) {
		h.metrics.IncFramesLimited()
		return h.protocolError(c, "frame rate exceeded")
	}

	text, enc, err := transport.DecodeFrame(frame, int(h.opts.MaxDecompressedBytes))
	if errors.Is(err, transport.ErrFrameTooLarge) {
		h.terminate(c, "frame_too_large", "Frame too large", websocket.CloseMessageTooBig)
		return false
	}
	if err != nil {
		h.metrics.AddProtocolErrors(1)
		h.log.Warnw("dropping corrupt frame", "conn", id, "size", len(frame), "err", err)
		return h.protocolError(c, err.Error())
	}

	actions, bad := transport.ParseLines(text, h.log)
	if bad > 0 {
		h.metrics.AddProtocolErrors(bad)
	}
	if len(actions) == 0 {
		if bad > 0 {
			return h.protocolError(c, "no valid actions in frame")
		}
		return true
	}
	h.health.RecordSuccess(id)
	h.metrics.AddActionsIn(len(actions))
	h.log.Debugw("frame decoded", "conn", id, "encoding", enc, "actions", len(actions), "bad", bad)
	return h.Submit(id, actions, now)
}

func (h *Hub) protocolError(c Conn, reason string) bool {
	if v := h.health.RecordError(c.ID()); v == health.TooManyErrors {
		h.terminate(c, v.String(), v.Notice(), websocket.ClosePolicyViolation)
		return false
	}
	h.log.Debugw("protocol error", "conn", c.ID(), "reason", reason)
	return true
}

// Shutdown 立即通知所有客户端并关闭连接
func (h *Hub) Shutdown(notice string) {
	a := protocol.SystemAnnouncement(notice)
	a.ID = protocol.NewID(nil)
	payload := protocol.Marshal(a)
	conns := h.conns.All()
	for _, c := range conns {
		if err := transport.SendNow(c, payload); err != nil {
			h.log.Debugw("shutdown notice not sent", "conn", c.ID(), "err", err)
		}
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	h.log.Infow("shutdown notice sent", "connections", len(conns))
}
