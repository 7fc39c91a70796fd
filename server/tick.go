package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"protorelay/server/transport"
)

// Run 串行处理收件箱与周期任务，直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	go h.batcher.Run(ctx, h.opts.TickInterval, func(rep transport.FlushReport, d time.Duration) {
		h.metrics.AddFlush(rep, d.Nanoseconds())
	})

	sweep := time.NewTicker(h.opts.SweepInterval)
	reconcile := time.NewTicker(h.opts.ReconcileInterval)
	snapshot := time.NewTicker(h.opts.SnapshotInterval)
	defer sweep.Stop()
	defer reconcile.Stop()
	defer snapshot.Stop()

	h.log.Infow("hub started", "tick", h.opts.TickInterval, "sweep", h.opts.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			h.log.Info("hub stopped")
			return
		case cmd := <-h.inbox:
			h.handle(cmd)
		case <-sweep.C:
			h.sweep(h.opts.Now())
		case <-reconcile.C:
			if n := h.state.Reconcile(); n > 0 {
				h.log.Warnw("reconciled room membership", "fixed", n)
			}
		case <-snapshot.C:
			h.audit.ServerSnapshot(h.state.Snapshot())
		}
	}
}

// sweep 驱逐超时没有任何事件的连接
func (h *Hub) sweep(now time.Time) {
	for _, id := range h.health.Inactive(now) {
		h.metrics.IncEvictions()
		h.log.Infow("evicting inactive connection", "conn", id)
		c := h.conns.Get(id)
		h.drop(id, "inactivity")
		if c != nil {
			h.notifyAndClose(c, "inactive", "Disconnected for inactivity", websocket.CloseNormalClosure)
		}
	}
}
