package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Async 把调用放入有界队列，由单独协程投递；队列满时丢弃并计数
type Async struct {
	inner  Sink
	queue  chan func(Sink)
	log    *zap.SugaredLogger
	closed atomic.Bool
	wg     sync.WaitGroup
	once   sync.Once
	stop   chan struct{}

	delivered   atomic.Uint64
	dropped     atomic.Uint64
	lastDropLog atomic.Int64
}

// NewAsync buffer <= 0 时使用 256
func NewAsync(inner Sink, buffer int, log *zap.SugaredLogger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &Async{
		inner: inner,
		queue: make(chan func(Sink), buffer),
		log:   log,
		stop:  make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for {
		select {
		case fn := <-a.queue:
			a.deliver(fn)
		case <-a.stop:
			for {
				select {
				case fn := <-a.queue:
					a.deliver(fn)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) deliver(fn func(Sink)) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Errorw("audit sink panic", "panic", r)
		}
	}()
	fn(a.inner)
	a.delivered.Add(1)
}

func (a *Async) publish(fn func(Sink)) {
	if a.closed.Load() {
		return
	}
	select {
	case a.queue <- fn:
	default:
		a.dropped.Add(1)
		now := time.Now().UnixNano()
		next := a.lastDropLog.Load()
		if now >= next && a.lastDropLog.CompareAndSwap(next, now+int64(5*time.Second)) {
			a.log.Warnw("audit queue full, dropping records", "dropped", a.dropped.Load())
		}
	}
}

// Stats 已投递与已丢弃的记录数
func (a *Async) Stats() (delivered, dropped uint64) {
	return a.delivered.Load(), a.dropped.Load()
}

// Close 停止接收并尽量投递剩余记录
func (a *Async) Close(ctx context.Context) error {
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.stop)
	})
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) PlayerJoined(e PlayerEvent) { a.publish(func(s Sink) { s.PlayerJoined(e) }) }
func (a *Async) PlayerLeft(e PlayerEvent)   { a.publish(func(s Sink) { s.PlayerLeft(e) }) }
func (a *Async) ChatMessage(e ChatEvent)    { a.publish(func(s Sink) { s.ChatMessage(e) }) }
func (a *Async) PlayerStats(e StatsEvent)   { a.publish(func(s Sink) { s.PlayerStats(e) }) }
func (a *Async) AdminAction(e AdminEvent)   { a.publish(func(s Sink) { s.AdminAction(e) }) }
func (a *Async) ServerSnapshot(e Snapshot)  { a.publish(func(s Sink) { s.ServerSnapshot(e) }) }
