package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

var (
	ErrQueueOverflow = errors.New("outbound queue overflow")
	ErrUnknownConn   = errors.New("unknown connection")
	ErrSinkBusy      = errors.New("sink not ready")
)

// Sink 连接的非阻塞写出端；返回 false 表示本次无法写出（慢客户端）
type Sink interface {
	TrySend(frame []byte) bool
}

// FlushReport 单次 Flush 的统计
type FlushReport struct {
	Frames          int
	Messages        int
	RawBytes        int
	CompressedBytes int
	Deferred        int // 写出失败、重新入队的连接数
}

type queue struct {
	sink Sink
	msgs [][]byte
	size int
}

// Batcher 每连接的出站队列；按 Tick 合并、gzip 压缩后一次写出
type Batcher struct {
	mu         sync.Mutex
	queues     map[string]*queue
	ceiling    int
	onOverflow func(connID string)
	log        *zap.SugaredLogger
}

// NewBatcher ceiling 为单个连接可积压的最大字节数；onOverflow 在超限时调用（锁外）
func NewBatcher(ceiling int, onOverflow func(connID string), log *zap.SugaredLogger) *Batcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Batcher{
		queues:     make(map[string]*queue),
		ceiling:    ceiling,
		onOverflow: onOverflow,
		log:        log,
	}
}

func (b *Batcher) Register(connID string, sink Sink) {
	b.mu.Lock()
	b.queues[connID] = &queue{sink: sink}
	b.mu.Unlock()
}

// Unregister 丢弃尚未发送的消息
func (b *Batcher) Unregister(connID string) {
	b.mu.Lock()
	delete(b.queues, connID)
	b.mu.Unlock()
}

// Pending 当前积压的消息数与字节数
func (b *Batcher) Pending(connID string) (msgs, size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[connID]; ok {
		return len(q.msgs), q.size
	}
	return 0, 0
}

// Enqueue 追加一条已序列化的消息，等待下一个 Tick
func (b *Batcher) Enqueue(connID string, msg []byte) error {
	if len(msg) == 0 {
		return nil
	}
	b.mu.Lock()
	q, ok := b.queues[connID]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownConn
	}
	q.msgs = append(q.msgs, msg)
	q.size += len(msg) + 1
	over := b.ceiling > 0 && q.size > b.ceiling
	if over {
		delete(b.queues, connID)
	}
	b.mu.Unlock()

	if over {
		b.overflow(connID)
		return fmt.Errorf("%w: %s", ErrQueueOverflow, connID)
	}
	return nil
}

// Send 供会话层使用：入队失败只记录日志
func (b *Batcher) Send(connID string, msg []byte) {
	if err := b.Enqueue(connID, msg); err != nil {
		if errors.Is(err, ErrUnknownConn) {
			b.log.Debugw("drop message for vanished connection", "conn", connID)
			return
		}
		b.log.Warnw("enqueue failed", "conn", connID, "err", err)
	}
}

func (b *Batcher) overflow(connID string) {
	b.log.Warnw("outbound queue overflow", "conn", connID, "ceiling", b.ceiling)
	if b.onOverflow != nil {
		b.onOverflow(connID)
	}
}

type pending struct {
	id   string
	sink Sink
	msgs [][]byte
	size int
}

// Flush 交换出所有队列后在锁外压缩并写出；写出失败的消息按原顺序放回队首
func (b *Batcher) Flush() FlushReport {
	b.mu.Lock()
	batch := make([]pending, 0, len(b.queues))
	for id, q := range b.queues {
		if len(q.msgs) == 0 {
			continue
		}
		batch = append(batch, pending{id: id, sink: q.sink, msgs: q.msgs, size: q.size})
		q.msgs, q.size = nil, 0
	}
	b.mu.Unlock()

	var rep FlushReport
	for _, p := range batch {
		payload := bytes.Join(p.msgs, []byte{'\n'})
		frame, err := Compress(payload)
		if err != nil {
			b.log.Errorw("compress outbound bundle", "conn", p.id, "err", err)
			continue
		}
		if !p.sink.TrySend(frame) {
			rep.Deferred++
			b.requeue(p)
			continue
		}
		rep.Frames++
		rep.Messages += len(p.msgs)
		rep.RawBytes += len(payload)
		rep.CompressedBytes += len(frame)
	}
	return rep
}

func (b *Batcher) requeue(p pending) {
	b.mu.Lock()
	q, ok := b.queues[p.id]
	if !ok {
		b.mu.Unlock()
		return
	}
	q.msgs = append(p.msgs, q.msgs...)
	q.size += p.size
	over := b.ceiling > 0 && q.size > b.ceiling
	if over {
		delete(b.queues, p.id)
	}
	b.mu.Unlock()
	if over {
		b.overflow(p.id)
	}
}

// Run 以固定间隔 Flush，直至 ctx 取消；onFlush 可为空
func (b *Batcher) Run(ctx context.Context, interval time.Duration, onFlush func(FlushReport, time.Duration)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return
		case <-ticker.C:
			start := time.Now()
			rep := b.Flush()
			if onFlush != nil {
				onFlush(rep, time.Since(start))
			}
		}
	}
}

var gzipWriters = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Compress gzip 压缩一个完整的出站包
func Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzipWriters.Get().(*gzip.Writer)
	defer gzipWriters.Put(zw)
	zw.Reset(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressMessage 单条消息的即时发送路径，不等待 Tick
func CompressMessage(msg []byte) ([]byte, error) {
	return Compress(msg)
}

// SendNow 立即压缩并写出一条消息，绕过队列
func SendNow(sink Sink, msg []byte) error {
	frame, err := CompressMessage(msg)
	if err != nil {
		return err
	}
	if !sink.TrySend(frame) {
		return ErrSinkBusy
	}
	return nil
}
