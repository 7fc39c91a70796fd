package server

import (
	"sync/atomic"

	"protorelay/server/transport"
)

// HubMetrics 记录中继运行期的关键指标（用于监控与调试）
type HubMetrics struct {
	FramesIn        int64 // 收到的入站帧
	FramesLimited   int64 // 因单连接帧率限制被丢弃的帧
	ProtocolErrors  int64 // 损坏帧与无法解析的行
	ActionsIn       int64 // 解析出的动作数
	ActionsBlocked  int64 // 被中间件阻止
	ActionsModified int64 // 被中间件改写
	HandlerFaults   int64 // 处理器出错后退化为透传
	Forwarded       int64 // 实际投递到房间成员的消息数
	ForcedCloses    int64 // 僵尸、超大帧、连续错误导致的强制断开
	Evictions       int64 // 不活跃清理
	QueueOverflows  int64 // 出站积压超限
	FlushCount      int64 // 统计的 Flush 次数
	TotalFlushNs    int64 // Flush 累计耗时（纳秒）
	FramesOut       int64
	BytesRaw        int64
	BytesCompressed int64
}

func (m *HubMetrics) IncFramesIn()            { atomic.AddInt64(&m.FramesIn, 1) }
func (m *HubMetrics) IncFramesLimited()       { atomic.AddInt64(&m.FramesLimited, 1) }
func (m *HubMetrics) AddProtocolErrors(n int) { atomic.AddInt64(&m.ProtocolErrors, int64(n)) }
func (m *HubMetrics) AddActionsIn(n int)      { atomic.AddInt64(&m.ActionsIn, int64(n)) }
func (m *HubMetrics) IncBlocked()             { atomic.AddInt64(&m.ActionsBlocked, 1) }
func (m *HubMetrics) IncModified()            { atomic.AddInt64(&m.ActionsModified, 1) }
func (m *HubMetrics) IncFaults()              { atomic.AddInt64(&m.HandlerFaults, 1) }
func (m *HubMetrics) AddForwarded(n int)      { atomic.AddInt64(&m.Forwarded, int64(n)) }
func (m *HubMetrics) IncForcedCloses()        { atomic.AddInt64(&m.ForcedCloses, 1) }
func (m *HubMetrics) IncEvictions()           { atomic.AddInt64(&m.Evictions, 1) }
func (m *HubMetrics) IncQueueOverflows()      { atomic.AddInt64(&m.QueueOverflows, 1) }

// AddFlush 记录一次出站 Flush
func (m *HubMetrics) AddFlush(rep transport.FlushReport, ns int64) {
	atomic.AddInt64(&m.FlushCount, 1)
	atomic.AddInt64(&m.TotalFlushNs, ns)
	atomic.AddInt64(&m.FramesOut, int64(rep.Frames))
	atomic.AddInt64(&m.BytesRaw, int64(rep.RawBytes))
	atomic.AddInt64(&m.BytesCompressed, int64(rep.CompressedBytes))
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *HubMetrics) Snapshot() map[string]any {
	flushes := atomic.LoadInt64(&m.FlushCount)
	total := atomic.LoadInt64(&m.TotalFlushNs)
	var avgMs float64
	if flushes > 0 {
		avgMs = float64(total) / float64(flushes) / 1e6
	}
	raw := atomic.LoadInt64(&m.BytesRaw)
	compressed := atomic.LoadInt64(&m.BytesCompressed)
	var ratio float64
	if raw > 0 {
		ratio = float64(compressed) / float64(raw)
	}
	return map[string]any{
		"frames_in":         atomic.LoadInt64(&m.FramesIn),
		"frames_limited":    atomic.LoadInt64(&m.FramesLimited),
		"protocol_errors":   atomic.LoadInt64(&m.ProtocolErrors),
		"actions_in":        atomic.LoadInt64(&m.ActionsIn),
		"actions_blocked":   atomic.LoadInt64(&m.ActionsBlocked),
		"actions_modified":  atomic.LoadInt64(&m.ActionsModified),
		"handler_faults":    atomic.LoadInt64(&m.HandlerFaults),
		"forwarded":         atomic.LoadInt64(&m.Forwarded),
		"forced_closes":     atomic.LoadInt64(&m.ForcedCloses),
		"evictions":         atomic.LoadInt64(&m.Evictions),
		"queue_overflows":   atomic.LoadInt64(&m.QueueOverflows),
		"flush_count":       flushes,
		"avg_flush_ms":      avgMs,
		"frames_out":        atomic.LoadInt64(&m.FramesOut),
		"bytes_raw":         raw,
		"bytes_compressed":  compressed,
		"compression_ratio": ratio,
	}
}
