// Package health 连接健康监控：消息节奏、连续错误、最近活动时间
package health

import (
	"sort"
	"sync"
	"time"
)

// Verdict 一次记录之后对连接的判断
type Verdict int

const (
	Healthy Verdict = iota
	Zombie
	TooManyErrors
	Unknown
)

func (v Verdict) String() string {
	switch v {
	case Healthy:
		return "healthy"
	case Zombie:
		return "zombie"
	case TooManyErrors:
		return "too_many_errors"
	default:
		return "unknown"
	}
}

// Notice 强制断开前发给客户端的说明
func (v Verdict) Notice() string {
	switch v {
	case Zombie:
		return "Connection flagged as stale session"
	case TooManyErrors:
		return "Too many protocol errors"
	default:
		return ""
	}
}

type Config struct {
	ZombieMessages    int           // 连接后 ZombieWindow 内达到该消息数即判定为僵尸
	ZombieWindow      time.Duration
	MaxConsecutiveErr int
	InactivityTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ZombieMessages:    300,
		ZombieWindow:      2 * time.Second,
		MaxConsecutiveErr: 10,
		InactivityTimeout: 10 * time.Second,
	}
}

// ConnState 单个连接的健康状态
type ConnState struct {
	ConnID            string    `json:"connId"`
	ConnectedAt       time.Time `json:"connectedAt"`
	LastMessageAt     time.Time `json:"lastMessageAt"`
	LastActivityAt    time.Time `json:"lastActivityAt"`
	MessageCount      int64     `json:"messageCount"`
	ConsecutiveErrors int       `json:"consecutiveErrors"`
	Healthy           bool      `json:"healthy"`
}

// Monitor 读协程与 Hub 循环都会调用，内部加锁
type Monitor struct {
	cfg Config

	mu    sync.Mutex
	conns map[string]*ConnState
}

func NewMonitor(cfg Config) *Monitor {
	return &Monitor{cfg: cfg, conns: make(map[string]*ConnState)}
}

// Track 连接建立时登记
func (m *Monitor) Track(connID string, now time.Time) {
	m.mu.Lock()
	m.conns[connID] = &ConnState{
		ConnID:         connID,
		ConnectedAt:    now,
		LastActivityAt: now,
		Healthy:        true,
	}
	m.mu.Unlock()
}

// Touch 任何协议事件（含 ping/pong）都刷新活动时间
func (m *Monitor) Touch(connID string, now time.Time) {
	m.mu.Lock()
	if st, ok := m.conns[connID]; ok {
		st.LastActivityAt = now
	}
	m.mu.Unlock()
}

// RecordMessage 记录一条入站消息并判断是否为僵尸连接
func (m *Monitor) RecordMessage(connID string, now time.Time) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.conns[connID]
	if !ok {
		return Unknown
	}
	st.MessageCount++
	st.LastMessageAt = now
	st.LastActivityAt = now
	if m.cfg.ZombieMessages > 0 && st.MessageCount >= int64(m.cfg.ZombieMessages) &&
		now.Sub(st.ConnectedAt) < m.cfg.ZombieWindow {
		st.Healthy = false
		return Zombie
	}
	return Healthy
}

// RecordError 连续错误达到阈值时返回 TooManyErrors
func (m *Monitor) RecordError(connID string) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.conns[connID]
	if !ok {
		return Unknown
	}
	st.ConsecutiveErrors++
	if m.cfg.MaxConsecutiveErr > 0 && st.ConsecutiveErrors >= m.cfg.MaxConsecutiveErr {
		st.Healthy = false
		return TooManyErrors
	}
	return Healthy
}

// RecordSuccess 成功处理一帧后清零连续错误
func (m *Monitor) RecordSuccess(connID string) {
	m.mu.Lock()
	if st, ok := m.conns[connID]; ok {
		st.ConsecutiveErrors = 0
	}
	m.mu.Unlock()
}

func (m *Monitor) Forget(connID string) {
	m.mu.Lock()
	delete(m.conns, connID)
	m.mu.Unlock()
}

// Inactive 超过超时时间没有任何事件的连接，按 id 排序
func (m *Monitor) Inactive(now time.Time) []string {
	if m.cfg.InactivityTimeout <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, st := range m.conns {
		if now.Sub(st.LastActivityAt) > m.cfg.InactivityTimeout {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Monitor) State(connID string) (ConnState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.conns[connID]
	if !ok {
		return ConnState{}, false
	}
	return *st, true
}

func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Snapshot 全部连接状态的拷贝，按连接时间排序
func (m *Monitor) Snapshot() []ConnState {
	m.mu.Lock()
	out := make([]ConnState, 0, len(m.conns))
	for _, st := range m.conns {
		out = append(out, *st)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
