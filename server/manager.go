package server

import (
	"sort"
	"sync"
)

// Conn Hub 所需的连接能力；*Client 是唯一的生产实现
type Conn interface {
	ID() string
	// TrySend 非阻塞写出一帧；写缓冲已满或连接已关闭时返回 false
	TrySend(frame []byte) bool
	// Close 幂等；code 为 websocket 关闭码
	Close(code int, reason string)
}

// ConnManager 所有存活连接的并发安全索引（读协程、Hub、管理接口共用）
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewConnManager() *ConnManager {
	return &ConnManager{conns: make(map[string]Conn)}
}

func (m *ConnManager) Add(c Conn) {
	m.mu.Lock()
	m.conns[c.ID()] = c
	m.mu.Unlock()
}

// Remove 返回被移除的连接，不存在时为 nil
func (m *ConnManager) Remove(id string) Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil
	}
	delete(m.conns, id)
	return c
}

func (m *ConnManager) Get(id string) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[id]
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// All 按 id 排序的快照
func (m *ConnManager) All() []Conn {
	m.mu.RLock()
	out := make([]Conn, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
