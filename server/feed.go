package server

import (
	"sync"

	"protorelay/server/audit"
)

// 管理端订阅流中的消息类型
const (
	FeedChat      = "chat"
	FeedTelemetry = "telemetry"
	FeedKick      = "playerKicked"
)

type FeedMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Feed 把聊天副本与管理事件扇出给所有订阅者；慢订阅者直接丢消息
type Feed struct {
	mu      sync.Mutex
	subs    map[chan FeedMessage]struct{}
	dropped uint64
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan FeedMessage]struct{})}
}

// Subscribe 返回消息通道与取消函数
func (f *Feed) Subscribe(buffer int) (<-chan FeedMessage, func()) {
	ch := make(chan FeedMessage, buffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
		})
	}
}

func (f *Feed) Publish(m FeedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- m:
		default:
			f.dropped++
		}
	}
}

// ForwardChat 聊天监控的观察者
func (f *Feed) ForwardChat(e audit.ChatEvent) {
	f.Publish(FeedMessage{Type: FeedChat, Data: e})
}

func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
