package server

import (
	"time"

	"protorelay/server/protocol"
	"protorelay/server/session"
)

// Hub 收件箱中的命令；只在 Hub 循环协程中处理

// inbound 一帧解析出的动作，按原顺序处理
type inbound struct {
	ConnID  string
	Actions []protocol.Action
	At      time.Time
}

// disconnect 连接已关闭（读协程退出或被强制断开）
type disconnect struct {
	ConnID string
	Reason string
}

// deliver 延迟的附加动作到期，只发给发起连接
type deliver struct {
	ConnID  string
	Actions []protocol.Action
}

// exec 在 Hub 循环中执行 fn，执行完毕后关闭 Done
type exec struct {
	Fn   func(st *session.State)
	Done chan struct{}
}
