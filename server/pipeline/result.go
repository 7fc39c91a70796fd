package pipeline

import (
	"time"

	"protorelay/server/protocol"
	"protorelay/server/session"
)

// Kind 中间件处理结果
type Kind int

const (
	KindPass Kind = iota
	KindBlock
	KindModify
	KindSendAdditional
)

func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindModify:
		return "modify"
	case KindSendAdditional:
		return "send-additional"
	default:
		return "pass"
	}
}

// Result 每个处理器与管线本身都遵守的唯一约定
type Result struct {
	Kind       Kind
	Action     protocol.Action   // modify 时的替换动作
	Additional []protocol.Action // send-additional 时的附加动作
	Delay      time.Duration     // >0 时附加动作延迟发送
	Reason     string
	Consume    bool // 附加动作作为答复，原动作不再转发
}

func Pass() Result { return Result{Kind: KindPass} }

func Block(reason string) Result { return Result{Kind: KindBlock, Reason: reason} }

func Modify(a protocol.Action, reason string) Result {
	return Result{Kind: KindModify, Action: a, Reason: reason}
}

func SendAdditional(actions ...protocol.Action) Result {
	return Result{Kind: KindSendAdditional, Additional: actions}
}

// Reply 仅回复发送者，原动作被消费
func Reply(actions ...protocol.Action) Result {
	return Result{Kind: KindSendAdditional, Additional: actions, Consume: true}
}

// After 附加动作在 d 之后发送
func (r Result) After(d time.Duration) Result {
	r.Delay = d
	return r
}

// Context 单次调用的上下文，不做持久化
type Context struct {
	ConnID   string
	Time     time.Time
	Player   *session.Player // 可能为空
	Room     *session.Room   // 可能为空
	RPC      protocol.RPC    // rpc 动作解析后的载荷，非 rpc 动作为空
	Metadata map[string]any
}

// Set 写入元数据，供后续处理器读取
func (c *Context) Set(key string, v any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = v
}

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Metadata[key]
	return v, ok
}

// PlayerID 发送者玩家 id，没有玩家时为空
func (c *Context) PlayerID() string {
	if c.Player == nil {
		return ""
	}
	return c.Player.ID
}

// Batch 一组同时延迟发送的附加动作
type Batch struct {
	Delay   time.Duration
	Actions []protocol.Action
}

// Outcome 管线最终结论
type Outcome struct {
	Blocked    bool
	Reason     string
	Action     protocol.Action // 被阻止或被消费时为空
	Additional []protocol.Action
	Delayed    []Batch
	Modified   bool
	Fault      error  // 非空表示某处理器出错，管线已退化为透传
	FaultBy    string // 出错的处理器名
}
