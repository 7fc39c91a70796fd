package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"protorelay/server/protocol"
)

// HandlerFunc 中间件处理器：检查动作与上下文，返回处理结论
type HandlerFunc func(ctx *Context, a protocol.Action) (Result, error)

type handler struct {
	name string
	fn   HandlerFunc
}

// Pipeline 按 全局 -> 动作类型 -> RPC 类型 的顺序执行处理器。
// 注册只在启动阶段进行；Process 只在 Hub 循环中调用。
type Pipeline struct {
	global   []handler
	byAction map[protocol.ActionType][]handler
	byRPC    map[protocol.RPCType][]handler
	release  []func(playerID string)
	log      *zap.SugaredLogger

	processed atomic.Int64
	blocked   atomic.Int64
	modified  atomic.Int64
	faults    atomic.Int64
}

func New(log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pipeline{
		byAction: make(map[protocol.ActionType][]handler),
		byRPC:    make(map[protocol.RPCType][]handler),
		log:      log,
	}
}

// Use 注册全局处理器
func (p *Pipeline) Use(name string, fn HandlerFunc) {
	p.global = append(p.global, handler{name: name, fn: fn})
}

// Handle 注册指定动作类型的处理器
func (p *Pipeline) Handle(t protocol.ActionType, name string, fn HandlerFunc) {
	p.byAction[t] = append(p.byAction[t], handler{name: name, fn: fn})
}

// HandleRPC 注册指定 RPC 类型的处理器
func (p *Pipeline) HandleRPC(t protocol.RPCType, name string, fn HandlerFunc) {
	p.byRPC[t] = append(p.byRPC[t], handler{name: name, fn: fn})
}

// OnRelease 玩家离开时回调，用于释放处理器持有的每玩家状态
func (p *Pipeline) OnRelease(fn func(playerID string)) {
	p.release = append(p.release, fn)
}

// Release 通知所有处理器该玩家已离开
func (p *Pipeline) Release(playerID string) {
	for _, fn := range p.release {
		fn(playerID)
	}
}

// HandlerNames 按执行阶段列出已注册的处理器
func (p *Pipeline) HandlerNames() map[string][]string {
	out := map[string][]string{}
	for _, h := range p.global {
		out["global"] = append(out["global"], h.name)
	}
	for t, hs := range p.byAction {
		for _, h := range hs {
			out["action:"+string(t)] = append(out["action:"+string(t)], h.name)
		}
	}
	for t, hs := range p.byRPC {
		for _, h := range hs {
			out["rpc:"+string(t)] = append(out["rpc:"+string(t)], h.name)
		}
	}
	return out
}

// Stats 处理计数
func (p *Pipeline) Stats() map[string]int64 {
	return map[string]int64{
		"processed": p.processed.Load(),
		"blocked":   p.blocked.Load(),
		"modified":  p.modified.Load(),
		"faults":    p.faults.Load(),
	}
}

type chainState struct {
	working    protocol.Action
	modified   bool
	consumed   bool
	additional []protocol.Action
	delayed    []Batch
}

// Process 执行整条处理链。任一处理器出错或 panic 时，返回未经修改的原动作。
func (p *Pipeline) Process(ctx *Context, a protocol.Action) Outcome {
	p.processed.Add(1)
	st := &chainState{working: a}
	if ra, ok := a.(protocol.RPCAction); ok && ctx.RPC == nil {
		ctx.RPC = parseOrNil(ra)
	}

	if out, done := p.run(ctx, st, p.global); done {
		return p.finish(out, a)
	}
	if out, done := p.run(ctx, st, p.byAction[st.working.Type()]); done {
		return p.finish(out, a)
	}
	if ra, ok := st.working.(protocol.RPCAction); ok {
		r, err := ra.Parse()
		if errors.Is(err, protocol.ErrMalformedRPC) {
			// 已知类型但字段不合法：不能绕过该类型的校验处理器
			p.log.Infow("action blocked", "handler", "rpc-decode", "action", st.working.Type(),
				"conn", ctx.ConnID, "err", err)
			return p.finish(Outcome{Blocked: true, Reason: "Malformed RPC payload"}, a)
		}
		if err != nil {
			p.log.Debugw("rpc payload not parsed, skipping rpc handlers", "conn", ctx.ConnID, "err", err)
		} else {
			ctx.RPC = r
			if out, done := p.run(ctx, st, p.byRPC[r.RPCType()]); done {
				return p.finish(out, a)
			}
		}
	}

	out := Outcome{
		Action:     st.working,
		Additional: st.additional,
		Delayed:    st.delayed,
		Modified:   st.modified,
	}
	if st.consumed {
		out.Action = nil
	}
	return p.finish(out, a)
}

func (p *Pipeline) finish(out Outcome, original protocol.Action) Outcome {
	switch {
	case out.Fault != nil:
		p.faults.Add(1)
		return Outcome{Action: original, Fault: out.Fault, FaultBy: out.FaultBy}
	case out.Blocked:
		p.blocked.Add(1)
	case out.Modified:
		p.modified.Add(1)
	}
	return out
}

// run 执行一个阶段；done 为 true 表示整条链已终止（阻止或出错）
func (p *Pipeline) run(ctx *Context, st *chainState, hs []handler) (Outcome, bool) {
	for _, h := range hs {
		res, err := p.call(h, ctx, st.working)
		if err != nil {
			p.log.Errorw("handler failed, passing original action through",
				"handler", h.name, "action", st.working.Type(), "conn", ctx.ConnID, "err", err)
			return Outcome{Fault: err, FaultBy: h.name}, true
		}
		switch res.Kind {
		case KindBlock:
			p.log.Infow("action blocked", "handler", h.name, "action", st.working.Type(),
				"conn", ctx.ConnID, "reason", res.Reason)
			return Outcome{Blocked: true, Reason: res.Reason}, true
		case KindModify:
			if res.Action == nil {
				continue
			}
			st.working = res.Action
			st.modified = true
			if ra, ok := res.Action.(protocol.RPCAction); ok {
				ctx.RPC = parseOrNil(ra)
			}
			p.log.Debugw("action modified", "handler", h.name, "reason", res.Reason)
		case KindSendAdditional:
			if res.Consume {
				st.consumed = true
			}
			if len(res.Additional) == 0 {
				continue
			}
			if res.Delay > 0 {
				st.delayed = append(st.delayed, Batch{Delay: res.Delay, Actions: res.Additional})
			} else {
				st.additional = append(st.additional, res.Additional...)
			}
		}
	}
	return Outcome{}, false
}

func (p *Pipeline) call(h handler, ctx *Context, a protocol.Action) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.name, r)
		}
	}()
	return h.fn(ctx, a)
}

func parseOrNil(a protocol.RPCAction) protocol.RPC {
	r, err := a.Parse()
	if err != nil {
		return nil
	}
	return r
}
