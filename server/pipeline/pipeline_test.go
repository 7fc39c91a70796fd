package pipeline

import (
	"errors"
	"testing"
	"time"

	"protorelay/server/protocol"
)

func chatAction(msg string) protocol.RPCAction {
	return protocol.ChatAction("p1", msg)
}

func newCtx() *Context {
	return &Context{ConnID: "c1", Time: time.Unix(0, 0)}
}

func TestBlockShortCircuits(t *testing.T) {
	t.Parallel()

	p := New(nil)
	var calls []string
	p.Use("A", func(*Context, protocol.Action) (Result, error) {
		calls = append(calls, "A")
		return Pass(), nil
	})
	p.Handle(protocol.ActionRPC, "B", func(*Context, protocol.Action) (Result, error) {
		calls = append(calls, "B")
		return Block("nope"), nil
	})
	p.HandleRPC(protocol.RPCChatMessage, "C", func(*Context, protocol.Action) (Result, error) {
		calls = append(calls, "C")
		return Pass(), nil
	})

	out := p.Process(newCtx(), chatAction("hi"))
	if !out.Blocked || out.Reason != "nope" || out.Action != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if len(calls) != 2 || calls[0] != "A" || calls[1] != "B" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestOrderGlobalActionRPC(t *testing.T) {
	t.Parallel()

	p := New(nil)
	var calls []string
	record := func(name string) HandlerFunc {
		return func(*Context, protocol.Action) (Result, error) {
			calls = append(calls, name)
			return Pass(), nil
		}
	}
	p.HandleRPC(protocol.RPCChatMessage, "rpc1", record("rpc1"))
	p.Handle(protocol.ActionRPC, "act1", record("act1"))
	p.Use("g1", record("g1"))
	p.Use("g2", record("g2"))
	p.HandleRPC(protocol.RPCChatMessage, "rpc2", record("rpc2"))
	p.HandleRPC(protocol.RPCPlayerInfo, "other", record("other"))

	p.Process(newCtx(), chatAction("hi"))
	want := []string{"g1", "g2", "act1", "rpc1", "rpc2"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestModificationsCompose(t *testing.T) {
	t.Parallel()

	p := New(nil)
	p.HandleRPC(protocol.RPCChatMessage, "X", func(ctx *Context, a protocol.Action) (Result, error) {
		return Modify(chatAction(ctx.RPC.(protocol.ChatMessage).Message+"-x"), "x"), nil
	})
	var seen string
	p.HandleRPC(protocol.RPCChatMessage, "Y", func(ctx *Context, a protocol.Action) (Result, error) {
		seen = ctx.RPC.(protocol.ChatMessage).Message
		return Modify(chatAction(seen+"-y"), "y"), nil
	})

	out := p.Process(newCtx(), chatAction("m"))
	if seen != "m-x" {
		t.Fatalf("Y saw %q, want the modified message", seen)
	}
	r, err := out.Action.(protocol.RPCAction).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := r.(protocol.ChatMessage).Message; got != "m-x-y" || !out.Modified {
		t.Fatalf("final message = %q modified=%v", got, out.Modified)
	}
}

func TestModifyChangesActionStage(t *testing.T) {
	t.Parallel()

	p := New(nil)
	p.Use("rewrite", func(*Context, protocol.Action) (Result, error) {
		return Modify(protocol.GetCurrentPlayers{}, "rewrite"), nil
	})
	hit := false
	p.Handle(protocol.ActionGetCurrentPlayers, "after", func(*Context, protocol.Action) (Result, error) {
		hit = true
		return Pass(), nil
	})
	out := p.Process(newCtx(), protocol.Leave{})
	if !hit || out.Action.Type() != protocol.ActionGetCurrentPlayers {
		t.Fatalf("hit=%v action=%v", hit, out.Action)
	}
}

func TestAdditionalAndDelayedBatches(t *testing.T) {
	t.Parallel()

	p := New(nil)
	p.Use("now1", func(*Context, protocol.Action) (Result, error) {
		return SendAdditional(chatAction("a")), nil
	})
	p.Use("later1", func(*Context, protocol.Action) (Result, error) {
		return SendAdditional(chatAction("b")).After(time.Second), nil
	})
	p.Use("now2", func(*Context, protocol.Action) (Result, error) {
		return SendAdditional(chatAction("c"), chatAction("d")), nil
	})
	p.Use("later2", func(*Context, protocol.Action) (Result, error) {
		return SendAdditional(chatAction("e")).After(2 * time.Second), nil
	})

	orig := chatAction("orig")
	out := p.Process(newCtx(), orig)
	if out.Action != protocol.Action(orig) {
		t.Fatalf("primary action changed: %v", out.Action)
	}
	if len(out.Additional) != 3 {
		t.Fatalf("immediate additional = %d, want 3", len(out.Additional))
	}
	if len(out.Delayed) != 2 || out.Delayed[0].Delay != time.Second || out.Delayed[1].Delay != 2*time.Second {
		t.Fatalf("delayed batches = %+v", out.Delayed)
	}
}

func TestReplyConsumesPrimary(t *testing.T) {
	t.Parallel()

	p := New(nil)
	p.Use("cmd", func(*Context, protocol.Action) (Result, error) {
		return Reply(protocol.SystemAnnouncement("help")), nil
	})
	out := p.Process(newCtx(), chatAction("/help"))
	if out.Action != nil || len(out.Additional) != 1 || out.Blocked {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestFaultDegradesToOriginal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		fault HandlerFunc
	}{
		{
			name: "error",
			fault: func(*Context, protocol.Action) (Result, error) {
				return Result{}, errors.New("boom")
			},
		},
		{
			name: "panic",
			fault: func(*Context, protocol.Action) (Result, error) {
				var m map[string]int
				m["x"]++
				return Pass(), nil
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := New(nil)
			p.Use("rewrite", func(*Context, protocol.Action) (Result, error) {
				return Modify(chatAction("rewritten"), "r"), nil
			})
			p.Use("extra", func(*Context, protocol.Action) (Result, error) {
				return SendAdditional(chatAction("extra")), nil
			})
			p.Use("faulty", tt.fault)

			orig := chatAction("original")
			out := p.Process(newCtx(), orig)
			if out.Fault == nil || out.FaultBy != "faulty" {
				t.Fatalf("fault not reported: %+v", out)
			}
			if out.Action != protocol.Action(orig) || len(out.Additional) != 0 || out.Blocked {
				t.Fatalf("outcome = %+v", out)
			}
			if p.Stats()["faults"] != 1 {
				t.Fatalf("stats = %v", p.Stats())
			}
		})
	}
}

func TestUnparsableRPCSkipsRPCHandlers(t *testing.T) {
	t.Parallel()

	p := New(nil)
	hit := false
	p.HandleRPC(protocol.RPCChatMessage, "chat", func(*Context, protocol.Action) (Result, error) {
		hit = true
		return Pass(), nil
	})
	out := p.Process(newCtx(), protocol.RPCAction{RPC: "{broken"})
	if hit || out.Action == nil {
		t.Fatalf("hit=%v outcome=%+v", hit, out)
	}
}

func TestMistypedRPCIsBlocked(t *testing.T) {
	t.Parallel()

	p := New(nil)
	hit := false
	p.HandleRPC(protocol.RPCPlayerInfo, "bounds", func(*Context, protocol.Action) (Result, error) {
		hit = true
		return Pass(), nil
	})
	out := p.Process(newCtx(), protocol.RPCAction{RPC: `{"type":"playerinfo","health":500,"crouching":"yes"}`, Sender: "p1"})
	if !out.Blocked || out.Action != nil || hit {
		t.Fatalf("hit=%v outcome=%+v", hit, out)
	}
	if got := p.Stats()["blocked"]; got != 1 {
		t.Fatalf("blocked = %d", got)
	}
}

func TestRelease(t *testing.T) {
	t.Parallel()

	p := New(nil)
	var released []string
	p.OnRelease(func(id string) { released = append(released, id) })
	p.OnRelease(func(id string) { released = append(released, id+"!") })
	p.Release("p1")
	if len(released) != 2 || released[0] != "p1" || released[1] != "p1!" {
		t.Fatalf("released = %v", released)
	}
}
