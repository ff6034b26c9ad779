package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/engine"
	"github.com/hupe1980/medmesh/logging"
	"github.com/hupe1980/medmesh/tool"
)

type teMockTool struct {
	name     string
	delay    time.Duration
	result   any
	err      error
	panicMsg any
	approval bool
	calls    atomic.Int32
}

func (mt *teMockTool) Name() string               { return mt.name }
func (mt *teMockTool) Description() string        { return "mock tool" }
func (mt *teMockTool) Parameters() map[string]any { return map[string]any{} }
func (mt *teMockTool) RequiresApproval() bool     { return mt.approval }
func (mt *teMockTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	mt.calls.Add(1)
	if mt.delay > 0 {
		select {
		case <-time.After(mt.delay):
		case <-tc.Context().Done():
			return nil, tc.Context().Err()
		}
	}
	if mt.panicMsg != nil {
		panic(mt.panicMsg)
	}
	return mt.result, mt.err
}

func newTERunContext(t *testing.T) *core.RunContext {
	t.Helper()
	return core.NewRunContext(context.Background(), "sess", "run", core.AgentInfo{Name: "agent", Type: "test"}, nil, logging.NoOpLogger{})
}

func TestExecutor_Single(t *testing.T) {
	tools := []tool.Tool{&teMockTool{name: "one", result: 42}}
	te := NewExecutor(ExecutorConfig{MaxParallel: 4}, nil)
	out, err := te.Execute(newTERunContext(t), tools, []core.FunctionCall{{ID: "1", Name: "one", Arguments: "{}"}}, Hooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Response == nil || out[0].Response.Response != 42 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestExecutor_ParallelPreservesCallOrder(t *testing.T) {
	tools := []tool.Tool{
		&teMockTool{name: "slow", delay: 60 * time.Millisecond, result: "s"},
		&teMockTool{name: "fast", delay: 5 * time.Millisecond, result: "f"},
	}
	te := NewExecutor(ExecutorConfig{MaxParallel: 2}, nil)
	calls := []core.FunctionCall{{ID: "1", Name: "slow"}, {ID: "2", Name: "fast"}}

	start := time.Now()
	out, err := te.Execute(newTERunContext(t), tools, calls, Hooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Response.Name != "slow" || out[1].Response.Name != "fast" {
		t.Fatalf("order not preserved: %s, %s", out[0].Response.Name, out[1].Response.Name)
	}
	if elapsed := time.Since(start); elapsed > 110*time.Millisecond {
		t.Fatalf("expected parallel execution, elapsed=%v", elapsed)
	}
}

func TestExecutor_ErrorIsolation(t *testing.T) {
	tools := []tool.Tool{
		&teMockTool{name: "ok", result: "fine"},
		&teMockTool{name: "bad", err: errors.New("boom")},
	}
	te := NewExecutor(ExecutorConfig{}, nil)
	out, err := te.Execute(newTERunContext(t), tools, []core.FunctionCall{{ID: "1", Name: "ok"}, {ID: "2", Name: "bad"}}, Hooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Response.Error != "" {
		t.Fatalf("ok tool should succeed")
	}
	if out[1].Response.Error != "boom" {
		t.Fatalf("expected boom, got %q", out[1].Response.Error)
	}
}

func TestExecutor_UnknownToolAndBadArguments(t *testing.T) {
	tools := []tool.Tool{&teMockTool{name: "known"}}
	te := NewExecutor(ExecutorConfig{}, nil)
	out, err := te.Execute(newTERunContext(t), tools, []core.FunctionCall{
		{ID: "1", Name: "missing"},
		{ID: "2", Name: "known", Arguments: "{not json"},
	}, Hooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Response.Error == "" || out[1].Response.Error == "" {
		t.Fatalf("expected error responses, got %+v %+v", out[0].Response, out[1].Response)
	}
}

func TestExecutor_PanicRecovery(t *testing.T) {
	tools := []tool.Tool{&teMockTool{name: "panic", panicMsg: "boom"}}
	te := NewExecutor(ExecutorConfig{}, nil)
	out, err := te.Execute(newTERunContext(t), tools, []core.FunctionCall{{ID: "1", Name: "panic"}}, Hooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Response.Error == "" {
		t.Fatalf("expected panic converted to error")
	}
}

func TestExecutor_ApprovalGate(t *testing.T) {
	gated := &teMockTool{name: "review_summary", result: "approved body", approval: true}
	te := NewExecutor(ExecutorConfig{}, nil)
	calls := []core.FunctionCall{{ID: "r1", Name: "review_summary", Arguments: `{"summary":"s"}`}}

	out, err := te.Execute(newTERunContext(t), []tool.Tool{gated}, calls, Hooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out[0].Interrupted() || len(out[0].Interruptions) != 1 {
		t.Fatalf("expected interruption, got %+v", out[0])
	}
	if got := out[0].Interruptions[0]; got.CallID != "r1" || got.Arguments != `{"summary":"s"}` || got.Agent != "agent" {
		t.Fatalf("unexpected interruption %+v", got)
	}
	if gated.calls.Load() != 0 {
		t.Fatalf("gated tool must not run before a decision")
	}

	reject := func(string) (core.Decision, bool) { return core.Reject(""), true }
	out, _ = te.Execute(newTERunContext(t), []tool.Tool{gated}, calls, Hooks{Decision: reject})
	if out[0].Response.Response != core.DefaultRejectionMessage {
		t.Fatalf("expected default rejection message, got %v", out[0].Response.Response)
	}
	if gated.calls.Load() != 0 {
		t.Fatalf("rejected tool must not run")
	}

	approve := func(string) (core.Decision, bool) { return core.Approve(), true }
	out, _ = te.Execute(newTERunContext(t), []tool.Tool{gated}, calls, Hooks{Decision: approve})
	if out[0].Response.Response != "approved body" || gated.calls.Load() != 1 {
		t.Fatalf("approved tool should run once, got %+v", out[0].Response)
	}
}

func TestExecutor_NestedInterruptionAndCallbacks(t *testing.T) {
	pause := &core.InterruptedError{Interruptions: []core.Interruption{{CallID: "inner", ToolName: "review_summary"}}}
	tools := []tool.Tool{&teMockTool{name: "pseudo_phd_agent", err: pause}, &teMockTool{name: "ok", result: "x"}}

	var before, after atomic.Int32
	cm := engine.NewCallbackManager(
		engine.NewFunctionCallback(engine.CallbackBeforeTool, func(context.Context, *engine.CallbackContext) error {
			before.Add(1)
			return nil
		}),
		engine.NewFunctionCallback(engine.CallbackAfterTool, func(context.Context, *engine.CallbackContext) error {
			after.Add(1)
			return nil
		}),
	)

	var prepared atomic.Int32
	te := NewExecutor(ExecutorConfig{}, cm)
	out, err := te.Execute(newTERunContext(t), tools, []core.FunctionCall{{ID: "1", Name: "pseudo_phd_agent"}, {ID: "2", Name: "ok"}}, Hooks{
		Prepare: func(*core.ToolContext) { prepared.Add(1) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out[0].Interrupted() || out[0].Interruptions[0].CallID != "inner" {
		t.Fatalf("expected nested interruption, got %+v", out[0])
	}
	if out[1].Response == nil {
		t.Fatalf("sibling call should resolve")
	}
	if before.Load() != 2 || after.Load() != 1 || prepared.Load() != 2 {
		t.Fatalf("callbacks before=%d after=%d prepared=%d", before.Load(), after.Load(), prepared.Load())
	}
}

func TestExecutor_CallbackErrorAborts(t *testing.T) {
	deny := errors.New("denied")
	cm := engine.NewCallbackManager(engine.NewFunctionCallback(engine.CallbackBeforeTool, func(context.Context, *engine.CallbackContext) error {
		return deny
	}))
	te := NewExecutor(ExecutorConfig{}, cm)
	_, err := te.Execute(newTERunContext(t), []tool.Tool{&teMockTool{name: "x"}}, []core.FunctionCall{{ID: "1", Name: "x"}}, Hooks{})
	if !errors.Is(err, deny) {
		t.Fatalf("expected callback error, got %v", err)
	}
}
