package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/engine"
	"github.com/hupe1980/medmesh/tool"
)

// ExecutorConfig configures the parallel executor.
type ExecutorConfig struct {
	MaxParallel    int  // 0 or <1 => no explicit limit (len(calls))
	LogStartEvents bool // log a start line per function
}

// Outcome is the result of one function call. Exactly one of Response and
// Interruptions is set.
type Outcome struct {
	Call          core.FunctionCall
	Response      *core.FunctionResponse
	Interruptions []core.Interruption
}

// Interrupted reports whether the call is waiting for a reviewer decision.
func (o Outcome) Interrupted() bool { return o.Response == nil }

// Hooks lets the runner bind per-call services.
type Hooks struct {
	// Decision returns the reviewer decision recorded for a call id.
	Decision func(callID string) (core.Decision, bool)
	// Prepare is invoked with every tool context before the tool runs
	// (the runner installs its delegator here).
	Prepare func(toolCtx *core.ToolContext)
}

// Executor executes a batch of function calls, possibly in parallel.
//
// Guarantees:
//   - One Outcome per incoming call, in call order regardless of completion order
//   - Tool failures and panics become error responses, never executor errors
//   - A tool requiring approval without a recorded decision is not run; its
//     outcome is an interruption carrying the raw arguments
//   - A rejected call is not run; its response is the rejection message
//
// The returned error is reserved for cancellation and callback failures.
type Executor struct {
	cfg       ExecutorConfig
	callbacks *engine.CallbackManager
}

// NewExecutor constructs a new executor with the given config.
func NewExecutor(cfg ExecutorConfig, callbacks *engine.CallbackManager) *Executor {
	return &Executor{cfg: cfg, callbacks: callbacks}
}

// Execute runs calls against tools.
func (e *Executor) Execute(runCtx *core.RunContext, tools []tool.Tool, calls []core.FunctionCall, hooks Hooks) ([]Outcome, error) {
	n := len(calls)
	if n == 0 {
		return nil, nil
	}

	outcomes := make([]Outcome, n)

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	g, gctx := errgroup.WithContext(runCtx.Context)
	g.SetLimit(maxPar)
	groupCtx := runCtx.WithContext(gctx)

	batchStart := time.Now()
	for i, fc := range calls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := e.executeOne(groupCtx, tools, fc, hooks)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	runCtx.LogDebug(
		"agent.functions.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return outcomes, nil
}

func (e *Executor) executeOne(runCtx *core.RunContext, tools []tool.Tool, fc core.FunctionCall, hooks Hooks) (Outcome, error) {
	impl, ok := tool.Find(tools, fc.Name)
	if !ok {
		runCtx.LogWarn("agent.function.unknown", "function", fc.Name, "function_call_id", fc.ID)
		return respond(fc, nil, &tool.ToolError{
			Tool:    fc.Name,
			Message: fmt.Sprintf("tool %s not found", fc.Name),
			Code:    tool.CodeNotFound,
			Err:     tool.ErrNotFound,
		}), nil
	}

	toolCtx := core.NewToolContext(runCtx, fc)

	var (
		decision    core.Decision
		hasDecision bool
	)
	if hooks.Decision != nil {
		decision, hasDecision = hooks.Decision(fc.ID)
	}

	if tool.NeedsApproval(impl) && !hasDecision {
		runCtx.LogInfo("agent.function.awaiting_approval", "function", fc.Name, "function_call_id", fc.ID)
		return Outcome{Call: fc, Interruptions: []core.Interruption{{
			CallID:    fc.ID,
			ToolName:  fc.Name,
			Agent:     runCtx.Agent.Name,
			Arguments: fc.Arguments,
		}}}, nil
	}

	if hasDecision {
		toolCtx.SetDecision(decision)
	}
	if hooks.Prepare != nil {
		hooks.Prepare(toolCtx)
	}

	if err := e.callbacks.ExecuteCallbacks(runCtx.Context, engine.CallbackBeforeTool, &engine.CallbackContext{
		Run:     runCtx,
		AgentID: runCtx.Agent.Name,
		Call:    &fc,
	}); err != nil {
		return Outcome{}, fmt.Errorf("before_tool callback: %w", err)
	}

	var (
		result any
		err    error
	)
	start := time.Now()
	if tool.NeedsApproval(impl) && !decision.Approved {
		result = decision.RejectionMessage()
		runCtx.LogInfo("agent.function.rejected", "function", fc.Name, "function_call_id", fc.ID)
	} else {
		if e.cfg.LogStartEvents {
			runCtx.LogInfo("agent.function.start", "function", fc.Name, "function_call_id", fc.ID, "kind", string(tool.KindOf(impl)))
		}
		result, err = callTool(runCtx, impl, toolCtx, fc)
	}

	var interrupted *core.InterruptedError
	if errors.As(err, &interrupted) {
		runCtx.LogInfo("agent.function.interrupted", "function", fc.Name, "function_call_id", fc.ID, "pending", len(interrupted.Interruptions))
		return Outcome{Call: fc, Interruptions: interrupted.Interruptions}, nil
	}
	if err != nil && runCtx.Err() != nil {
		return Outcome{}, runCtx.Err()
	}

	runCtx.LogInfo(
		"agent.function.executed",
		"function", fc.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	out := respond(fc, result, err)
	if cbErr := e.callbacks.ExecuteCallbacks(runCtx.Context, engine.CallbackAfterTool, &engine.CallbackContext{
		Run:      runCtx,
		AgentID:  runCtx.Agent.Name,
		Call:     &fc,
		Response: out.Response,
	}); cbErr != nil {
		return Outcome{}, fmt.Errorf("after_tool callback: %w", cbErr)
	}

	return out, nil
}

func respond(fc core.FunctionCall, result any, err error) Outcome {
	resp := core.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: result}
	if err != nil {
		resp.Response = nil
		resp.Error = err.Error()
	}
	return Outcome{Call: fc, Response: &resp}
}

// callTool decodes arguments and invokes the tool with panic safety.
func callTool(runCtx *core.RunContext, impl tool.Tool, toolCtx *core.ToolContext, fc core.FunctionCall) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
			runCtx.LogError("agent.function.panic", "function", fc.Name, "recover", r)
		}
	}()

	args, err := decodeArguments(fc.Arguments)
	if err != nil {
		return nil, &tool.ToolError{Tool: fc.Name, Message: err.Error(), Code: tool.CodeValidation, Err: err}
	}
	return impl.Call(toolCtx, args)
}

func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// panicError converts a recovered panic value to an error.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
