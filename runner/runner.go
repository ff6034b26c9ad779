package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/engine"
	"github.com/hupe1980/medmesh/flow"
	"github.com/hupe1980/medmesh/logging"
	"github.com/hupe1980/medmesh/model"
	"github.com/hupe1980/medmesh/tool"
)

const tracerName = "github.com/hupe1980/medmesh/runner"

var (
	// ErrMaxModelCalls is returned when a run exceeds Options.MaxModelCalls.
	ErrMaxModelCalls = errors.New("runner: max model calls exceeded")
	// ErrUnknownTool is the cause of the error response produced for a call to
	// a tool the agent does not have.
	ErrUnknownTool = tool.ErrNotFound
	// ErrRunNotPaused is returned when deciding or resuming a run that is not
	// awaiting approval.
	ErrRunNotPaused = errors.New("runner: run is not awaiting approval")
	// ErrUnresolvedInterruption is returned by Resume while an interruption
	// has no decision.
	ErrUnresolvedInterruption = errors.New("runner: interruption has no decision")
	// ErrUnknownInterruption is returned when deciding a call id that did not
	// raise an interruption.
	ErrUnknownInterruption = errors.New("runner: unknown interruption")
	// ErrAgentMismatch is returned when resuming a state with another agent.
	ErrAgentMismatch = errors.New("runner: state belongs to a different agent")
)

// Options holds configuration overrides passed to New().
type Options struct {
	// MaxModelCalls limits the number of model calls per run, counted across
	// resumes and delegate agents. 0 means unlimited.
	MaxModelCalls int
	// MaxParallelTools bounds concurrent tool execution within one turn.
	MaxParallelTools int
	// RequestProcessors builds model requests (default flow.DefaultRequestProcessors).
	RequestProcessors []flow.RequestProcessor
	// Callbacks are lifecycle hooks (memory injection, logging).
	Callbacks []engine.Callback
	// Logger receives structured run events.
	Logger logging.Logger
	// Tracer creates spans around agent activations and model calls.
	Tracer trace.Tracer
}

// Input starts a run.
type Input struct {
	SessionID string
	// History is the conversation replayed before Message.
	History []core.Content
	// Message is appended as a user item when non-empty.
	Message string
	// Values seed the shared run state (patient id, query).
	Values map[string]any
}

// Result is the outcome of Run or Resume.
type Result struct {
	Status Status
	// Output is the final text of a completed run.
	Output string
	// History is the top-level agent's input plus everything it generated;
	// it is the input history of the next turn.
	History []core.Content
	// NewItems are the items generated by the top-level agent.
	NewItems []core.Content
	// Interruptions are the calls awaiting a decision.
	Interruptions []core.Interruption
	// State is the checkpoint to decide and resume a paused run.
	State *RunState
}

// Runner drives agents through the run state machine:
//
//	running -> completed
//	running -> awaiting_approval -> (resume) running -> ...
//
// Every tool call, including delegation to another agent, is dispatched by
// the flow executor. A reviewer-gated call without a decision pauses the
// activation that issued it and every activation above it; the checkpoint
// records all of them so Resume continues rather than restarts. Runner is
// safe for concurrent use; callers serialize runs per session.
type Runner struct {
	maxModelCalls int
	processors    []flow.RequestProcessor
	callbacks     *engine.CallbackManager
	executor      *flow.Executor
	logger        logging.Logger
	tracer        trace.Tracer
}

// New constructs a Runner with optional overrides.
func New(optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxModelCalls:    50,
		MaxParallelTools: 4,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.RequestProcessors == nil {
		opts.RequestProcessors = flow.DefaultRequestProcessors()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	callbacks := engine.NewCallbackManager(opts.Callbacks...)

	return &Runner{
		maxModelCalls: opts.MaxModelCalls,
		processors:    opts.RequestProcessors,
		callbacks:     callbacks,
		executor:      flow.NewExecutor(flow.ExecutorConfig{MaxParallel: opts.MaxParallelTools, LogStartEvents: true}, callbacks),
		logger:        opts.Logger,
		tracer:        opts.Tracer,
	}
}

// Run starts a new run of agent.
func (r *Runner) Run(ctx context.Context, agent flow.FlowAgent, in Input) (*Result, error) {
	input := core.CloneContents(in.History)
	if in.Message != "" {
		input = append(input, core.NewUserContent(in.Message))
	}

	now := time.Now()
	st := &RunState{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		Status:    StatusRunning,
		Values:    in.Values,
		Root:      newFrame(agent.Name(), "", 0, input),
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.logger.Info("runner.run.start", "run_id", st.ID, "session_id", st.SessionID, "agent", agent.Name())
	return r.drive(ctx, agent, st, true)
}

// Resume continues a paused run. Every interruption must have a decision.
// The given state is not modified; the returned Result carries the new one.
func (r *Runner) Resume(ctx context.Context, agent flow.FlowAgent, state *RunState) (*Result, error) {
	if state == nil || state.Status != StatusAwaitingApproval {
		return nil, ErrRunNotPaused
	}
	if state.Root == nil || state.Root.Agent != agent.Name() {
		return nil, ErrAgentMismatch
	}
	if pending := state.Pending(); len(pending) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedInterruption, pending[0].CallID)
	}

	st, err := state.Clone()
	if err != nil {
		return nil, err
	}
	st.Status = StatusRunning
	st.Interruptions = nil
	st.UpdatedAt = time.Now()

	r.logger.Info("runner.run.resume", "run_id", st.ID, "session_id", st.SessionID, "agent", agent.Name(), "decisions", len(st.Decisions))
	return r.drive(ctx, agent, st, false)
}

func (r *Runner) drive(ctx context.Context, agent flow.FlowAgent, st *RunState, fresh bool) (*Result, error) {
	shared := core.NewSharedState(st.Values)
	rc := core.NewRunContext(ctx, st.SessionID, st.ID, agentInfo(agent), shared, r.logger)

	x := &execution{
		runner:  r,
		state:   st,
		limiter: core.NewModelLimiter(r.maxModelCalls, st.ModelCalls),
	}

	if fresh {
		if err := x.enter(rc, st.Root); err != nil {
			return nil, r.fail(rc, agent, err)
		}
	}

	output, err := x.runFrame(rc, agent, st.Root)

	st.Values = shared.Snapshot()
	st.ModelCalls = x.limiter.Count()
	st.UpdatedAt = time.Now()

	var interrupted *core.InterruptedError
	if errors.As(err, &interrupted) {
		st.Status = StatusAwaitingApproval
		st.Interruptions = interrupted.Interruptions
		r.logger.Info("runner.interrupted", "run_id", st.ID, "pending", len(st.Interruptions))
		return &Result{
			Status:        StatusAwaitingApproval,
			History:       core.CloneContents(st.Root.Items),
			NewItems:      st.Root.NewItems(),
			Interruptions: append([]core.Interruption(nil), st.Interruptions...),
			State:         st,
		}, nil
	}
	if err != nil {
		return nil, r.fail(rc, agent, err)
	}

	st.Status = StatusCompleted
	x.complete(st.Root, output)
	if err := x.exitAll(rc); err != nil {
		return nil, r.fail(rc, agent, err)
	}

	r.logger.Info("runner.run.completed", "run_id", st.ID, "model_calls", st.ModelCalls)
	return &Result{
		Status:   StatusCompleted,
		Output:   output,
		History:  core.CloneContents(st.Root.Items),
		NewItems: st.Root.NewItems(),
		State:    st,
	}, nil
}

func (r *Runner) fail(rc *core.RunContext, agent flow.FlowAgent, err error) error {
	r.logger.Error("runner.run.failed", "run_id", rc.RunID, "agent", agent.Name(), "error", err.Error())
	if cbErr := r.callbacks.ExecuteCallbacks(rc.Context, engine.CallbackOnError, &engine.CallbackContext{
		Run:     rc,
		AgentID: agent.Name(),
		Err:     err,
	}); cbErr != nil {
		r.logger.Warn("runner.callback.on_error.failed", "run_id", rc.RunID, "error", cbErr.Error())
	}
	return err
}

// execution is the mutable state of one Run/Resume segment.
type execution struct {
	runner  *Runner
	state   *RunState
	limiter *core.ModelLimiter

	mu    sync.Mutex
	fatal error
}

// enter records a first activation of frame and fires before_agent.
func (x *execution) enter(rc *core.RunContext, f *Frame) error {
	x.mu.Lock()
	x.state.Scopes = append(x.state.Scopes, Scope{Agent: f.Agent, CallID: f.CallID, Depth: f.Depth})
	x.mu.Unlock()

	return x.runner.callbacks.ExecuteCallbacks(rc.Context, engine.CallbackBeforeAgent, &engine.CallbackContext{
		Run:     rc,
		AgentID: f.Agent,
	})
}

// complete stores the output of a finished activation on its scope.
func (x *execution) complete(f *Frame, output string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i := len(x.state.Scopes) - 1; i >= 0; i-- {
		s := &x.state.Scopes[i]
		if s.Agent == f.Agent && s.CallID == f.CallID && !s.Done {
			s.Output, s.Done = output, true
			return
		}
	}
}

// exitAll fires after_agent for every entered scope, innermost first.
func (x *execution) exitAll(rc *core.RunContext) error {
	scopes := x.state.Scopes
	for i := len(scopes) - 1; i >= 0; i-- {
		s := scopes[i]
		src := core.NewRunContext(rc.Context, rc.SessionID, rc.RunID, core.AgentInfo{Name: s.Agent}, rc.State, rc.Logger())
		src.Depth = s.Depth
		src.CallID = s.CallID
		if err := x.runner.callbacks.ExecuteCallbacks(rc.Context, engine.CallbackAfterAgent, &engine.CallbackContext{
			Run:     src,
			AgentID: s.Agent,
			Output:  s.Output,
		}); err != nil {
			return fmt.Errorf("after_agent callback for %s: %w", s.Agent, err)
		}
	}
	return nil
}

func (x *execution) setFatal(err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fatal == nil {
		x.fatal = err
	}
}

func (x *execution) fatalErr() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.fatal
}

// runFrame drives one activation until it produces output or pauses. A pause
// is returned as *core.InterruptedError with the frame left resumable.
func (x *execution) runFrame(rc *core.RunContext, agent flow.FlowAgent, f *Frame) (string, error) {
	ctx, span := x.runner.tracer.Start(rc.Context, "agent "+agent.Name(), trace.WithAttributes(
		attribute.String("medmesh.agent", agent.Name()),
		attribute.String("medmesh.run_id", rc.RunID),
		attribute.Int("medmesh.depth", f.Depth),
	))
	defer span.End()
	rc = rc.WithContext(ctx)

	output, err := x.loop(rc, agent, f)

	var interrupted *core.InterruptedError
	switch {
	case errors.As(err, &interrupted):
		span.SetAttributes(attribute.Int("medmesh.interruptions", len(interrupted.Interruptions)))
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return output, err
}

func (x *execution) loop(rc *core.RunContext, agent flow.FlowAgent, f *Frame) (string, error) {
	for {
		if err := rc.Err(); err != nil {
			return "", err
		}

		if len(f.Pending) > 0 {
			if err := x.resolvePending(rc, agent, f); err != nil {
				return "", err
			}
		}

		resp, err := x.callModel(rc, agent, f)
		if err != nil {
			return "", err
		}

		calls := assignCallIDs(&resp.Content)
		if len(resp.Content.Parts) > 0 {
			f.Items = append(f.Items, resp.Content)
		}
		if len(calls) == 0 {
			output := outputOf(resp.Content, f.Items, f.Offset)
			rc.LogDebug("agent.completed", "output_length", len(output))
			return output, nil
		}
		f.Pending = calls
		f.Results = make(map[string]core.FunctionResponse, len(calls))
	}
}

// resolvePending executes the pending calls that have no response yet. Once
// every call is answered, the responses are appended in call order.
func (x *execution) resolvePending(rc *core.RunContext, agent flow.FlowAgent, f *Frame) error {
	if f.Results == nil {
		f.Results = make(map[string]core.FunctionResponse, len(f.Pending))
	}

	var todo []core.FunctionCall
	for _, fc := range f.Pending {
		if _, ok := f.Results[fc.ID]; !ok {
			todo = append(todo, fc)
		}
	}

	outcomes, err := x.runner.executor.Execute(rc, agent.Tools(), todo, flow.Hooks{
		Decision: x.state.Decision,
		Prepare: func(tc *core.ToolContext) {
			tc.SetDelegator(&delegator{x: x, parent: f})
		},
	})
	if err != nil {
		return err
	}
	if err := x.fatalErr(); err != nil {
		return err
	}

	var interruptions []core.Interruption
	for _, o := range outcomes {
		if o.Interrupted() {
			interruptions = append(interruptions, o.Interruptions...)
			continue
		}
		f.Results[o.Call.ID] = *o.Response
	}
	if len(interruptions) > 0 {
		return &core.InterruptedError{Interruptions: interruptions}
	}

	responses := make([]core.FunctionResponse, len(f.Pending))
	for i, fc := range f.Pending {
		responses[i] = f.Results[fc.ID]
	}
	f.Items = append(f.Items, core.NewFunctionResponseContent(responses...))
	f.Pending, f.Results = nil, nil
	return nil
}

func (x *execution) callModel(rc *core.RunContext, agent flow.FlowAgent, f *Frame) (model.Response, error) {
	if err := x.limiter.Increment(); err != nil {
		return model.Response{}, fmt.Errorf("%w: %d", ErrMaxModelCalls, x.runner.maxModelCalls)
	}

	cb := x.runner.callbacks
	if err := cb.ExecuteCallbacks(rc.Context, engine.CallbackBeforeModel, &engine.CallbackContext{Run: rc, AgentID: agent.Name()}); err != nil {
		return model.Response{}, fmt.Errorf("before_model callback: %w", err)
	}

	req, err := flow.BuildRequest(rc, flow.Turn{Agent: agent, Items: f.Items}, x.runner.processors)
	if err != nil {
		return model.Response{}, fmt.Errorf("agent %s: %w", agent.Name(), err)
	}

	ctx, span := x.runner.tracer.Start(rc.Context, "model "+agent.Model().Info().Name)
	start := time.Now()
	resp, err := model.Collect(ctx, agent.Model(), req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return model.Response{}, fmt.Errorf("agent %s: model call failed: %w", agent.Name(), err)
	}
	span.SetAttributes(attribute.String("medmesh.finish_reason", resp.FinishReason))
	span.End()

	rc.LogDebug("agent.model.response",
		"finish_reason", resp.FinishReason,
		"calls", len(resp.Content.FunctionCalls()),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if err := cb.ExecuteCallbacks(rc.Context, engine.CallbackAfterModel, &engine.CallbackContext{
		Run:     rc,
		AgentID: agent.Name(),
		Output:  resp.Content.Text(),
	}); err != nil {
		return model.Response{}, fmt.Errorf("after_model callback: %w", err)
	}
	return resp, nil
}

// assignCallIDs gives every call without an id a unique one and returns the
// calls in order.
func assignCallIDs(c *core.Content) []core.FunctionCall {
	c.Role = core.RoleAssistant
	var calls []core.FunctionCall
	for i, p := range c.Parts {
		fcp, ok := p.(core.FunctionCallPart)
		if !ok {
			continue
		}
		if fcp.FunctionCall.ID == "" {
			fcp.FunctionCall.ID = "call_" + uuid.NewString()
			c.Parts[i] = fcp
		}
		calls = append(calls, fcp.FunctionCall)
	}
	return calls
}

// delegator runs delegate agents for the tool calls of one parent frame.
type delegator struct {
	x      *execution
	parent *Frame
}

// Delegate implements core.Delegator. A paused child activation stays on the
// parent frame under the delegating call id and is resumed by the next call.
func (d *delegator) Delegate(tc *core.ToolContext, target core.Agent, input string) (string, error) {
	agent, ok := target.(flow.FlowAgent)
	if !ok {
		return "", fmt.Errorf("agent %s cannot be run by the runner", target.Name())
	}
	callID := tc.FunctionCallID()
	rc := tc.RunContext().Child(agentInfo(agent), callID)

	d.x.mu.Lock()
	child, resumed := d.parent.Children[callID]
	d.x.mu.Unlock()

	if !resumed {
		child = newFrame(agent.Name(), callID, rc.Depth, []core.Content{core.NewUserContent(input)})
		if err := d.x.enter(rc, child); err != nil {
			d.x.setFatal(err)
			return "", err
		}
	}

	output, err := d.x.runFrame(rc, agent, child)

	var interrupted *core.InterruptedError
	switch {
	case errors.As(err, &interrupted):
		d.x.mu.Lock()
		if d.parent.Children == nil {
			d.parent.Children = make(map[string]*Frame)
		}
		d.parent.Children[callID] = child
		d.x.mu.Unlock()
		return "", err
	case err != nil:
		d.x.setFatal(err)
		return "", err
	}

	d.x.mu.Lock()
	delete(d.parent.Children, callID)
	d.x.mu.Unlock()
	d.x.complete(child, output)
	return output, nil
}

func agentInfo(a core.Agent) core.AgentInfo {
	if i, ok := a.(interface{ Info() core.AgentInfo }); ok {
		return i.Info()
	}
	return core.AgentInfo{Name: a.Name()}
}
