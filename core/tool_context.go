package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/medmesh/logging"
)

// Delegator runs another agent on behalf of a tool call. The runner installs
// one per agent activation so delegate tools can enter nested agents (and
// resume them after an interruption) through the ordinary tool interface.
type Delegator interface {
	Delegate(toolCtx *ToolContext, target Agent, input string) (string, error)
}

// ToolContext provides a constrained surface for tool implementations invoked
// by an agent: the run state, the originating call and, when present, the
// reviewer decision and delegation service.
type ToolContext struct {
	runCtx    *RunContext
	call      FunctionCall
	decision  *Decision
	delegator Delegator

	*loggerAdapter
}

// NewToolContext constructs a tool context bound to a parent RunContext and call.
func NewToolContext(runCtx *RunContext, call FunctionCall) *ToolContext {
	return &ToolContext{
		runCtx:        runCtx,
		call:          call,
		loggerAdapter: runCtx.loggerAdapter.with("tool", call.Name, "fc_id", call.ID),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.runCtx.Context }

// RunContext returns the activation this tool call belongs to.
func (tc *ToolContext) RunContext() *RunContext { return tc.runCtx }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.call.ID }

// FunctionCall returns the raw call including unparsed arguments.
func (tc *ToolContext) FunctionCall() FunctionCall { return tc.call }

// AgentName returns the name of the agent that issued the call.
func (tc *ToolContext) AgentName() string { return tc.runCtx.Agent.Name }

// GetState retrieves a run state value.
func (tc *ToolContext) GetState(k string) (any, bool) { return tc.runCtx.GetState(k) }

// SetState stores a run state value.
func (tc *ToolContext) SetState(k string, v any) { tc.runCtx.SetState(k, v) }

// PatientID returns the patient of the run.
func (tc *ToolContext) PatientID() string { return tc.runCtx.PatientID() }

// SetDecision attaches the reviewer decision for this call.
func (tc *ToolContext) SetDecision(d Decision) { tc.decision = &d }

// Decision returns the reviewer decision for this call, if one was made.
func (tc *ToolContext) Decision() (Decision, bool) {
	if tc.decision == nil {
		return Decision{}, false
	}
	return *tc.decision, true
}

// SetDelegator installs the delegation service.
func (tc *ToolContext) SetDelegator(d Delegator) { tc.delegator = d }

// Delegate runs target with input and returns its final textual output. A
// nested interruption is returned as *InterruptedError.
func (tc *ToolContext) Delegate(target Agent, input string) (string, error) {
	if tc.delegator == nil {
		return "", fmt.Errorf("delegation not available for tool %s", tc.call.Name)
	}
	return tc.delegator.Delegate(tc, target, input)
}
