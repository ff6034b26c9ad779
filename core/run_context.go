package core

import (
	"context"

	"github.com/hupe1980/medmesh/logging"
)

// RunContext carries execution state & helpers for one agent activation
// inside a run. It aggregates:
//   - The ambient cancellation Context
//   - Identifiers (SessionID, RunID, Agent info, delegating call id)
//   - Nesting depth (0 for the top-level agent)
//   - The run-wide SharedState (patient id, query, injected memories, guards)
//
// Child contexts created for delegate agents share the same SharedState, so
// the context of a run is a single map no matter how deep delegation goes.
type RunContext struct {
	Context   context.Context
	SessionID string
	RunID     string
	Agent     AgentInfo
	CallID    string
	Depth     int
	State     *SharedState

	*loggerAdapter
}

// NewRunContext constructs the top-level RunContext of a run.
func NewRunContext(
	ctx context.Context,
	sessionID, runID string,
	agent AgentInfo,
	state *SharedState,
	logger logging.Logger,
) *RunContext {
	if state == nil {
		state = NewSharedState(nil)
	}
	return &RunContext{
		Context:       ctx,
		SessionID:     sessionID,
		RunID:         runID,
		Agent:         agent,
		State:         state,
		loggerAdapter: newLoggerAdapter(logger, "run_id", runID, "agent", agent.Name),
	}
}

// Child derives the context for a delegate agent entered through callID.
func (rc *RunContext) Child(agent AgentInfo, callID string) *RunContext {
	return &RunContext{
		Context:       rc.Context,
		SessionID:     rc.SessionID,
		RunID:         rc.RunID,
		Agent:         agent,
		CallID:        callID,
		Depth:         rc.Depth + 1,
		State:         rc.State,
		loggerAdapter: newLoggerAdapter(rc.Logger(), "run_id", rc.RunID, "agent", agent.Name, "depth", rc.Depth+1),
	}
}

// WithContext returns a shallow copy bound to ctx (e.g. a tracing span context).
func (rc *RunContext) WithContext(ctx context.Context) *RunContext {
	c := *rc
	c.Context = ctx
	return &c
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// GetState returns a run state value.
func (rc *RunContext) GetState(k string) (any, bool) { return rc.State.Get(k) }

// SetState stores a run state value visible to every agent of the run.
func (rc *RunContext) SetState(k string, v any) { rc.State.Set(k, v) }

// PatientID returns the patient identifier of the run.
func (rc *RunContext) PatientID() string { return rc.State.GetString(StateKeyPatientID) }

// Query returns the patient message that triggered the run.
func (rc *RunContext) Query() string { return rc.State.GetString(StateKeyQuery) }

// IsTopLevel reports whether this context belongs to the agent the run was started with.
func (rc *RunContext) IsTopLevel() bool { return rc.Depth == 0 }
