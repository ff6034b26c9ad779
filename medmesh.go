// Package medmesh wires the medical agents, the run state machine, patient
// memory hooks, session storage and approval checkpoints into a Service,
// and drives patient conversations through it.
//
// A conversation alternates greeting, patient turns and reviewer decisions:
//
//	svc, _ := medmesh.New(llm, pubmed.NewClient())
//	conv, _ := svc.Start("p1")
//	reply, _ := conv.Greet(ctx)
//	reply, _ = conv.Send(ctx, "I have Fabry disease")
//	for reply.Status == runner.StatusAwaitingApproval {
//		decisions := map[string]core.Decision{}
//		for _, a := range reply.Approvals {
//			decisions[a.CallID] = core.Approve()
//		}
//		reply, _ = conv.Resolve(ctx, decisions)
//	}
//
// Only one run is active per session. While a run awaits approval the
// session accepts nothing but Resolve.
package medmesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/medmesh/checkpoint"
	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/engine"
	"github.com/hupe1980/medmesh/logging"
	"github.com/hupe1980/medmesh/medical"
	"github.com/hupe1980/medmesh/memory"
	"github.com/hupe1980/medmesh/model"
	"github.com/hupe1980/medmesh/prompts"
	"github.com/hupe1980/medmesh/runner"
	"github.com/hupe1980/medmesh/session"
	"github.com/hupe1980/medmesh/tool"
	"github.com/hupe1980/medmesh/tool/clinical"
)

// ExpiredRejectionMessage is the rejection given to approvals whose
// checkpoint outlived the checkpoint store TTL.
const ExpiredRejectionMessage = "Summary rejected: the review window expired."

var (
	// ErrEmptyMessage is returned by Send for a blank patient message.
	ErrEmptyMessage = errors.New("medmesh: empty message")
	// ErrRunPending is returned by Greet and Send while a run awaits approval.
	ErrRunPending = errors.New("medmesh: a run is awaiting approval")
	// ErrMissingDecision is returned by Resolve when a pending approval has no decision.
	ErrMissingDecision = errors.New("medmesh: missing decision")
)

// Options configures a Service.
type Options struct {
	// Memory backs patient and research memory (default memory.NewInMemoryStore()).
	Memory core.MemoryStore
	// Sessions stores conversations (default session.NewInMemoryStore()).
	Sessions core.SessionStore
	// Checkpoints stores paused runs (default checkpoint.NewInMemoryStore()).
	Checkpoints checkpoint.Store
	// Prompts selects the role prompts (default prompts.DefaultVersion).
	Prompts *prompts.Set
	// Models overrides the model of individual agents by agent name.
	Models map[string]model.Model
	// Retry wraps the external tools; nil disables retries.
	Retry *tool.RetryConfig
	// MaxModelCalls and MaxParallelTools bound each run (0 keeps runner defaults).
	MaxModelCalls    int
	MaxParallelTools int
	// Callbacks are appended after the memory hooks.
	Callbacks []engine.Callback
	// Logger defaults to logging.NoOpLogger.
	Logger logging.Logger
}

// Service is the entry point for patient conversations.
type Service struct {
	agents      *medical.Agents
	runner      *runner.Runner
	sessions    core.SessionStore
	checkpoints checkpoint.Store
	memory      core.MemoryStore
	logger      logging.Logger
}

// New builds the agent graph around llm and searcher and returns a Service.
func New(llm model.Model, searcher clinical.LiteratureSearcher, optFns ...func(o *Options)) (*Service, error) {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewInMemoryStore()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewInMemoryStore()
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = checkpoint.NewInMemoryStore()
	}

	tools := clinical.NewToolset(searcher, opts.Memory, opts.Retry)
	agents, err := medical.NewAgents(llm, tools, func(o *medical.Options) {
		o.Prompts = opts.Prompts
		o.Models = opts.Models
	})
	if err != nil {
		return nil, err
	}

	hooks := memory.NewPatientMemoryHooks(opts.Memory, medical.PatientFacingAgent, opts.Logger)
	callbacks := append(hooks.Callbacks(), engine.LifecycleLogging(opts.Logger)...)
	callbacks = append(callbacks, opts.Callbacks...)

	r := runner.New(func(o *runner.Options) {
		if opts.MaxModelCalls > 0 {
			o.MaxModelCalls = opts.MaxModelCalls
		}
		if opts.MaxParallelTools > 0 {
			o.MaxParallelTools = opts.MaxParallelTools
		}
		o.Callbacks = callbacks
		o.Logger = opts.Logger
	})

	return &Service{
		agents:      agents,
		runner:      r,
		sessions:    opts.Sessions,
		checkpoints: opts.Checkpoints,
		memory:      opts.Memory,
		logger:      opts.Logger,
	}, nil
}

// Agents returns the wired agent graph.
func (s *Service) Agents() *medical.Agents { return s.agents }

// Start opens a new conversation for patientID ("" uses core.DefaultPatientID).
func (s *Service) Start(patientID string) (*Conversation, error) {
	sess, err := s.sessions.Create(uuid.NewString(), strings.TrimSpace(patientID))
	if err != nil {
		return nil, err
	}
	s.logger.Info("conversation.start", "session_id", sess.ID, "patient_id", sess.PatientID)
	return &Conversation{svc: s, id: sess.ID, patientID: sess.PatientID}, nil
}

// Conversation reattaches to an existing session.
func (s *Service) Conversation(sessionID string) (*Conversation, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return &Conversation{svc: s, id: sess.ID, patientID: sess.PatientID}, nil
}

// Approval is a pending reviewer decision.
type Approval struct {
	CallID  string
	Agent   string
	Tool    string
	Summary string
}

// Reply is the outcome of one conversation step.
type Reply struct {
	Status runner.Status
	// Output is the assistant message of a completed run.
	Output string
	// Approvals lists the decisions a paused run waits for.
	Approvals []Approval
}

// SummaryOf returns the text a reviewer is asked to approve: the summary
// argument of the gated call, or the raw arguments when they do not decode.
func SummaryOf(in core.Interruption) string {
	var args clinical.ReviewArgs
	if err := json.Unmarshal([]byte(in.Arguments), &args); err != nil || args.Summary == "" {
		return in.Arguments
	}
	return args.Summary
}

// Conversation drives one patient session.
type Conversation struct {
	svc       *Service
	id        string
	patientID string
}

// ID returns the session id.
func (c *Conversation) ID() string { return c.id }

// PatientID returns the patient the session belongs to.
func (c *Conversation) PatientID() string { return c.patientID }

// Greet runs the opening turn. The greeting carries no patient query, so
// memory is neither read nor written.
func (c *Conversation) Greet(ctx context.Context) (*Reply, error) {
	return c.turn(ctx, medical.GreetingInput, "")
}

// Send runs one patient turn.
func (c *Conversation) Send(ctx context.Context, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	return c.turn(ctx, message, message)
}

func (c *Conversation) turn(ctx context.Context, input, query string) (*Reply, error) {
	release, err := c.svc.sessions.Acquire(c.id)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := c.svc.sessions.Get(c.id)
	if err != nil {
		return nil, err
	}
	if sess.Pending() != "" {
		reply, err := c.expire(ctx, sess)
		if err != nil {
			return nil, err
		}
		if reply == nil || reply.Status == runner.StatusAwaitingApproval {
			return nil, ErrRunPending
		}
	}

	res, err := c.svc.runner.Run(ctx, c.svc.agents.Orchestrator, runner.Input{
		SessionID: c.id,
		History:   sess.GetHistory(),
		Message:   input,
		Values: map[string]any{
			core.StateKeyPatientID: sess.PatientID,
			core.StateKeyQuery:     query,
		},
	})
	if err != nil {
		return nil, err
	}
	return c.settle(ctx, sess, res)
}

// Pending returns the approvals of the paused run that still need a
// decision. An expired pending run is auto-rejected first, in which case the
// result is empty. A paused run whose decisions are all recorded also has no
// pending approvals; Resolve with no decisions resumes it.
func (c *Conversation) Pending(ctx context.Context) ([]Approval, error) {
	release, err := c.svc.sessions.Acquire(c.id)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := c.svc.sessions.Get(c.id)
	if err != nil {
		return nil, err
	}
	if sess.Pending() == "" {
		return nil, nil
	}
	if _, err := c.expire(ctx, sess); err != nil {
		return nil, err
	}
	if sess.Pending() == "" {
		return nil, nil
	}
	st, err := c.svc.checkpoints.Load(ctx, sess.Pending())
	if err != nil {
		return nil, err
	}
	return approvals(st.Pending()), nil
}

// Resolve applies one decision per undecided approval and resumes the
// paused run. Decisions are checkpointed before the resume, so after a
// failed resume a later Resolve needs no decisions for the calls already
// decided. The resumed run may pause again on a nested approval.
func (c *Conversation) Resolve(ctx context.Context, decisions map[string]core.Decision) (*Reply, error) {
	release, err := c.svc.sessions.Acquire(c.id)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := c.svc.sessions.Get(c.id)
	if err != nil {
		return nil, err
	}
	if sess.Pending() == "" {
		return nil, runner.ErrRunNotPaused
	}

	st, err := c.svc.checkpoints.Load(ctx, sess.Pending())
	if errors.Is(err, checkpoint.ErrExpired) {
		return c.rejectAll(ctx, sess, st)
	}
	if err != nil {
		return nil, err
	}

	for _, in := range st.Pending() {
		d, ok := decisions[in.CallID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingDecision, in.CallID)
		}
		if d.Approved {
			err = st.Approve(in.CallID)
		} else {
			err = st.Reject(in.CallID, d.RejectionMessage())
		}
		if err != nil {
			return nil, err
		}
		c.svc.logger.Info("conversation.decision", "session_id", c.id, "call_id", in.CallID, "approved", d.Approved)
	}
	if err := c.svc.checkpoints.Save(ctx, st); err != nil {
		return nil, err
	}
	return c.resume(ctx, sess, st)
}

// History returns the conversation items of completed runs.
func (c *Conversation) History() ([]core.Content, error) {
	sess, err := c.svc.sessions.Get(c.id)
	if err != nil {
		return nil, err
	}
	return sess.GetHistory(), nil
}

// expire auto-rejects the pending run when its checkpoint expired and
// returns the resumed reply; it returns nil when the run is still pending.
// A missing checkpoint clears the pending marker.
func (c *Conversation) expire(ctx context.Context, sess *core.Session) (*Reply, error) {
	st, err := c.svc.checkpoints.Load(ctx, sess.Pending())
	switch {
	case errors.Is(err, checkpoint.ErrExpired):
		return c.rejectAll(ctx, sess, st)
	case errors.Is(err, checkpoint.ErrNotFound):
		c.svc.logger.Warn("conversation.checkpoint.missing", "session_id", c.id, "run_id", sess.Pending())
		sess.SetPending("")
		if err := c.svc.sessions.Save(sess); err != nil {
			return nil, err
		}
		return &Reply{Status: runner.StatusCompleted}, nil
	case err != nil:
		return nil, err
	default:
		return nil, nil
	}
}

func (c *Conversation) rejectAll(ctx context.Context, sess *core.Session, st *runner.RunState) (*Reply, error) {
	for _, in := range st.Pending() {
		if err := st.Reject(in.CallID, ExpiredRejectionMessage); err != nil {
			return nil, err
		}
	}
	c.svc.logger.Warn("conversation.approval.expired", "session_id", c.id, "run_id", st.ID)
	return c.resume(ctx, sess, st)
}

func (c *Conversation) resume(ctx context.Context, sess *core.Session, st *runner.RunState) (*Reply, error) {
	res, err := c.svc.runner.Resume(ctx, c.svc.agents.Orchestrator, st)
	if err != nil {
		return nil, err
	}
	return c.settle(ctx, sess, res)
}

// settle records the run result on the session: a completed run replaces
// the history and drops its checkpoint, a paused run is checkpointed.
func (c *Conversation) settle(ctx context.Context, sess *core.Session, res *runner.Result) (*Reply, error) {
	switch res.Status {
	case runner.StatusAwaitingApproval:
		if err := c.svc.checkpoints.Save(ctx, res.State); err != nil {
			return nil, err
		}
		sess.SetPending(res.State.ID)
		if err := c.svc.sessions.Save(sess); err != nil {
			return nil, err
		}
		return &Reply{Status: res.Status, Approvals: approvals(res.Interruptions)}, nil
	default:
		if pending := sess.Pending(); pending != "" {
			if err := c.svc.checkpoints.Delete(ctx, pending); err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
				return nil, err
			}
		}
		sess.SetPending("")
		sess.SetHistory(res.History)
		if err := c.svc.sessions.Save(sess); err != nil {
			return nil, err
		}
		return &Reply{Status: res.Status, Output: res.Output}, nil
	}
}

func approvals(ins []core.Interruption) []Approval {
	out := make([]Approval, 0, len(ins))
	for _, in := range ins {
		out = append(out, Approval{CallID: in.CallID, Agent: in.Agent, Tool: in.ToolName, Summary: SummaryOf(in)})
	}
	return out
}
