package runner

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/medmesh/core"
)

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusRunning is the state of a run that is executing.
	StatusRunning Status = "running"
	// StatusAwaitingApproval means the run is paused on one or more
	// reviewer-gated tool calls.
	StatusAwaitingApproval Status = "awaiting_approval"
	// StatusCompleted is terminal.
	StatusCompleted Status = "completed"
)

// Frame is one agent activation: the top-level agent, or a delegate entered
// through a tool call of its parent. A paused run keeps its frames so that
// resuming continues each activation where it stopped.
type Frame struct {
	Agent  string `json:"agent"`
	CallID string `json:"call_id,omitempty"`
	Depth  int    `json:"depth"`

	// Items is everything the agent sees: its input followed by the items
	// generated during the activation. Items[:Offset] is the input.
	Items  []core.Content `json:"items"`
	Offset int            `json:"offset"`

	// Pending holds the calls of the last model turn until each has a
	// response. Results collects the responses resolved so far, so a call is
	// never executed twice across resumes.
	Pending []core.FunctionCall              `json:"pending,omitempty"`
	Results map[string]core.FunctionResponse `json:"results,omitempty"`

	// Children are paused delegate activations keyed by the delegating call id.
	Children map[string]*Frame `json:"children,omitempty"`
}

func newFrame(agent, callID string, depth int, input []core.Content) *Frame {
	return &Frame{
		Agent:  agent,
		CallID: callID,
		Depth:  depth,
		Items:  core.CloneContents(input),
		Offset: len(input),
	}
}

// NewItems returns the items generated during the activation.
func (f *Frame) NewItems() []core.Content {
	return core.CloneContents(f.Items[f.Offset:])
}

// Scope records an entered agent activation for the after_agent callbacks.
type Scope struct {
	Agent  string `json:"agent"`
	CallID string `json:"call_id,omitempty"`
	Depth  int    `json:"depth"`
	Output string `json:"output,omitempty"`
	Done   bool   `json:"done"`
}

// RunState is the serializable checkpoint of a run. It is returned with every
// Result; a paused state is decided with Approve/Reject/Decide and handed to
// Runner.Resume.
type RunState struct {
	ID            string                   `json:"id"`
	SessionID     string                   `json:"session_id"`
	Status        Status                   `json:"status"`
	Values        map[string]any           `json:"values"`
	Root          *Frame                   `json:"root"`
	Decisions     map[string]core.Decision `json:"decisions,omitempty"`
	Interruptions []core.Interruption      `json:"interruptions,omitempty"`
	Scopes        []Scope                  `json:"scopes,omitempty"`
	ModelCalls    int                      `json:"model_calls"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// Approve records an approval for the interruption raised by callID.
func (s *RunState) Approve(callID string) error {
	return s.decide(callID, core.Approve())
}

// Reject records a rejection; message is what the calling agent sees in
// place of the tool output (empty selects core.DefaultRejectionMessage).
func (s *RunState) Reject(callID, message string) error {
	return s.decide(callID, core.Reject(message))
}

// Decide records free-form reviewer input. Anything other than an explicit
// "y" is a rejection with the default message.
func (s *RunState) Decide(callID, raw string) error {
	return s.decide(callID, core.ParseDecision(raw))
}

func (s *RunState) decide(callID string, d core.Decision) error {
	if s.Status != StatusAwaitingApproval {
		return ErrRunNotPaused
	}
	if !s.hasInterruption(callID) {
		return fmt.Errorf("%w: %s", ErrUnknownInterruption, callID)
	}
	if s.Decisions == nil {
		s.Decisions = make(map[string]core.Decision)
	}
	s.Decisions[callID] = d
	s.UpdatedAt = time.Now()
	return nil
}

func (s *RunState) hasInterruption(callID string) bool {
	for _, in := range s.Interruptions {
		if in.CallID == callID {
			return true
		}
	}
	return false
}

// Pending returns the interruptions that have no decision yet.
func (s *RunState) Pending() []core.Interruption {
	var out []core.Interruption
	for _, in := range s.Interruptions {
		if _, ok := s.Decisions[in.CallID]; !ok {
			out = append(out, in)
		}
	}
	return out
}

// Decision returns the decision recorded for callID.
func (s *RunState) Decision(callID string) (core.Decision, bool) {
	d, ok := s.Decisions[callID]
	return d, ok
}

// Marshal encodes the state as JSON.
func (s *RunState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalRunState decodes a state produced by Marshal.
func UnmarshalRunState(data []byte) (*RunState, error) {
	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("runner: decode run state: %w", err)
	}
	if s.Root == nil {
		return nil, fmt.Errorf("runner: decode run state: missing root frame")
	}
	return &s, nil
}

// Clone returns a deep copy of the state.
func (s *RunState) Clone() (*RunState, error) {
	data, err := s.Marshal()
	if err != nil {
		return nil, fmt.Errorf("runner: encode run state: %w", err)
	}
	return UnmarshalRunState(data)
}
