package testutil

import (
	"github.com/hupe1980/medmesh/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").Patient("p1").History(c1, c2).Build()
type SessionBuilder struct {
	id        string
	patientID string
	history   []core.Content
	pending   string
}

// NewSessionBuilder creates a new builder for a session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, patientID: core.DefaultPatientID}
}

// Patient sets the patient id (chainable).
func (b *SessionBuilder) Patient(id string) *SessionBuilder {
	b.patientID = id
	return b
}

// History appends history items (chainable).
func (b *SessionBuilder) History(items ...core.Content) *SessionBuilder {
	b.history = append(b.history, items...)
	return b
}

// Pending marks the session as waiting on a paused run (chainable).
func (b *SessionBuilder) Pending(runID string) *SessionBuilder {
	b.pending = runID
	return b
}

// Build returns a *core.Session with pre-populated history.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id, b.patientID)
	s.SetHistory(b.history)
	if b.pending != "" {
		s.SetPending(b.pending)
	}
	return s
}
