package core

import (
	"sync"
	"time"
)

// Session represents one patient conversation. History is the ordered,
// role-tagged item list replayed as input on the next turn; it is replaced
// wholesale from the output of each completed run so it always reflects a
// single causal order. PendingRunID names a paused run that must be resolved
// before another turn may start.
type Session struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patient_id"`
	History      []Content `json:"history"`
	PendingRunID string    `json:"pending_run_id,omitempty"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
	mu           sync.RWMutex
}

// NewSession creates a new session for a patient.
func NewSession(id, patientID string) *Session {
	now := time.Now()
	return &Session{ID: id, PatientID: patientID, History: []Content{}, Created: now, Updated: now}
}

// GetHistory returns a defensive copy of the history.
func (s *Session) GetHistory() []Content {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneContents(s.History)
}

// SetHistory replaces the history with a copy of h.
func (s *Session) SetHistory(h []Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = CloneContents(h)
	s.Updated = time.Now()
}

// Pending returns the id of the paused run, if any.
func (s *Session) Pending() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PendingRunID
}

// SetPending records (or clears, with "") the paused run id.
func (s *Session) SetPending(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingRunID = runID
	s.Updated = time.Now()
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Session{
		ID:           s.ID,
		PatientID:    s.PatientID,
		History:      CloneContents(s.History),
		PendingRunID: s.PendingRunID,
		Created:      s.Created,
		Updated:      s.Updated,
	}
}

// SessionStore persists sessions and serializes runs per session.
type SessionStore interface {
	Create(id, patientID string) (*Session, error)
	Get(id string) (*Session, error)
	Save(session *Session) error
	// Acquire reserves the session for one run. The returned release func
	// must be called when the run (or run segment) ends.
	Acquire(id string) (release func(), err error)
}
