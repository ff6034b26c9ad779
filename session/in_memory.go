package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/medmesh/core"
)

var (
	// ErrNotFound is returned by Get for an unknown session id.
	ErrNotFound = errors.New("session: not found")
	// ErrRunInProgress is returned by Acquire while another run holds the session.
	ErrRunInProgress = errors.New("session: run in progress")
)

// InMemoryStore is a volatile SessionStore implementation storing
// sessions in a process local map. It is safe for concurrent access. Each
// returned session is cloned to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	active   map[string]struct{}
}

var _ core.SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*core.Session),
		active:   make(map[string]struct{}),
	}
}

// Create stores a new session (overwriting any session with the same id).
func (s *InMemoryStore) Create(id, patientID string) (*core.Session, error) {
	if patientID == "" {
		patientID = core.DefaultPatientID
	}
	sess := core.NewSession(id, patientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = sess
	return sess.Clone(), nil
}

// Get returns a clone of the session.
func (s *InMemoryStore) Get(id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess.Clone(), nil
}

// Save stores a clone of the provided session snapshot.
func (s *InMemoryStore) Save(session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, session.ID)
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

// Acquire reserves the session for one run. It fails fast with
// ErrRunInProgress instead of queueing; the release func is idempotent.
func (s *InMemoryStore) Acquire(id string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, busy := s.active[id]; busy {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, id)
	}
	s.active[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.active, id)
		})
	}, nil
}
