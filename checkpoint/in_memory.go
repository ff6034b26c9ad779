package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/medmesh/runner"
)

type record struct {
	sessionID string
	data      []byte
	savedAt   time.Time
}

// InMemoryStore keeps encoded checkpoints in a map. Callers get independent
// copies on every Load.
type InMemoryStore struct {
	mu      sync.RWMutex
	opts    Options
	records map[string]record
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{opts: opts, records: make(map[string]record)}
}

// Save implements Store.
func (s *InMemoryStore) Save(_ context.Context, state *runner.RunState) error {
	data, err := state.Marshal()
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", state.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[state.ID] = record{sessionID: state.SessionID, data: data, savedAt: s.opts.Now()}
	return nil
}

// Load implements Store.
func (s *InMemoryStore) Load(_ context.Context, id string) (*runner.RunState, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	state, err := runner.UnmarshalRunState(rec.data)
	if err != nil {
		return nil, err
	}
	if s.opts.expired(rec.savedAt) {
		return state, fmt.Errorf("%w: %s", ErrExpired, id)
	}
	return state, nil
}

// Delete implements Store. Deleting an unknown id is not an error.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// List implements Store.
func (s *InMemoryStore) List(_ context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		id      string
		savedAt time.Time
	}
	var entries []entry
	for id, rec := range s.records {
		if rec.sessionID == sessionID {
			entries = append(entries, entry{id: id, savedAt: rec.savedAt})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].savedAt.Equal(entries[j].savedAt) {
			return entries[i].id < entries[j].id
		}
		return entries[i].savedAt.Before(entries[j].savedAt)
	})

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

// Prune implements Store.
func (s *InMemoryStore) Prune(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.records {
		if s.opts.expired(rec.savedAt) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}
