package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/hupe1980/medmesh/core"
)

// SearchCall records one MemoryStore.Search invocation.
type SearchCall struct {
	Query     string
	Namespace core.Namespace
}

// AddCall records one MemoryStore.Add invocation.
type AddCall struct {
	Namespace core.Namespace
	Exchange  core.Exchange
}

// RecordingStore is a core.MemoryStore fake that records every call. Search
// returns the records of the namespace containing any query word
// (case-insensitive); SearchErr / AddErr inject backend failures.
type RecordingStore struct {
	mu        sync.Mutex
	records   map[core.Namespace][]string
	searches  []SearchCall
	adds      []AddCall
	SearchErr error
	AddErr    error
}

// NewRecordingStore creates an empty store.
func NewRecordingStore() *RecordingStore {
	return &RecordingStore{records: map[core.Namespace][]string{}}
}

// Seed stores raw snippets under ns without recording an add.
func (s *RecordingStore) Seed(ns core.Namespace, snippets ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ns] = append(s.records[ns], snippets...)
}

// Search implements core.MemoryStore.
func (s *RecordingStore) Search(_ context.Context, query string, ns core.Namespace) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, SearchCall{Query: query, Namespace: ns})
	if s.SearchErr != nil {
		return nil, core.NewMemoryBackendError("search", ns, s.SearchErr)
	}
	words := strings.Fields(strings.ToLower(query))
	out := []string{}
	for _, rec := range s.records[ns] {
		lower := strings.ToLower(rec)
		for _, w := range words {
			if strings.Contains(lower, w) {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

// Add implements core.MemoryStore.
func (s *RecordingStore) Add(_ context.Context, ns core.Namespace, ex core.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adds = append(s.adds, AddCall{Namespace: ns, Exchange: ex})
	if s.AddErr != nil {
		return core.NewMemoryBackendError("add", ns, s.AddErr)
	}
	s.records[ns] = append(s.records[ns], ex.Text())
	return nil
}

// Searches returns recorded searches, optionally filtered by namespace.
func (s *RecordingStore) Searches(ns ...core.Namespace) []SearchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SearchCall
	for _, c := range s.searches {
		if len(ns) == 0 || c.Namespace == ns[0] {
			out = append(out, c)
		}
	}
	return out
}

// Adds returns recorded adds, optionally filtered by namespace.
func (s *RecordingStore) Adds(ns ...core.Namespace) []AddCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AddCall
	for _, c := range s.adds {
		if len(ns) == 0 || c.Namespace == ns[0] {
			out = append(out, c)
		}
	}
	return out
}
