package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/hupe1980/medmesh/core"
)

// DefaultSearchLimit bounds the number of snippets returned by Search.
const DefaultSearchLimit = 5

// InMemoryStore is a naive process-local MemoryStore.
//
// Concurrency: protected by RWMutex.
// Search: linear scan of the namespace, ranking records by the number of
// distinct query tokens they contain (ties keep insertion order). Records
// sharing no token with the query are not returned. Suitable only for tests
// and demos; use SQLiteStore or mem0 for durable retrieval.
type InMemoryStore struct {
	mu      sync.RWMutex
	limit   int
	records map[core.Namespace][]string
}

// NewInMemoryStore creates a new in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		limit:   DefaultSearchLimit,
		records: make(map[core.Namespace][]string),
	}
}

// Search implements core.MemoryStore.
func (m *InMemoryStore) Search(ctx context.Context, query string, ns core.Namespace) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.NewMemoryBackendError("search", ns, err)
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []string{}, nil
	}

	m.mu.RLock()
	records := m.records[ns]
	type hit struct {
		idx   int
		score int
	}
	hits := make([]hit, 0, len(records))
	for i, rec := range records {
		recTerms := tokenize(rec)
		score := 0
		for t := range terms {
			if _, ok := recTerms[t]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{idx: i, score: score})
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > m.limit {
		hits = hits[:m.limit]
	}

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = records[h.idx]
	}
	return out, nil
}

// Add implements core.MemoryStore.
func (m *InMemoryStore) Add(ctx context.Context, ns core.Namespace, ex core.Exchange) error {
	if err := ctx.Err(); err != nil {
		return core.NewMemoryBackendError("add", ns, err)
	}
	text := ex.Text()
	if text == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[ns] = append(m.records[ns], text)
	return nil
}

// Len returns the number of records stored under ns.
func (m *InMemoryStore) Len(ns core.Namespace) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[ns])
}

// tokenize lower-cases s and splits it on anything that is not a letter or digit.
func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}
