package core

import (
	"maps"
	"sync"
)

// Well-known run state keys.
const (
	// StateKeyPatientID holds the patient identifier of the active session.
	StateKeyPatientID = "patient_id"
	// StateKeyQuery holds the patient message that triggered the run. Empty for
	// system-initiated turns such as the greeting.
	StateKeyQuery = "query"
	// StateKeyRetrievedMemories holds the joined patient memories injected into
	// instruction templates.
	StateKeyRetrievedMemories = "retrieved_memories"
	// StateKeyMemoryRetrieved marks that patient memory was fetched in this run.
	StateKeyMemoryRetrieved = "memory_retrieved"
)

// SharedState is the mutable key/value context of one run. A single instance
// is shared by the top-level agent and every delegate it enters, so flags set
// by one agent are visible to all others. Values must be JSON-serializable to
// survive checkpointing.
type SharedState struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSharedState creates a state seeded with a copy of initial.
func NewSharedState(initial map[string]any) *SharedState {
	values := make(map[string]any, len(initial))
	maps.Copy(values, initial)
	return &SharedState{values: values}
}

// Get returns the value stored under k.
func (s *SharedState) Get(k string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[k]
	return v, ok
}

// GetString returns the value under k when it is a string, else "".
func (s *SharedState) GetString(k string) string {
	v, _ := s.Get(k)
	str, _ := v.(string)
	return str
}

// Set stores v under k.
func (s *SharedState) Set(k string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[k] = v
}

// SetOnce sets k to true and reports whether this call was the first to do so.
// It is the run-wide guard used for at-most-once side effects.
func (s *SharedState) SetOnce(k string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[k].(bool); ok && v {
		return false
	}
	s.values[k] = true
	return true
}

// Snapshot returns a copy of all values.
func (s *SharedState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	maps.Copy(out, s.values)
	return out
}
