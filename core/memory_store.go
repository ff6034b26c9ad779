package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NamespaceKind partitions memory records by purpose.
type NamespaceKind string

const (
	// NamespacePatient holds patient conversation exchanges.
	NamespacePatient NamespaceKind = "patient"
	// NamespaceResearch holds research findings saved by agents.
	NamespaceResearch NamespaceKind = "research"
)

// DefaultPatientID is used when a run carries no patient id.
const DefaultPatientID = "default"

// Namespace is the key a memory record is scoped to: "{kind}_{patient_id}".
// Patient and research namespaces of the same patient never overlap.
type Namespace string

// NewNamespace builds the namespace for kind and patientID.
func NewNamespace(kind NamespaceKind, patientID string) Namespace {
	if patientID == "" {
		patientID = DefaultPatientID
	}
	return Namespace(string(kind) + "_" + patientID)
}

// PatientNamespace returns "patient_{id}".
func PatientNamespace(patientID string) Namespace { return NewNamespace(NamespacePatient, patientID) }

// ResearchNamespace returns "research_{id}".
func ResearchNamespace(patientID string) Namespace {
	return NewNamespace(NamespaceResearch, patientID)
}

// Kind returns the namespace kind, or "" when the key is not well formed.
func (n Namespace) Kind() NamespaceKind {
	kind, _, ok := strings.Cut(string(n), "_")
	if !ok {
		return ""
	}
	switch NamespaceKind(kind) {
	case NamespacePatient, NamespaceResearch:
		return NamespaceKind(kind)
	}
	return ""
}

// String implements fmt.Stringer.
func (n Namespace) String() string { return string(n) }

// Message is one role-tagged line of an exchange as sent to memory backends.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Exchange is a query/response pair appended to memory.
type Exchange struct {
	Query    string
	Response string
}

// Messages renders the exchange as a user/assistant message pair.
func (e Exchange) Messages() []Message {
	return []Message{
		{Role: RoleUser, Content: e.Query},
		{Role: RoleAssistant, Content: e.Response},
	}
}

// Text renders the exchange as a single searchable snippet.
func (e Exchange) Text() string {
	return strings.TrimSpace(strings.TrimSpace(e.Query) + "\n" + strings.TrimSpace(e.Response))
}

// MemoryStore is the contract around a semantic memory backend keyed by
// namespace. Search returns snippets ordered by relevance and an empty slice,
// never an error, when nothing matches. Backend failures are reported as
// *MemoryBackendError.
type MemoryStore interface {
	Search(ctx context.Context, query string, ns Namespace) ([]string, error)
	Add(ctx context.Context, ns Namespace, ex Exchange) error
}

// MemoryBackendError reports a failure of the memory backend itself
// (unreachable, rejected request, storage error).
type MemoryBackendError struct {
	Op        string
	Namespace Namespace
	Err       error
}

func (e *MemoryBackendError) Error() string {
	return fmt.Sprintf("memory backend %s %s: %v", e.Op, e.Namespace, e.Err)
}

// Unwrap returns the underlying error.
func (e *MemoryBackendError) Unwrap() error { return e.Err }

// NewMemoryBackendError wraps err unless it already is a MemoryBackendError.
func NewMemoryBackendError(op string, ns Namespace, err error) error {
	if err == nil {
		return nil
	}
	var mbe *MemoryBackendError
	if errors.As(err, &mbe) {
		return err
	}
	return &MemoryBackendError{Op: op, Namespace: ns, Err: err}
}

// IsMemoryBackendError reports whether err is, or wraps, a MemoryBackendError.
func IsMemoryBackendError(err error) bool {
	var mbe *MemoryBackendError
	return errors.As(err, &mbe)
}
