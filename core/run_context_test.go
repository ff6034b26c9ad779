package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/medmesh/logging"
)

func newRunContextForTest() *RunContext {
	state := NewSharedState(map[string]any{StateKeyPatientID: "p1", StateKeyQuery: "hello"})
	return NewRunContext(context.Background(), "s1", "run-1", AgentInfo{Name: "orchestrator", Type: "orchestrator"}, state, logging.NoOpLogger{})
}

func TestRunContext_ChildSharesState(t *testing.T) {
	rc := newRunContextForTest()
	child := rc.Child(AgentInfo{Name: "patient_facing"}, "call-1")

	if child.Depth != 1 || child.CallID != "call-1" || child.IsTopLevel() {
		t.Fatalf("unexpected child scope: %+v", child)
	}
	child.SetState(StateKeyRetrievedMemories, "likes tea")
	if v, _ := rc.GetState(StateKeyRetrievedMemories); v != "likes tea" {
		t.Fatal("child state writes must be visible to the parent")
	}
	if rc.PatientID() != "p1" || child.Query() != "hello" {
		t.Fatal("patient id and query must be readable from any scope")
	}
}

func TestSharedState_SetOnceIsRunWide(t *testing.T) {
	state := NewSharedState(nil)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if state.SetOnce(StateKeyMemoryRetrieved) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestSharedState_SnapshotIsCopy(t *testing.T) {
	state := NewSharedState(map[string]any{"a": 1})
	snap := state.Snapshot()
	snap["a"] = 2
	if v, _ := state.Get("a"); v != 1 {
		t.Fatal("snapshot must not alias state")
	}
}

func TestModelLimiter_SeededCount(t *testing.T) {
	l := NewModelLimiter(3, 2)
	if err := l.Increment(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Increment(); err == nil {
		t.Fatal("expected limit error")
	}
	if l.Count() != 3 || l.Remaining() != 0 {
		t.Fatalf("unexpected counters: %d %d", l.Count(), l.Remaining())
	}
}

func TestParseDecision(t *testing.T) {
	if !ParseDecision(" Y ").Approved || !ParseDecision("y").Approved {
		t.Fatal("y must approve")
	}
	for _, raw := range []string{"", "n", "maybe", "approve?", "yes", "YES", "yy"} {
		d := ParseDecision(raw)
		if d.Approved {
			t.Fatalf("%q must not approve", raw)
		}
		if d.RejectionMessage() != DefaultRejectionMessage {
			t.Fatalf("unexpected rejection message %q", d.RejectionMessage())
		}
	}
	if Reject("").RejectionMessage() != DefaultRejectionMessage {
		t.Fatal("empty reject message falls back to default")
	}
}
