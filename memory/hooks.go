package memory

import (
	"context"
	"strings"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/engine"
	"github.com/hupe1980/medmesh/logging"
)

// PatientMemoryHooks injects patient memory before the patient-facing agent
// builds its instructions and persists the completed turn afterwards.
//
// On start (first entry of the scoped agent): skipped for an empty query or
// when memory was already retrieved in this run; otherwise the patient
// namespace is searched and the joined results are stored under
// core.StateKeyRetrievedMemories.
//
// On end (top-level scope of a completed run): when a retrieval happened in
// this run, the query and the run's final output are added to the patient
// namespace. Adds are therefore paired one-to-one with retrievals.
//
// Backend failures are logged and never fail the run.
type PatientMemoryHooks struct {
	store  core.MemoryStore
	agent  string
	logger logging.Logger
}

// NewPatientMemoryHooks creates hooks scoped to the agent named agentName.
func NewPatientMemoryHooks(store core.MemoryStore, agentName string, logger logging.Logger) *PatientMemoryHooks {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &PatientMemoryHooks{store: store, agent: agentName, logger: logger}
}

// Callbacks returns the engine callbacks implementing the hooks.
func (h *PatientMemoryHooks) Callbacks() []engine.Callback {
	return []engine.Callback{
		engine.NewFunctionCallback(engine.CallbackBeforeAgent, h.onStart),
		engine.NewFunctionCallback(engine.CallbackAfterAgent, h.onEnd),
	}
}

func (h *PatientMemoryHooks) onStart(ctx context.Context, cc *engine.CallbackContext) error {
	if cc.AgentID != h.agent || cc.Run == nil {
		return nil
	}
	rc := cc.Run

	query := rc.Query()
	if query == "" {
		return nil
	}
	if !rc.State.SetOnce(core.StateKeyMemoryRetrieved) {
		return nil
	}

	ns := core.PatientNamespace(rc.PatientID())
	results, err := h.store.Search(ctx, query, ns)
	if err != nil {
		h.logger.Warn("memory.search.failed", "namespace", ns.String(), "run_id", rc.RunID, "error", err.Error())
		return nil
	}

	rc.SetState(core.StateKeyRetrievedMemories, strings.Join(results, "\n"))
	h.logger.Debug("memory.injected", "namespace", ns.String(), "run_id", rc.RunID, "count", len(results))
	return nil
}

func (h *PatientMemoryHooks) onEnd(ctx context.Context, cc *engine.CallbackContext) error {
	if cc.Run == nil || !cc.Run.IsTopLevel() {
		return nil
	}
	rc := cc.Run

	query := rc.Query()
	if query == "" {
		return nil
	}
	if retrieved, _ := rc.GetState(core.StateKeyMemoryRetrieved); retrieved != true {
		return nil
	}

	ns := core.PatientNamespace(rc.PatientID())
	if err := h.store.Add(ctx, ns, core.Exchange{Query: query, Response: cc.Output}); err != nil {
		h.logger.Warn("memory.add.failed", "namespace", ns.String(), "run_id", rc.RunID, "error", err.Error())
		return nil
	}
	h.logger.Debug("memory.persisted", "namespace", ns.String(), "run_id", rc.RunID)
	return nil
}
