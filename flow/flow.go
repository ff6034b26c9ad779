// Package flow provides the request assembly and tool execution stages that
// the runner drives for every agent turn.
//
// A turn builds a model.Request through an ordered list of RequestProcessors
// (instructions, tool declarations, conversation contents), calls the model,
// and hands any requested function calls to the Executor. The Executor
// dispatches every tool, including delegation to other agents, the same way
// and applies approval gating before a tool body runs.
package flow

import (
	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/model"
	"github.com/hupe1980/medmesh/tool"
)

// FlowAgent defines the interface that agents must implement to be driven by
// the runner. It exposes agent capabilities without the implementation details.
type FlowAgent interface {
	core.Agent

	// Model returns the language model instance.
	Model() model.Model

	// ResolveInstructions renders the system instructions for the activation.
	ResolveInstructions(runCtx *core.RunContext) (string, error)

	// Tools returns the registered tools in declaration order.
	Tools() []tool.Tool
}

// Turn is the input to request assembly: the agent and the items visible to
// it for this model call.
type Turn struct {
	Agent FlowAgent
	Items []core.Content
}

// RequestProcessor processes the request before sending it to the model.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the model request before execution.
	ProcessRequest(runCtx *core.RunContext, turn Turn, req *model.Request) error
}
