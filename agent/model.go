package agent

import (
	"fmt"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/model"
	"github.com/hupe1980/medmesh/tool"
)

// Options configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type Options struct {
	Description string
	Instruction Instruction
	Tools       []tool.Tool
}

// ModelAgent is an agent backed by a language model: instructions plus an
// ordered tool set. It implements flow.FlowAgent and is safe for concurrent
// use once constructed.
type ModelAgent struct {
	name        string
	description string
	llm         model.Model
	instruction Instruction
	tools       []tool.Tool
}

// NewModelAgent creates a new model-based agent with sensible defaults.
func NewModelAgent(name string, llm model.Model, optFns ...func(o *Options)) *ModelAgent {
	opts := Options{
		Instruction: NewInstructionFromText(fmt.Sprintf("You are %s, a helpful assistant.", name)),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	tools := make([]tool.Tool, len(opts.Tools))
	copy(tools, opts.Tools)

	return &ModelAgent{
		name:        name,
		description: opts.Description,
		llm:         llm,
		instruction: opts.Instruction,
		tools:       tools,
	}
}

// Name returns the agent's name.
func (a *ModelAgent) Name() string { return a.name }

// Description returns the agent's description.
func (a *ModelAgent) Description() string { return a.description }

// Model returns the language model instance.
func (a *ModelAgent) Model() model.Model { return a.llm }

// Tools returns the registered tools in declaration order.
func (a *ModelAgent) Tools() []tool.Tool { return a.tools }

// HasTool checks if a tool is registered with the agent.
func (a *ModelAgent) HasTool(name string) bool {
	_, ok := tool.Find(a.tools, name)
	return ok
}

// ResolveInstructions resolves the agent's instruction for an activation.
func (a *ModelAgent) ResolveInstructions(rc *core.RunContext) (string, error) {
	return a.instruction.Resolve(rc)
}

// Info returns the agent identity used by run contexts.
func (a *ModelAgent) Info() core.AgentInfo {
	return core.AgentInfo{Name: a.name, Type: "model"}
}
