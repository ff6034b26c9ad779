package agent

import (
	"fmt"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/tool"
)

// AgentTool exposes an agent as a callable tool. Calling it runs the agent
// on the supplied input through the runner's delegation service and returns
// the agent's final output. A pause inside the agent surfaces as
// *core.InterruptedError and is resumed through the same call id.
type AgentTool struct {
	agent       core.Agent
	name        string
	description string
}

var (
	_ tool.Tool   = (*AgentTool)(nil)
	_ tool.Kinded = (*AgentTool)(nil)
)

// AsTool wraps a as a delegate tool. Empty name and description fall back to
// the agent's own.
func AsTool(a core.Agent, name, description string) *AgentTool {
	if name == "" {
		name = a.Name()
	}
	if description == "" {
		description = a.Description()
	}
	return &AgentTool{agent: a, name: name, description: description}
}

// Agent returns the wrapped agent.
func (t *AgentTool) Agent() core.Agent { return t.agent }

// Name implements tool.Tool.
func (t *AgentTool) Name() string { return t.name }

// Description implements tool.Tool.
func (t *AgentTool) Description() string { return t.description }

// Kind implements tool.Kinded.
func (t *AgentTool) Kind() tool.Kind { return tool.KindDelegate }

// Parameters implements tool.Tool.
func (t *AgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input": map[string]any{
				"type":        "string",
				"description": "The input to send to the agent.",
			},
		},
		"required": []string{"input"},
	}
}

// Call implements tool.Tool.
func (t *AgentTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	input, ok := args["input"].(string)
	if !ok {
		return nil, tool.NewToolError(t.name, fmt.Sprintf("input must be a string, got %T", args["input"]), tool.CodeValidation)
	}
	return toolCtx.Delegate(t.agent, input)
}
