// Package tool implements the function / tool calling subsystem that lets agents
// invoke structured capabilities (literature search, memory access, delegation,
// reviewer-gated steps) with schema validated arguments and consistent error handling.
package tool

import (
	"errors"
	"fmt"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/internal/util"
	"github.com/hupe1980/medmesh/model"
)

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
)

// ErrNotFound is the cause carried by the NOT_FOUND ToolError produced for a
// call naming a tool the agent does not have.
var ErrNotFound = errors.New("tool not found")

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tools are registered with agents to enable function calling. Every tool,
// including delegation to another agent, is invoked the same way by the flow
// executor; approval gating happens before Call and is driven by the
// ApprovalRequirer marker.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description returns a human-readable description provided to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments and a ToolContext.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ApprovalRequirer is implemented by tools that must not run before a
// reviewer decision has been recorded for the call.
type ApprovalRequirer interface {
	RequiresApproval() bool
}

// NeedsApproval reports whether t is gated behind a reviewer decision.
func NeedsApproval(t Tool) bool {
	if ar, ok := t.(ApprovalRequirer); ok {
		return ar.RequiresApproval()
	}
	return false
}

// Kind classifies a tool for logging and diagnostics.
type Kind string

const (
	// KindFunction is a plain capability.
	KindFunction Kind = "function"
	// KindDelegate runs another agent.
	KindDelegate Kind = "delegate"
)

// Kinded is implemented by tools that report a non-default Kind.
type Kinded interface {
	Kind() Kind
}

// KindOf returns the kind of t, defaulting to KindFunction.
func KindOf(t Tool) Kind {
	if k, ok := t.(Kinded); ok {
		return k.Kind()
	}
	return KindFunction
}

// Definition converts a tool into the provider-neutral declaration sent to models.
func Definition(t Tool) model.ToolDefinition {
	params := t.Parameters()
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		},
	}
}

// Definitions converts tools preserving order.
func Definitions(tools []Tool) []model.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = Definition(t)
	}
	return defs
}

// Find returns the tool named name.
func Find(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	Err     error  `json:"-"`                 // Underlying cause, if any
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
