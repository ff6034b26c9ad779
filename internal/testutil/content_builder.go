package testutil

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/medmesh/core"
)

var callSeq atomic.Int64

// ContentBuilder provides a fluent helper for constructing model turns in tests.
// Example:
//
//	turn := NewContentBuilder().Call("research_agent", map[string]any{"input": "x"}).Build()
//
// Chain only the parts you need; the role defaults to assistant.
type ContentBuilder struct {
	role  string
	parts []core.Part
}

// NewContentBuilder creates a builder for an assistant turn.
func NewContentBuilder() *ContentBuilder { return &ContentBuilder{role: core.RoleAssistant} }

// Role overrides the role (chainable).
func (b *ContentBuilder) Role(r string) *ContentBuilder { b.role = r; return b }

// Text appends a text part (chainable).
func (b *ContentBuilder) Text(t string) *ContentBuilder {
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// Call appends a function call with an auto-generated id (chainable).
func (b *ContentBuilder) Call(name string, args any) *ContentBuilder {
	return b.CallWithID(fmt.Sprintf("call_%d", callSeq.Add(1)), name, args)
}

// CallWithID appends a function call with an explicit id (chainable). args
// may be a raw JSON string or any JSON-serializable value.
func (b *ContentBuilder) CallWithID(id, name string, args any) *ContentBuilder {
	raw, ok := args.(string)
	if !ok {
		data, err := json.Marshal(args)
		if err != nil {
			panic(err)
		}
		raw = string(data)
	}
	b.parts = append(b.parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: raw}})
	return b
}

// Build returns the content.
func (b *ContentBuilder) Build() core.Content {
	parts := make([]core.Part, len(b.parts))
	copy(parts, b.parts)
	return core.Content{Role: b.role, Parts: parts}
}

// Say is shorthand for a final assistant text turn.
func Say(text string) core.Content { return core.NewAssistantContent(text) }

// Delegate is shorthand for an assistant turn calling one delegate tool.
func Delegate(id, toolName, input string) core.Content {
	return NewContentBuilder().CallWithID(id, toolName, map[string]any{"input": input}).Build()
}
