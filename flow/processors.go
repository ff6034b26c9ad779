package flow

import (
	"fmt"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/model"
	"github.com/hupe1980/medmesh/tool"
)

// DefaultRequestProcessors returns the standard request pipeline.
func DefaultRequestProcessors() []RequestProcessor {
	return []RequestProcessor{
		NewInstructionsProcessor(),
		NewToolsProcessor(),
		NewContentsProcessor(0),
	}
}

// BuildRequest runs processors in order over a fresh request.
func BuildRequest(runCtx *core.RunContext, turn Turn, processors []RequestProcessor) (model.Request, error) {
	req := model.Request{Agent: turn.Agent.Name()}
	for _, p := range processors {
		if err := p.ProcessRequest(runCtx, turn, &req); err != nil {
			return model.Request{}, fmt.Errorf("request processor %s failed: %w", p.Name(), err)
		}
	}
	return req, nil
}

// InstructionsProcessor resolves the agent's system instructions.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets the system instructions on the request. Dynamic
// instructions are evaluated here, i.e. once per model call.
func (p *InstructionsProcessor) ProcessRequest(runCtx *core.RunContext, turn Turn, req *model.Request) error {
	instructions, err := turn.Agent.ResolveInstructions(runCtx)
	if err != nil {
		return fmt.Errorf("failed to resolve instruction: %w", err)
	}

	runCtx.LogDebug("agent.instruction.resolved", "length", len(instructions))

	req.Instructions = instructions
	return nil
}

// ToolsProcessor declares the agent's tools to the model.
type ToolsProcessor struct{}

// NewToolsProcessor creates a new tools processor.
func NewToolsProcessor() *ToolsProcessor { return &ToolsProcessor{} }

// Name returns the processor's identifier.
func (p *ToolsProcessor) Name() string { return "tools" }

// ProcessRequest adds tool definitions in declaration order.
func (p *ToolsProcessor) ProcessRequest(_ *core.RunContext, turn Turn, req *model.Request) error {
	req.Tools = tool.Definitions(turn.Agent.Tools())
	return nil
}

// ContentsProcessor copies the visible conversation items into the request.
type ContentsProcessor struct {
	maxItems int
}

// NewContentsProcessor creates a contents processor. maxItems <= 0 keeps
// the full history.
func NewContentsProcessor(maxItems int) *ContentsProcessor {
	return &ContentsProcessor{maxItems: maxItems}
}

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest adds conversation items. When trimming, the window never
// starts on a tool response so call/response pairs stay intact.
func (p *ContentsProcessor) ProcessRequest(_ *core.RunContext, turn Turn, req *model.Request) error {
	items := turn.Items
	if p.maxItems > 0 && len(items) > p.maxItems {
		start := len(items) - p.maxItems
		for start < len(items) && startsMidExchange(items[start]) {
			start++
		}
		items = items[start:]
	}
	req.Contents = core.CloneContents(items)
	return nil
}

func startsMidExchange(c core.Content) bool {
	return c.Role == core.RoleTool
}
