package agent

import (
	"fmt"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(*core.RunContext) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(*core.RunContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(rc *core.RunContext) (string, error) { return f(rc) }

// Instruction represents a static string, a template rendered over the run
// state, or a dynamic provider.
type Instruction struct {
	text     string
	template bool
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string. The
// text is used verbatim.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromTemplate creates an Instruction rendered with
// text/template against a snapshot of the run state on every resolution.
func NewInstructionFromTemplate(tpl string) Instruction {
	return Instruction{text: tpl, template: true}
}

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.RunContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil && !i.template }

// Resolve returns the instruction text, invoking the provider or rendering
// the template if needed.
func (i Instruction) Resolve(rc *core.RunContext) (string, error) {
	switch {
	case i.provider != nil:
		return i.provider.Instruction(rc)
	case i.template:
		out, err := util.RenderTemplate(i.text, rc.State.Snapshot())
		if err != nil {
			return "", fmt.Errorf("render instruction: %w", err)
		}
		return out, nil
	default:
		return i.text, nil
	}
}
