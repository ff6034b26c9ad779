// Package medical defines the four agents of the patient research service.
//
// The orchestrator owns no domain tools. It reaches the patient-facing,
// research and pseudo-PhD agents through delegate tools, so every step of
// the research cycle is an ordinary tool call to the runner.
package medical

import (
	"fmt"

	"github.com/hupe1980/medmesh/agent"
	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/model"
	"github.com/hupe1980/medmesh/prompts"
	"github.com/hupe1980/medmesh/tool"
	"github.com/hupe1980/medmesh/tool/clinical"
)

// Agent names.
const (
	PatientFacingAgent = "patient_facing"
	ResearchAgent      = "research"
	PseudoPhDAgent     = "pseudo_phd"
	OrchestratorAgent  = "orchestrator"
)

// Delegate tool names exposed to the orchestrator.
const (
	PatientFacingTool = "patient_facing_agent"
	ResearchTool      = "research_agent"
	PseudoPhDTool     = "pseudo_phd_agent"
)

// GreetingInput starts every conversation.
const GreetingInput = "Please greet the patient and ask what condition they have."

// Options configures NewAgents.
type Options struct {
	// Prompts defaults to prompts.DefaultVersion.
	Prompts *prompts.Set
	// Models overrides the model of individual agents by agent name.
	Models map[string]model.Model
}

// Agents is the wired agent graph.
type Agents struct {
	PatientFacing *agent.ModelAgent
	Research      *agent.ModelAgent
	PseudoPhD     *agent.ModelAgent
	Orchestrator  *agent.ModelAgent
}

// NewAgents builds the agents around llm and the clinical tools.
func NewAgents(llm model.Model, tools clinical.Toolset, optFns ...func(o *Options)) (*Agents, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Prompts == nil {
		p, err := prompts.Load(prompts.DefaultVersion)
		if err != nil {
			return nil, err
		}
		opts.Prompts = p
	}
	set := opts.Prompts

	modelFor := func(name string) model.Model {
		if m, ok := opts.Models[name]; ok && m != nil {
			return m
		}
		return llm
	}
	prompt := func(role string) (agent.Instruction, error) {
		text, err := set.Get(role)
		if err != nil {
			return agent.Instruction{}, fmt.Errorf("medical: %w", err)
		}
		return agent.NewInstructionFromText(text), nil
	}

	researchPrompt, err := prompt(prompts.Research)
	if err != nil {
		return nil, err
	}
	phdPrompt, err := prompt(prompts.PseudoPhD)
	if err != nil {
		return nil, err
	}
	orchestratorPrompt, err := prompt(prompts.Orchestrator)
	if err != nil {
		return nil, err
	}
	if _, err := set.Get(prompts.PatientFacing); err != nil {
		return nil, fmt.Errorf("medical: %w", err)
	}

	a := &Agents{}

	a.PatientFacing = agent.NewModelAgent(PatientFacingAgent, modelFor(PatientFacingAgent), func(o *agent.Options) {
		o.Description = "Talks to the patient in plain language."
		o.Instruction = agent.NewInstructionFromFunc(func(rc *core.RunContext) (string, error) {
			return set.PatientInstructions(rc.State.GetString(core.StateKeyRetrievedMemories))
		})
	})

	a.Research = agent.NewModelAgent(ResearchAgent, modelFor(ResearchAgent), func(o *agent.Options) {
		o.Description = "Pulls relevant clinical papers for a condition."
		o.Instruction = researchPrompt
		o.Tools = []tool.Tool{tools.SearchPubMed, tools.SearchResearchMemory, tools.SaveResearchFindings}
	})

	a.PseudoPhD = agent.NewModelAgent(PseudoPhDAgent, modelFor(PseudoPhDAgent), func(o *agent.Options) {
		o.Description = "Synthesises research into a reviewed technical summary."
		o.Instruction = phdPrompt
		o.Tools = []tool.Tool{tools.SearchResearchMemory, tools.SearchPatientHistory, tools.SaveResearchFindings, tools.ReviewSummary}
	})

	a.Orchestrator = agent.NewModelAgent(OrchestratorAgent, modelFor(OrchestratorAgent), func(o *agent.Options) {
		o.Description = "Coordinates the research cycle."
		o.Instruction = orchestratorPrompt
		o.Tools = []tool.Tool{
			agent.AsTool(a.PatientFacing, PatientFacingTool,
				"Talks to the patient. Use first to greet and gather their condition, and after research to deliver results in plain language."),
			agent.AsTool(a.Research, ResearchTool,
				"Searches PubMed and saves findings for a given condition."),
			agent.AsTool(a.PseudoPhD, PseudoPhDTool,
				"Synthesises research into treatment options and requests human review before results reach the patient."),
		}
	})

	return a, nil
}

// All returns the agents, orchestrator first.
func (a *Agents) All() []*agent.ModelAgent {
	return []*agent.ModelAgent{a.Orchestrator, a.PatientFacing, a.Research, a.PseudoPhD}
}
