// Package agent contains the model-driven agent implementation used by
// MedMesh and the adapter that exposes an agent as a delegate tool.
//
// A ModelAgent is pure configuration: a name, a description, an
// Instruction (static text, a template over run state, or a function of the
// RunContext) and an ordered list of tools. The runner drives the actual
// model/tool loop; agents never call each other directly. Delegation is a
// tool like any other:
//
//	research := agent.NewModelAgent("research", llm, func(o *agent.Options) {
//	    o.Instruction = agent.NewInstructionFromText(prompt)
//	    o.Tools = []tool.Tool{pubmedTool}
//	})
//	orchestrator := agent.NewModelAgent("orchestrator", llm, func(o *agent.Options) {
//	    o.Tools = []tool.Tool{agent.AsTool(research, "research_agent", "Gathers literature.")}
//	})
package agent
