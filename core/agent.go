package core

// Agent is the minimal identity every runnable agent exposes. Execution
// details (model, tools, instructions) are owned by the runner's own interface
// so that core stays free of model and tool dependencies.
type Agent interface {
	Name() string
	Description() string
}

// AgentInfo carries identifying details about an agent used in contexts & hooks.
// Name is the external identifier; Type categorizes the role (e.g. "orchestrator").
type AgentInfo struct{ Name, Type string }
