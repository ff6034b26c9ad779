// Package engine provides the lifecycle callback system used by the runner.
//
// Callbacks hook into a run without modifying the orchestration code:
//
//	before_agent  first entry of an agent scope
//	before_model  before every model call
//	after_model   after every model call
//	before_tool   before a tool body runs
//	after_tool    after a tool body returns (or its rejection is substituted)
//	after_agent   after the run completes, once per entered scope, innermost first
//	on_error      when the run fails
//
// The patient memory integration is built on before_agent and after_agent:
//
//	hooks := memory.NewPatientMemoryHooks(store, "patient_facing", logger)
//	callbacks := engine.NewCallbackManager(hooks.Callbacks()...)
//	r := runner.New(func(o *runner.Options) { o.Callbacks = callbacks })
//
// A run that pauses for approval fires no after_agent callbacks; they fire
// when the resumed run finally completes.
package engine
