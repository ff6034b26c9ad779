// Package core provides the foundational domain types, interfaces and execution
// contexts used by MedMesh. It defines the core abstractions for:
//
//   - Content (role-tagged conversation items made of text, function call and
//     function response parts, with a stable JSON encoding for checkpoints)
//   - RunContext / ToolContext (scoped execution shared by nested agents)
//   - Namespaced memory (MemoryStore, Namespace, Exchange, MemoryBackendError)
//   - Sessions (one patient conversation with its replayable history)
//   - Interruptions and approval decisions raised by gated tools
//
// The package keeps implementation concerns (persistence, model access,
// orchestration) out of scope and exposes small interfaces so backends can be
// swapped without touching the run engine.
package core
