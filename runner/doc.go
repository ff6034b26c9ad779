// Package runner implements the run state machine that drives agents.
//
// A run starts with Run and ends Completed, or pauses AwaitingApproval when a
// reviewer-gated tool is selected anywhere in the delegation tree. The paused
// RunState is a serializable checkpoint: record a decision per interruption
// (Approve, Reject, Decide) and hand it to Resume, which continues every
// paused activation from where it stopped. Resolved tool calls are never run
// again.
//
// Lifecycle callbacks (engine package) fire before an agent scope is first
// entered and, once the whole run completes, after every entered scope in
// reverse entry order.
package runner
