package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/logging"
)

// CallbackType defines the specific lifecycle points where callbacks can be executed.
//
// Available callback types:
//   - BeforeAgent/AfterAgent: around an agent scope within a run
//   - BeforeModel/AfterModel: around model interactions
//   - BeforeTool/AfterTool: around individual tool executions
//   - OnError: when a run fails
//
// Callbacks are executed synchronously and can influence execution flow
// by returning errors that terminate the operation.
type CallbackType string

const (
	// CallbackBeforeAgent is triggered the first time an agent scope is
	// entered during a run. Resuming a paused scope does not trigger it again.
	CallbackBeforeAgent CallbackType = "before_agent"

	// CallbackAfterAgent is triggered once per entered scope after the whole
	// run completes, in reverse entry order. It never fires for a run that is
	// paused awaiting approval.
	CallbackAfterAgent CallbackType = "after_agent"

	// CallbackBeforeModel is triggered before each model call.
	CallbackBeforeModel CallbackType = "before_model"

	// CallbackAfterModel is triggered after each successful model call.
	CallbackAfterModel CallbackType = "after_model"

	// CallbackBeforeTool is triggered before a tool body runs.
	CallbackBeforeTool CallbackType = "before_tool"

	// CallbackAfterTool is triggered after a tool body returns, including
	// substituted results for rejected calls.
	CallbackAfterTool CallbackType = "after_tool"

	// CallbackOnError is triggered when a run terminates with an error.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext provides context information for callback execution.
type CallbackContext struct {
	// Run is the activation the callback relates to. For after_agent it is a
	// reconstructed context for the completed scope (same depth and agent).
	Run *core.RunContext

	// AgentID identifies the agent associated with this callback.
	AgentID string

	// CallbackType indicates which callback type triggered this execution.
	CallbackType CallbackType

	// Call is the tool call for tool callbacks.
	Call *core.FunctionCall

	// Response is the tool outcome for after_tool.
	Response *core.FunctionResponse

	// Output is the final output of the scope for after_agent and the model
	// text for after_model.
	Output string

	// Err carries the failure for on_error.
	Err error

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for execution lifecycle hooks.
//
// Implementations should be fast (they run synchronously on the run path)
// and safe for concurrent use: tool callbacks fire from parallel tool
// goroutines. Returning an error terminates the associated operation.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackBeforeTool,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("tool %s", cc.Call.Name)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager is a registry of callbacks keyed by type.
//
// Callbacks are executed in registration order, and any callback returning
// an error stops execution of the remaining callbacks of that type.
// Registration and execution are safe for concurrent use. A nil manager is
// valid and runs nothing.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a new callback manager instance.
func NewCallbackManager(callbacks ...Callback) *CallbackManager {
	cm := &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
	for _, cb := range callbacks {
		cm.RegisterCallback(cb)
	}
	return cm
}

// RegisterCallback adds a callback to the manager for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// Has reports whether any callback is registered for the type.
func (cm *CallbackManager) Has(callbackType CallbackType) bool {
	if cm == nil {
		return false
	}
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.callbacks[callbackType]) > 0
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
// The callback type is stamped onto callbackCtx before the first callback runs.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	if len(callbacks) == 0 {
		return nil
	}
	callbackCtx.CallbackType = callbackType

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback writes a structured debug line for a lifecycle event.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the execution event with context information.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	args := []any{"callback", string(c.callbackType), "agent", callbackCtx.AgentID}
	if callbackCtx.Run != nil {
		args = append(args, "run_id", callbackCtx.Run.RunID, "depth", callbackCtx.Run.Depth)
	}
	if callbackCtx.Call != nil {
		args = append(args, "tool", callbackCtx.Call.Name, "fc_id", callbackCtx.Call.ID)
	}
	if callbackCtx.Err != nil {
		args = append(args, "error", callbackCtx.Err.Error())
	}
	c.logger.Debug("engine.callback", args...)
	return nil
}

// LifecycleLogging returns logging callbacks for every lifecycle point.
func LifecycleLogging(logger logging.Logger) []Callback {
	types := []CallbackType{
		CallbackBeforeAgent, CallbackAfterAgent,
		CallbackBeforeModel, CallbackAfterModel,
		CallbackBeforeTool, CallbackAfterTool,
		CallbackOnError,
	}
	out := make([]Callback, len(types))
	for i, t := range types {
		out[i] = NewLoggingCallback(t, logger)
	}
	return out
}
