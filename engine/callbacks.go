package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/logging"
)

// CallbackType defines the lifecycle points where callbacks can be executed.
//
// Callbacks provide a flexible mechanism for hooking into message dispatch
// without modifying the engine. Each type represents one point in the life
// of a message:
//   - OnPublish: when a message is accepted into the queue
//   - BeforeDeliver/AfterDeliver: around one agent handling one message
//   - OnError: when a handler fails, panics or cannot be instantiated
//
// Callbacks are executed synchronously on the dispatch goroutine (OnPublish
// runs on the publishing goroutine).
type CallbackType string

const (
	// CallbackOnPublish is triggered when a message is published. Returning
	// an error rejects the publish.
	CallbackOnPublish CallbackType = "on_publish"

	// CallbackBeforeDeliver is triggered before an agent handles a message.
	// Returning an error skips the delivery and reports it as a handler error.
	CallbackBeforeDeliver CallbackType = "before_deliver"

	// CallbackAfterDeliver is triggered after an agent handled a message,
	// whether or not the handler failed. Errors are logged only.
	CallbackAfterDeliver CallbackType = "after_deliver"

	// CallbackOnError is triggered when a handler fails. Errors are logged only.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries the information a callback might need.
type CallbackContext struct {
	// CallbackType indicates which callback type triggered this execution.
	CallbackType CallbackType

	// MessageID identifies the message being published or delivered.
	MessageID string

	// Topic is the topic the message was published on.
	Topic core.TopicID

	// Message is the published payload.
	Message any

	// AgentID identifies the recipient. Zero for OnPublish.
	AgentID core.AgentID

	// Sender is the publishing agent, if the message came from inside a handler.
	Sender *core.AgentID

	// Err is the handler error for OnError and AfterDeliver.
	Err error

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for dispatch lifecycle hooks.
//
// Implementations should be fast: they run inline with message dispatch and
// block the runtime while executing.
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
//	cb := NewFunctionCallback(
//	    CallbackOnError,
//	    func(ctx context.Context, callbackCtx *CallbackContext) error {
//	        log.Printf("handler %s failed: %v", callbackCtx.AgentID, callbackCtx.Err)
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
// an error stops execution of the remaining callbacks of that type. The
// manager is safe for concurrent registration and execution.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback to the manager for its type.
//
// Example:
//
//	manager := NewCallbackManager()
//	manager.RegisterCallback(loggingCallback)
//	manager.RegisterCallback(metricsCallback)
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type
// and returns the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	if callbackCtx != nil {
		callbackCtx.CallbackType = callbackType
	}

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback writes one debug line per lifecycle event.
//
// Example:
//
//	e.Callbacks().RegisterCallback(NewLoggingCallback(CallbackBeforeDeliver, logger))
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logging.OrNoOp(logger),
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	msg := fmt.Sprintf("[%s] message=%s topic=%s", c.callbackType, callbackCtx.MessageID, callbackCtx.Topic)
	if callbackCtx.AgentID != (core.AgentID{}) {
		msg += " agent=" + callbackCtx.AgentID.String()
	}
	if callbackCtx.Err != nil {
		msg += fmt.Sprintf(" error=%v", callbackCtx.Err)
	}
	c.logger.Debug("%s", msg)
	return nil
}
