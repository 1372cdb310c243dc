// Package engine provides the cooperative pub/sub runtime that pipeline
// agents run on.
//
// # Overview
//
// An Engine owns a FIFO message queue drained by a single goroutine. Agents
// never run concurrently within one engine, which keeps agent code free of
// locking and makes delivery order deterministic:
//
//   - Messages are delivered in the order they were published.
//   - A message published on a topic type is delivered to every agent type
//     subscribed to it, in subscription order.
//   - Agents are created lazily, one instance per (agent type, topic source).
//
// # Idle detection
//
// StopWhenIdle is the runtime's quiescence point: it returns once no message
// is queued and no handler is executing. Because handlers publish follow-up
// messages before they return, an empty queue observed between two handler
// invocations means the whole agent graph has finished.
//
// # Callbacks
//
// A CallbackManager lets callers observe or veto dispatch without touching
// agent code:
//
//	e := engine.New(func(o *engine.Options) { o.Logger = logger })
//	e.Callbacks().RegisterCallback(engine.NewFunctionCallback(
//	    engine.CallbackOnError,
//	    func(ctx context.Context, cb *engine.CallbackContext) error {
//	        errorsByType[cb.AgentID.Type]++
//	        return nil
//	    },
//	))
//
// # Failure semantics
//
// Handler errors and panics are logged and reported through CallbackOnError.
// They never stop the dispatch loop: other agents keep running and the run
// still reaches idle. Only cancellation of the context passed to Start
// aborts the loop early.
package engine
