// Package runner implements the pipeline driver.
//
// A Runner owns exactly one pipeline run per Run call: it resolves the data
// store, builds a fresh engine, lets a Registrar wire the agent graph,
// publishes the single QueryMessage to the schema retriever topic, waits for
// the engine to go idle, tears everything down and flushes the collector.
//
// # Lifecycle
//
//	Created -> Connected -> Registered -> Running -> Idle -> Closed
//	                 \___________\___________\________\--> Errored
//
// Teardown (engine Close, handle Close) runs on every exit path, and the
// collector is flushed even after a failure. A failed run delivers exactly
// one synthetic final message from the "system" source through the
// collector callback.
//
// Runners hold no per-run state between calls and are safe for concurrent use.
package runner
