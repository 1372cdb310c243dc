package runner

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/sqlmesh/logging"
)

// State is a pipeline run state.
type State int

const (
	StateCreated State = iota
	StateConnected
	StateRegistered
	StateRunning
	StateIdle
	StateClosed
	StateErrored
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateRunning:
		return "running"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateClosed || s == StateErrored }

// tracker records the transitions of one run.
type tracker struct {
	runID    string
	state    State
	logger   logging.Logger
	span     trace.Span
	observer func(runID string, from, to State)
}

func (t *tracker) to(next State) {
	if t.state.Terminal() {
		return
	}
	prev := t.state
	t.state = next
	t.logger.Debug("run %s: %s -> %s", t.runID, prev, next)
	t.span.AddEvent("state."+next.String(), trace.WithAttributes(attribute.String("state.from", prev.String())))
	if t.observer != nil {
		t.observer(t.runID, prev, next)
	}
}
