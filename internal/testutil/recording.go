package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/sqlmesh/core"
)

// Delivery is one recorded callback invocation.
type Delivery struct {
	AgentRef *core.AgentID
	Message  core.ResponseMessage
	Extra    any
}

// RecordingCallback records every message delivered to it. Its Callback
// method matches the collector callback signature.
type RecordingCallback struct {
	mu         sync.Mutex
	deliveries []Delivery

	// Err, when set, is returned from every Callback invocation.
	Err error
}

// Callback records the delivery.
func (r *RecordingCallback) Callback(_ context.Context, agentRef *core.AgentID, msg core.ResponseMessage, extra any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, Delivery{AgentRef: agentRef, Message: msg, Extra: extra})
	return r.Err
}

// Deliveries returns a copy of all recorded deliveries in order.
func (r *RecordingCallback) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// Messages returns the delivered messages in order.
func (r *RecordingCallback) Messages() []core.ResponseMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.ResponseMessage, 0, len(r.deliveries))
	for _, d := range r.deliveries {
		out = append(out, d.Message)
	}
	return out
}

// Finals returns the delivered messages with IsFinal set.
func (r *RecordingCallback) Finals() []core.ResponseMessage {
	var out []core.ResponseMessage
	for _, m := range r.Messages() {
		if m.IsFinal {
			out = append(out, m)
		}
	}
	return out
}

// FromSource returns the delivered messages of one source.
func (r *RecordingCallback) FromSource(source string) []core.ResponseMessage {
	var out []core.ResponseMessage
	for _, m := range r.Messages() {
		if m.Source == source {
			out = append(out, m)
		}
	}
	return out
}

// LogEntry is one recorded log line.
type LogEntry struct {
	Level   string
	Message string
}

// RecordingLogger implements logging.Logger and keeps formatted lines.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (l *RecordingLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Message: fmt.Sprintf(msg, args...)})
}

// Debug records a debug line.
func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }

// Info records an info line.
func (l *RecordingLogger) Info(msg string, args ...any) { l.record("info", msg, args...) }

// Warn records a warning line.
func (l *RecordingLogger) Warn(msg string, args ...any) { l.record("warn", msg, args...) }

// Error records an error line.
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }

// Entries returns a copy of the recorded lines.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Contains reports whether any line at level contains substr. An empty level matches all.
func (l *RecordingLogger) Contains(level, substr string) bool {
	for _, e := range l.Entries() {
		if (level == "" || e.Level == level) && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
