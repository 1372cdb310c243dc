// Package collector buffers streamed agent output and forwards it to a
// caller supplied callback.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/logging"
	"github.com/hupe1980/sqlmesh/metrics"
)

// DefaultBufferSize is the number of buffered characters per source that
// triggers a delivery.
const DefaultBufferSize = 128

// Callback receives delivered messages. agentRef identifies the producing
// agent and is nil for messages the pipeline itself produces.
type Callback func(ctx context.Context, agentRef *core.AgentID, msg core.ResponseMessage, extra any) error

// Options configures a Collector.
type Options struct {
	// BufferSize is the per-source character threshold. Values <= 0 disable
	// buffering: every message is delivered as it arrives.
	BufferSize int
	Logger     logging.Logger
	Metrics    *metrics.Collector
}

type buffer struct {
	agentRef *core.AgentID
	msgs     []core.ResponseMessage
	size     int
}

// Collector accumulates partial messages per source. Messages of one source
// are delivered in arrival order; sources are independent of each other.
// All methods are safe for concurrent use.
type Collector struct {
	bufferSize int
	logger     logging.Logger
	metrics    *metrics.Collector

	// deliverMu serializes deliveries so per-source order survives concurrent producers.
	deliverMu sync.Mutex

	mu       sync.Mutex
	callback Callback
	buffers  map[string]*buffer
	order    []string
	finals   int
}

// New creates a Collector delivering to cb. cb may be nil and set later
// with SetCallback; messages delivered without a callback are discarded.
func New(cb Callback, optFns ...func(o *Options)) *Collector {
	opts := Options{
		BufferSize: DefaultBufferSize,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Collector{
		bufferSize: opts.BufferSize,
		logger:     logging.OrNoOp(opts.Logger),
		metrics:    opts.Metrics,
		callback:   cb,
		buffers:    make(map[string]*buffer),
	}
}

// SetCallback replaces the callback.
func (c *Collector) SetCallback(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

// HasCallback reports whether a callback is set.
func (c *Collector) HasCallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callback != nil
}

// Collect accepts one message from agentRef. Partial messages are buffered
// until the source's buffer reaches the size threshold; a final message
// first flushes the source's buffer and is then delivered itself.
func (c *Collector) Collect(ctx context.Context, agentRef *core.AgentID, msg core.ResponseMessage) error {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	c.touch(msg.Source)

	if c.bufferSize <= 0 {
		c.mu.Unlock()
		return c.deliver(ctx, agentRef, msg, nil)
	}

	if !msg.IsFinal {
		b := c.buffers[msg.Source]
		if b == nil {
			b = &buffer{}
			c.buffers[msg.Source] = b
		}
		b.agentRef = agentRef
		b.msgs = append(b.msgs, msg)
		b.size += len(msg.Content)
		if b.size < c.bufferSize {
			c.mu.Unlock()
			return nil
		}
		ref, merged, _ := c.takeLocked(msg.Source)
		c.mu.Unlock()
		return c.deliver(ctx, ref, merged, nil)
	}

	ref, merged, ok := c.takeLocked(msg.Source)
	c.mu.Unlock()

	var errs []error
	if ok {
		errs = append(errs, c.deliver(ctx, ref, merged, nil))
	}
	errs = append(errs, c.deliver(ctx, agentRef, msg, nil))
	return errors.Join(errs...)
}

// Deliver sends msg to the callback immediately, bypassing buffering.
func (c *Collector) Deliver(ctx context.Context, agentRef *core.AgentID, msg core.ResponseMessage, extra any) error {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	return c.deliver(ctx, agentRef, msg, extra)
}

// Flush delivers every non-empty buffer, in the order sources were first
// seen, and clears them. A second Flush delivers nothing. Every buffer is
// attempted even if a delivery fails.
func (c *Collector) Flush(ctx context.Context) error {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	type pending struct {
		ref *core.AgentID
		msg core.ResponseMessage
	}

	c.mu.Lock()
	var out []pending
	for _, source := range c.order {
		if ref, merged, ok := c.takeLocked(source); ok {
			out = append(out, pending{ref: ref, msg: merged})
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, p := range out {
		if err := c.deliver(ctx, p.ref, p.msg, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sources returns every source seen so far in first-seen order.
func (c *Collector) Sources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Pending returns the number of buffered messages for source.
func (c *Collector) Pending(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b := c.buffers[source]; b != nil {
		return len(b.msgs)
	}
	return 0
}

// FinalsDelivered returns how many final messages reached the callback.
func (c *Collector) FinalsDelivered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finals
}

func (c *Collector) touch(source string) {
	if _, ok := c.buffers[source]; ok {
		return
	}
	for _, s := range c.order {
		if s == source {
			return
		}
	}
	c.order = append(c.order, source)
}

// takeLocked removes and merges the buffer of source. c.mu must be held.
func (c *Collector) takeLocked(source string) (*core.AgentID, core.ResponseMessage, bool) {
	b := c.buffers[source]
	if b == nil || len(b.msgs) == 0 {
		return nil, core.ResponseMessage{}, false
	}
	delete(c.buffers, source)
	return b.agentRef, merge(source, b.msgs), true
}

func merge(source string, msgs []core.ResponseMessage) core.ResponseMessage {
	var sb strings.Builder
	merged := core.ResponseMessage{Source: source}
	for _, m := range msgs {
		sb.WriteString(m.Content)
		if m.Region != "" {
			merged.Region = m.Region
		}
		if m.Result != nil {
			merged.Result = m.Result
		}
	}
	merged.Content = sb.String()
	return merged
}

func (c *Collector) deliver(ctx context.Context, agentRef *core.AgentID, msg core.ResponseMessage, extra any) error {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()

	if cb == nil {
		c.logger.Debug("no callback set, discarding message from %s", msg.Source)
		return nil
	}

	if err := cb(ctx, agentRef, msg, extra); err != nil {
		c.logger.Warn("callback failed for message from %s: %v", msg.Source, err)
		return fmt.Errorf("failed to deliver message from %s: %w", msg.Source, err)
	}
	if msg.IsFinal {
		c.mu.Lock()
		c.finals++
		c.mu.Unlock()
	}
	c.metrics.ObserveDelivery(msg.Source, msg.IsFinal)
	return nil
}
