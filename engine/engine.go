package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/internal/util"
	"github.com/hupe1980/sqlmesh/logging"
)

var (
	// ErrNotStarted is returned by Publish and StopWhenIdle before Start.
	ErrNotStarted = errors.New("engine not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrStopped is returned by Publish after the dispatch loop exited.
	ErrStopped = errors.New("engine stopped")
	// ErrClosed is returned by any operation after Close.
	ErrClosed = errors.New("engine closed")
	// ErrUnknownAgentType is returned when a subscription or delivery names
	// an agent type without a registered factory.
	ErrUnknownAgentType = errors.New("unknown agent type")
)

// Closer is implemented by agents that hold resources. The engine closes
// every instantiated agent implementing it when the engine is closed.
type Closer interface {
	Close(ctx context.Context) error
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	e := engine.New(func(o *engine.Options) {
//	    o.Logger = logger
//	})
type Options struct {
	// Logger receives handler failures and lifecycle messages.
	// Defaults to NoOp logger if nil.
	Logger logging.Logger

	// Callbacks is the callback registry. A fresh manager is created when nil.
	Callbacks *CallbackManager
}

type state int

const (
	stateCreated state = iota
	stateRunning
	stateStopped
	stateClosed
)

// envelope is a queued message.
type envelope struct {
	id      string
	message any
	topic   core.TopicID
	sender  *core.AgentID
}

// Engine is a single-threaded cooperative pub/sub runtime.
//
// Messages are published to topics and routed to agents through type
// subscriptions: a Subscription{TopicType, AgentType} delivers every message
// published on TopicType to the agent instance AgentID{AgentType, topic.Source},
// which is instantiated lazily through the registered factory the first time
// it is addressed.
//
// Concurrency Model:
//   - One dispatch goroutine drains a FIFO queue, so messages are delivered
//     in publish order and at most one handler runs at any time.
//   - Publish is safe from any goroutine, including from inside handlers.
//   - The engine is idle when the queue is empty and no handler is running.
//
// Error Handling:
//   - A failing or panicking handler is logged and reported to OnError
//     callbacks; it never stops the dispatch loop.
//   - Cancellation of the Start context stops the loop and drops pending messages.
//
// Lifecycle:
//
//	e := engine.New()
//	_ = e.RegisterFactory("echo", newEcho)
//	_ = e.AddSubscription(core.Subscription{TopicType: "in", AgentType: "echo"})
//	_ = e.Start(ctx)
//	_ = e.Publish(ctx, msg, core.NewTopicID("in"))
//	_ = e.StopWhenIdle(ctx)
//	_ = e.Close(ctx)
//
// An Engine is not reusable: once stopped it cannot be started again.
type Engine struct {
	logger    logging.Logger
	callbacks *CallbackManager

	mu            sync.Mutex
	state         state
	factories     map[string]core.AgentFactory
	subscriptions []core.Subscription
	agents        map[core.AgentID]core.Agent
	agentOrder    []core.AgentID
	queue         []envelope
	drain         bool
	abort         bool
	loopErr       error
	delivered     int

	signal chan struct{}
	done   chan struct{}
}

// Compile-time check.
var _ core.Runtime = (*Engine)(nil)

// New creates an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}

	return &Engine{
		logger:    logging.OrNoOp(opts.Logger),
		callbacks: opts.Callbacks,
		factories: make(map[string]core.AgentFactory),
		agents:    make(map[core.AgentID]core.Agent),
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Callbacks returns the engine's callback manager.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// RegisterFactory registers the factory for agentType. A type can only be
// registered once.
func (e *Engine) RegisterFactory(agentType string, factory core.AgentFactory) error {
	if agentType == "" {
		return errors.New("agent type must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("nil factory for agent type %q", agentType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateClosed {
		return ErrClosed
	}
	if _, exists := e.factories[agentType]; exists {
		return fmt.Errorf("agent type %q already registered", agentType)
	}
	e.factories[agentType] = factory
	return nil
}

// AddSubscription routes sub.TopicType to sub.AgentType. The agent type
// must already be registered. Duplicate subscriptions are ignored.
func (e *Engine) AddSubscription(sub core.Subscription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateClosed {
		return ErrClosed
	}
	if _, ok := e.factories[sub.AgentType]; !ok {
		return fmt.Errorf("failed to subscribe %q to %q: %w", sub.AgentType, sub.TopicType, ErrUnknownAgentType)
	}
	for _, s := range e.subscriptions {
		if s == sub {
			return nil
		}
	}
	e.subscriptions = append(e.subscriptions, sub)
	return nil
}

// Subscriptions returns a copy of the registered subscriptions.
func (e *Engine) Subscriptions() []core.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.Subscription(nil), e.subscriptions...)
}

// Start launches the dispatch loop. ctx bounds the loop's lifetime and is
// the parent of every handler context.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateCreated:
	case stateClosed:
		return ErrClosed
	default:
		return ErrAlreadyStarted
	}

	e.state = stateRunning
	go e.loop(ctx)
	return nil
}

// Publish enqueues message on topic. When called from inside a handler (via
// core.MessageContext.Publish) the handling agent is recorded as sender.
func (e *Engine) Publish(ctx context.Context, message any, topic core.TopicID) error {
	if topic.Source == "" {
		topic.Source = core.DefaultTopicSource
	}

	env := envelope{
		id:      util.NewID(),
		message: message,
		topic:   topic,
	}
	if sender, ok := core.SenderFromContext(ctx); ok {
		env.sender = &sender
	}

	if err := e.checkPublishable(); err != nil {
		return err
	}

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnPublish, &CallbackContext{
		MessageID: env.id,
		Topic:     topic,
		Message:   message,
		Sender:    env.sender,
	}); err != nil {
		return fmt.Errorf("publish to %s rejected: %w", topic, err)
	}

	e.mu.Lock()
	if err := e.publishableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.queue = append(e.queue, env)
	e.mu.Unlock()

	e.wake()
	return nil
}

func (e *Engine) checkPublishable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.publishableLocked()
}

func (e *Engine) publishableLocked() error {
	switch e.state {
	case stateCreated:
		return ErrNotStarted
	case stateStopped:
		return ErrStopped
	case stateClosed:
		return ErrClosed
	}
	if e.abort {
		return ErrStopped
	}
	return nil
}

// StopWhenIdle waits until the queue is empty and no handler is running,
// then stops the dispatch loop. Messages published by handlers while
// draining are still delivered.
func (e *Engine) StopWhenIdle(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case stateCreated:
		e.mu.Unlock()
		return ErrNotStarted
	case stateClosed:
		e.mu.Unlock()
		return ErrClosed
	}
	e.drain = true
	e.mu.Unlock()

	e.wake()

	select {
	case <-e.done:
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for idle: %w", ctx.Err())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loopErr != nil {
		return fmt.Errorf("dispatch loop aborted: %w", e.loopErr)
	}
	return nil
}

// Stop aborts the dispatch loop after the running handler returns. Pending
// messages are dropped. Stop does not wait; use Close to wait for the loop.
func (e *Engine) Stop() error {
	e.mu.Lock()
	switch e.state {
	case stateCreated:
		e.mu.Unlock()
		return ErrNotStarted
	case stateClosed:
		e.mu.Unlock()
		return ErrClosed
	}
	e.abort = true
	e.mu.Unlock()

	e.wake()
	return nil
}

// Close stops the loop if it is still running, waits for it to exit and
// closes every instantiated agent implementing Closer. Close is safe to
// call in any state and more than once; only the first call does work.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	prev := e.state
	if prev == stateClosed {
		e.mu.Unlock()
		return nil
	}
	e.abort = true
	e.state = stateClosed
	e.mu.Unlock()

	var errs []error

	if prev == stateRunning || prev == stateStopped {
		e.wake()
		select {
		case <-e.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("failed to wait for dispatch loop: %w", ctx.Err()))
		}
	}

	e.mu.Lock()
	order := append([]core.AgentID(nil), e.agentOrder...)
	agents := make([]core.Agent, 0, len(order))
	for _, id := range order {
		agents = append(agents, e.agents[id])
	}
	pending := len(e.queue)
	e.queue = nil
	e.mu.Unlock()

	if pending > 0 {
		e.logger.Warn("engine closed with %d undelivered messages", pending)
	}

	for _, a := range agents {
		c, ok := a.(Closer)
		if !ok {
			continue
		}
		if err := c.Close(ctx); err != nil {
			e.logger.Warn("error closing agent %s: %v", a.ID(), err)
			errs = append(errs, fmt.Errorf("failed to close agent %s: %w", a.ID(), err))
		}
	}

	return errors.Join(errs...)
}

// Agents returns the ids of the instantiated agents in creation order.
func (e *Engine) Agents() []core.AgentID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.AgentID(nil), e.agentOrder...)
}

// Delivered returns the number of completed handler invocations.
func (e *Engine) Delivered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delivered
}

func (e *Engine) wake() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.stopLocked()
		e.mu.Unlock()
		close(e.done)
	}()

	for {
		if err := ctx.Err(); err != nil {
			e.mu.Lock()
			e.loopErr = err
			e.stopLocked()
			e.mu.Unlock()
			return
		}

		env, ok, exit := e.next()
		if exit {
			return
		}
		if ok {
			e.dispatch(ctx, env)
			continue
		}

		select {
		case <-e.signal:
		case <-ctx.Done():
		}
	}
}

// next pops the head of the queue. exit reports that the loop should end:
// either an abort was requested or a drain was requested and nothing is left.
func (e *Engine) next() (env envelope, ok bool, exit bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.abort {
		e.stopLocked()
		return envelope{}, false, true
	}
	if len(e.queue) > 0 {
		env = e.queue[0]
		e.queue[0] = envelope{}
		e.queue = e.queue[1:]
		return env, true, false
	}
	if e.drain {
		e.stopLocked()
		return envelope{}, false, true
	}
	return envelope{}, false, false
}

// stopLocked marks the loop as finished so later publishes are rejected
// instead of queued. e.mu must be held.
func (e *Engine) stopLocked() {
	if e.state == stateRunning {
		e.state = stateStopped
	}
}

func (e *Engine) dispatch(ctx context.Context, env envelope) {
	recipients := e.recipients(env.topic)
	if len(recipients) == 0 {
		e.logger.Debug("no subscribers for topic %s, dropping message %s", env.topic, env.id)
		return
	}

	for _, agentType := range recipients {
		id := core.AgentID{Type: agentType, Key: env.topic.Source}
		e.deliver(ctx, id, env)
	}
}

func (e *Engine) recipients(topic core.TopicID) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []string
	for _, s := range e.subscriptions {
		if s.TopicType == topic.Type {
			out = append(out, s.AgentType)
		}
	}
	return out
}

func (e *Engine) deliver(ctx context.Context, id core.AgentID, env envelope) {
	cbCtx := &CallbackContext{
		MessageID: env.id,
		Topic:     env.topic,
		Message:   env.message,
		AgentID:   id,
		Sender:    env.sender,
	}

	agent, err := e.agent(ctx, id)
	if err != nil {
		e.reportError(ctx, cbCtx, err)
		return
	}

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeDeliver, cbCtx); err != nil {
		e.reportError(ctx, cbCtx, fmt.Errorf("delivery vetoed: %w", err))
		return
	}

	mctx := core.NewMessageContext(ctx, env.id, env.topic, env.sender, id, e)
	err = e.invoke(agent, mctx, env.message)

	e.mu.Lock()
	e.delivered++
	e.mu.Unlock()

	if err != nil {
		e.reportError(ctx, cbCtx, err)
	}

	cbCtx.Err = err
	if cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterDeliver, cbCtx); cbErr != nil {
		e.logger.Warn("after_deliver callback failed for %s: %v", id, cbErr)
	}
}

// invoke runs the handler and converts a panic into an error.
func (e *Engine) invoke(agent core.Agent, mctx *core.MessageContext, message any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Debug("handler panic stack: %s", debug.Stack())
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return agent.OnMessage(mctx, message)
}

func (e *Engine) reportError(ctx context.Context, cbCtx *CallbackContext, err error) {
	e.logger.Error("agent %s failed handling message %s on %s: %v", cbCtx.AgentID, cbCtx.MessageID, cbCtx.Topic, err)
	cbCtx.Err = err
	if cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cbCtx); cbErr != nil {
		e.logger.Warn("on_error callback failed for %s: %v", cbCtx.AgentID, cbErr)
	}
}

// agent returns the instance for id, creating it on first use.
func (e *Engine) agent(ctx context.Context, id core.AgentID) (core.Agent, error) {
	e.mu.Lock()
	if a, ok := e.agents[id]; ok {
		e.mu.Unlock()
		return a, nil
	}
	factory, ok := e.factories[id.Type]
	e.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrUnknownAgentType)
	}

	a, err := e.create(ctx, factory, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.agents[id] = a
	e.agentOrder = append(e.agentOrder, id)
	e.mu.Unlock()

	e.logger.Debug("instantiated agent %s", id)
	return a, nil
}

func (e *Engine) create(ctx context.Context, factory core.AgentFactory, id core.AgentID) (a core.Agent, err error) {
	defer func() {
		if p := recover(); p != nil {
			a, err = nil, fmt.Errorf("factory panic for agent %s: %v", id, p)
		}
	}()

	a, err = factory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate agent %s: %w", id, err)
	}
	if a == nil {
		return nil, fmt.Errorf("factory returned nil agent for %s", id)
	}
	return a, nil
}
