package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqlmesh/core"
)

// funcAgent adapts a function to core.Agent.
type funcAgent struct {
	id     core.AgentID
	fn     func(mctx *core.MessageContext, msg any) error
	closed bool
}

func (a *funcAgent) ID() core.AgentID { return a.id }

func (a *funcAgent) OnMessage(mctx *core.MessageContext, msg any) error {
	return a.fn(mctx, msg)
}

func (a *funcAgent) Close(context.Context) error {
	a.closed = true
	return nil
}

type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, s)
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func factoryOf(fn func(mctx *core.MessageContext, msg any) error, created *[]*funcAgent) core.AgentFactory {
	return func(_ context.Context, id core.AgentID) (core.Agent, error) {
		a := &funcAgent{id: id, fn: fn}
		if created != nil {
			*created = append(*created, a)
		}
		return a, nil
	}
}

func ctxWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEngine_DeliversInPublishOrder(t *testing.T) {
	ctx := ctxWithTimeout(t)
	rec := &recorder{}
	e := New()

	require.NoError(t, e.RegisterFactory("sink", factoryOf(func(_ *core.MessageContext, msg any) error {
		rec.add(msg.(string))
		return nil
	}, nil)))
	require.NoError(t, e.AddSubscription(core.Subscription{TopicType: "in", AgentType: "sink"}))
	require.NoError(t, e.Start(ctx))

	for _, m := range []string{"a", "b", "c", "d"} {
		require.NoError(t, e.Publish(ctx, m, core.NewTopicID("in")))
	}

	require.NoError(t, e.StopWhenIdle(ctx))
	require.NoError(t, e.Close(ctx))

	assert.Equal(t, []string{"a", "b", "c", "d"}, rec.entries())
	assert.Equal(t, 4, e.Delivered())
}

func TestEngine_ChainDrainsBeforeIdle(t *testing.T) {
	ctx := ctxWithTimeout(t)
	rec := &recorder{}
	e := New()

	require.NoError(t, e.RegisterFactory("first", factoryOf(func(mctx *core.MessageContext, msg any) error {
		rec.add("first:" + msg.(string))
		// Slow handler publishing follow-ups; idle must wait for them.
		time.Sleep(10 * time.Millisecond)
		return mctx.Publish(msg.(string)+"!", core.TopicID{Type: "second", Source: mctx.Topic.Source})
	}, nil)))
	require.NoError(t, e.RegisterFactory("second", factoryOf(func(mctx *core.MessageContext, msg any) error {
		rec.add("second:" + msg.(string))
		if assert.NotNil(t, mctx.Sender) {
			assert.Equal(t, "first", mctx.Sender.Type)
		}
		return nil
	}, nil)))
	require.NoError(t, e.AddSubscription(core.Subscription{TopicType: "first", AgentType: "first"}))
	require.NoError(t, e.AddSubscription(core.Subscription{TopicType: "second", AgentType: "second"}))
	require.NoError(t, e.Start(ctx))

	require.NoError(t, e.Publish(ctx, "q", core.NewTopicID("first")))
	require.NoError(t, e.StopWhenIdle(ctx))

	assert.Equal(t, []string{"first:q", "second:q!"}, rec.entries())
	require.NoError(t, e.Close(ctx))
}

func TestEngine_LazyInstancePerSource(t *testing.T) {
	ctx := ctxWithTimeout(t)
	var created []*funcAgent
	e := New()

	require.NoError(t, e.RegisterFactory("worker", factoryOf(func(*core.MessageContext, any) error { return nil }, &created)))
	require.NoError(t, e.AddSubscription(core.Subscription{TopicType: "jobs", AgentType: "worker"}))
	assert.Empty(t, e.Agents())

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Publish(ctx, 1, core.TopicID{Type: "jobs", Source: "a"}))
	require.NoError(t, e.Publish(ctx, 2, core.TopicID{Type: "jobs", Source: "b"}))
	require.NoError(t, e.Publish(ctx, 3, core.TopicID{Type: "jobs", Source: "a"}))
	require.NoError(t, e.StopWhenIdle(ctx))

	assert.Equal(t, []core.AgentID{{Type: "worker", Key: "a"}, {Type: "worker", Key: "b"}}, e.Agents())

	require.NoError(t, e.Close(ctx))
	require.Len(t, created, 2)
	for _, a := range created {
		assert.True(t, a.closed)
	}
}

func TestEngine_HandlerFailuresDoNotAbort(t *testing.T) {
	ctx := ctxWithTimeout(t)
	rec := &recorder{}
	e := New()

	var (
		mu      sync.Mutex
		reports []error
	)
	e.Callbacks().RegisterCallback(NewFunctionCallback(CallbackOnError, func(_ context.Context, cb *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, cb.Err)
		return nil
	}))

	require.NoError(t, e.RegisterFactory("failing", factoryOf(func(*core.MessageContext, any) error {
		return errors.New("boom")
	}, nil)))
	require.NoError(t, e.RegisterFactory("panicking", factoryOf(func(*core.MessageContext, any) error {
		panic("kaboom")
	}, nil)))
	require.NoError(t, e.RegisterFactory("ok", factoryOf(func(_ *core.MessageContext, msg any) error {
		rec.add("ok")
		return nil
	}, nil)))
	for _, typ := range []string{"failing", "panicking", "ok"} {
		require.NoError(t, e.AddSubscription(core.Subscription{TopicType: "t", AgentType: typ}))
	}

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Publish(ctx, "x", core.NewTopicID("t")))
	require.NoError(t, e.StopWhenIdle(ctx))
	require.NoError(t, e.Close(ctx))

	assert.Equal(t, []string{"ok"}, rec.entries())
	require.Len(t, reports, 2)
	assert.EqualError(t, reports[0], "boom")
	assert.Contains(t, reports[1].Error(), "kaboom")
}

func TestEngine_FactoryFailureReported(t *testing.T) {
	ctx := ctxWithTimeout(t)
	e := New()

	var got *CallbackContext
	e.Callbacks().RegisterCallback(NewFunctionCallback(CallbackOnError, func(_ context.Context, cb *CallbackContext) error {
		c := *cb
		got = &c
		return nil
	}))
	require.NoError(t, e.RegisterFactory("broken", func(context.Context, core.AgentID) (core.Agent, error) {
		return nil, errors.New("no resources")
	}))
	require.NoError(t, e.AddSubscription(core.Subscription{TopicType: "t", AgentType: "broken"}))
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Publish(ctx, "x", core.NewTopicID("t")))
	require.NoError(t, e.StopWhenIdle(ctx))

	require.NotNil(t, got)
	assert.Equal(t, core.AgentID{Type: "broken", Key: core.DefaultTopicSource}, got.AgentID)
	assert.ErrorContains(t, got.Err, "no resources")
	require.NoError(t, e.Close(ctx))
}

func TestEngine_Lifecycle(t *testing.T) {
	ctx := ctxWithTimeout(t)
	e := New()

	assert.ErrorIs(t, e.Publish(ctx, "x", core.NewTopicID("t")), ErrNotStarted)
	assert.ErrorIs(t, e.StopWhenIdle(ctx), ErrNotStarted)
	assert.ErrorIs(t, e.AddSubscription(core.Subscription{TopicType: "t", AgentType: "missing"}), ErrUnknownAgentType)

	require.NoError(t, e.Start(ctx))
	assert.ErrorIs(t, e.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, e.StopWhenIdle(ctx))
	assert.ErrorIs(t, e.Publish(ctx, "late", core.NewTopicID("t")), ErrStopped)

	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))
	assert.ErrorIs(t, e.Publish(ctx, "x", core.NewTopicID("t")), ErrClosed)
	assert.ErrorIs(t, e.Start(ctx), ErrClosed)
}

func TestEngine_CloseBeforeStart(t *testing.T) {
	e := New()
	require.NoError(t, e.Close(context.Background()))
}

func TestEngine_StopDropsPending(t *testing.T) {
	ctx := ctxWithTimeout(t)
	release := make(chan struct{})
	started := make(chan struct{})
	rec := &recorder{}
	e := New()

	require.NoError(t, e.RegisterFactory("slow", factoryOf(func(_ *core.MessageContext, msg any) error {
		if msg.(int) == 1 {
			close(started)
			<-release
		}
		rec.add("handled")
		return nil
	}, nil)))
	require.NoError(t, e.AddSubscription(core.Subscription{TopicType: "t", AgentType: "slow"}))
	require.NoError(t, e.Start(ctx))

	require.NoError(t, e.Publish(ctx, 1, core.NewTopicID("t")))
	<-started
	require.NoError(t, e.Publish(ctx, 2, core.NewTopicID("t")))
	require.NoError(t, e.Stop())
	close(release)

	require.NoError(t, e.Close(ctx))
	assert.Equal(t, []string{"handled"}, rec.entries())
}

func TestEngine_CancelledContextAbortsDrain(t *testing.T) {
	runCtx, cancel := context.WithCancel(context.Background())
	e := New()
	require.NoError(t, e.Start(runCtx))
	cancel()

	err := e.StopWhenIdle(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, e.Close(context.Background()))
}

func TestEngine_OnPublishCanReject(t *testing.T) {
	ctx := ctxWithTimeout(t)
	e := New()
	e.Callbacks().RegisterCallback(NewFunctionCallback(CallbackOnPublish, func(_ context.Context, cb *CallbackContext) error {
		if cb.Message == nil {
			return errors.New("nil message")
		}
		return nil
	}))
	require.NoError(t, e.Start(ctx))

	assert.ErrorContains(t, e.Publish(ctx, nil, core.NewTopicID("t")), "nil message")
	assert.NoError(t, e.Publish(ctx, "ok", core.NewTopicID("t")))
	require.NoError(t, e.StopWhenIdle(ctx))
	require.NoError(t, e.Close(ctx))
}

func TestEngine_DuplicateRegistration(t *testing.T) {
	e := New()
	f := factoryOf(func(*core.MessageContext, any) error { return nil }, nil)
	require.NoError(t, e.RegisterFactory("a", f))
	assert.Error(t, e.RegisterFactory("a", f))

	sub := core.Subscription{TopicType: "t", AgentType: "a"}
	require.NoError(t, e.AddSubscription(sub))
	require.NoError(t, e.AddSubscription(sub))
	assert.Len(t, e.Subscriptions(), 1)
}

func TestEngine_PublishRejectedOnceLoopDecidesToExit(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *Engine)
	}{
		{"drained", func(e *Engine) { e.drain = true }},
		{"aborted", func(e *Engine) { e.abort = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New()
			e.state = stateRunning
			tt.setup(e)

			_, ok, exit := e.next()
			require.False(t, ok)
			require.True(t, exit)

			// The loop has not returned yet; the publish must not be queued.
			assert.ErrorIs(t, e.Publish(context.Background(), "late", core.NewTopicID("t")), ErrStopped)
			assert.Empty(t, e.queue)
		})
	}
}
