package sqlmesh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/registry"
	"github.com/hupe1980/sqlmesh/runner"
)

type echoAgent struct {
	id   core.AgentID
	deps runner.Deps
}

func (a *echoAgent) ID() core.AgentID { return a.id }

func (a *echoAgent) OnMessage(mctx *core.MessageContext, msg any) error {
	q := msg.(core.QueryMessage)
	_, err := a.deps.DataAccess.Execute(mctx, "SELECT 1")
	content := "echo: " + q.Query
	if err != nil {
		content += " (" + err.Error() + ")"
	}
	return a.deps.Collector.Collect(mctx, &a.id, core.ResponseMessage{Source: "echo", Content: content, IsFinal: true})
}

var echoRegistrar = runner.RegistrarFunc(func(_ context.Context, rt core.Runtime, deps runner.Deps) error {
	if err := rt.RegisterFactory("echo", func(_ context.Context, id core.AgentID) (core.Agent, error) {
		return &echoAgent{id: id, deps: deps}, nil
	}); err != nil {
		return err
	}
	return rt.AddSubscription(core.Subscription{TopicType: core.TopicSchemaRetriever, AgentType: "echo"})
})

func TestProcessSync(t *testing.T) {
	m := New(registry.NewInMemoryStore(), echoRegistrar)

	msgs, err := m.ProcessSync(context.Background(), "hello", nil, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "echo: hello (data store not configured)", msgs[0].Content)
	assert.True(t, msgs[0].IsFinal)
}

func TestStream(t *testing.T) {
	m := New(registry.NewInMemoryStore(), runner.RegistrarFunc(func(context.Context, core.Runtime, runner.Deps) error {
		return errors.New("bad graph")
	}))

	messages, errs := m.Stream(context.Background(), "hello", nil, false)

	var got []core.ResponseMessage
	for msg := range messages {
		got = append(got, msg)
	}
	err := <-errs

	require.Error(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.SystemSource, got[0].Source)
	assert.Contains(t, got[0].Content, "bad graph")
}

func TestResolve(t *testing.T) {
	m := New(registry.NewInMemoryStore(), echoRegistrar, func(o *Options) { o.DefaultDBType = core.DBTypeSQLite })
	res := m.Resolve(context.Background(), core.ConnectionIDPtr(5))
	assert.False(t, res.Handle.Connected())
	assert.Equal(t, core.DBTypeSQLite, res.DBType)
	assert.ErrorIs(t, res.Err, core.ErrResolution)
}

func TestStreamReleasesRunWhenCallerStopsReading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registrar := runner.RegistrarFunc(func(_ context.Context, rt core.Runtime, deps runner.Deps) error {
		if err := rt.RegisterFactory("talker", func(_ context.Context, id core.AgentID) (core.Agent, error) {
			return &partialThenCancel{id: id, deps: deps, cancel: cancel}, nil
		}); err != nil {
			return err
		}
		return rt.AddSubscription(core.Subscription{TopicType: core.TopicSchemaRetriever, AgentType: "talker"})
	})

	m := New(registry.NewInMemoryStore(), registrar, func(o *Options) {
		o.StreamBufferSize = 0
	})

	_, errs := m.Stream(ctx, "hello", nil, false)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish after the caller cancelled")
	}

	_, open := <-errs
	assert.False(t, open)
	assert.Empty(t, m.Runner().ActiveRuns())
}

// partialThenCancel buffers a partial message and cancels the caller's context.
type partialThenCancel struct {
	id     core.AgentID
	deps   runner.Deps
	cancel context.CancelFunc
}

func (a *partialThenCancel) ID() core.AgentID { return a.id }

func (a *partialThenCancel) OnMessage(mctx *core.MessageContext, _ any) error {
	if err := a.deps.Collector.Collect(mctx, &a.id, core.ResponseMessage{Source: "talker", Content: "thinking"}); err != nil {
		return err
	}
	a.cancel()
	return nil
}
