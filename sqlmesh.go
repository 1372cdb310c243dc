// Package sqlmesh provides a high-level façade over the pipeline driver,
// connection resolver and stream collector. Most applications interact with
// this package by:
//  1. Creating a SQLMesh via New() with a connection registry and an agent registrar
//  2. Processing questions asynchronously (Stream) or synchronously (ProcessSync)
//
// The façade delegates orchestration to runner.Runner while keeping setup
// and usage ergonomics concise.
package sqlmesh

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/sqlmesh/collector"
	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/dbaccess"
	"github.com/hupe1980/sqlmesh/engine"
	"github.com/hupe1980/sqlmesh/logging"
	"github.com/hupe1980/sqlmesh/metrics"
	"github.com/hupe1980/sqlmesh/resolver"
	"github.com/hupe1980/sqlmesh/runner"
)

// Options configures the SQLMesh instance.
type Options struct {
	// Connector opens data store connections (defaults to the driver connector).
	Connector dbaccess.Connector
	// DefaultDBType is reported when no connection can be resolved.
	DefaultDBType core.DBType
	// Timeout bounds one run (0 = no limit).
	Timeout time.Duration
	// BufferSize is the per-source character threshold of collectors created by the façade.
	BufferSize int
	// Callbacks are registered on every run's engine.
	Callbacks []engine.Callback
	// StreamBufferSize sets channel buffering for Stream.
	StreamBufferSize int

	Tracer  trace.Tracer
	Metrics *metrics.Collector
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// SQLMesh is the high-level façade aggregating resolver and runner.
type SQLMesh struct {
	opts     Options
	resolver *resolver.Resolver
	runner   *runner.Runner
}

// New creates a SQLMesh instance backed by registry, with agents wired by registrar.
func New(registry core.ConnectionRegistry, registrar runner.Registrar, optFns ...func(o *Options)) *SQLMesh {
	opts := Options{
		Connector:        dbaccess.NewDriverConnector(),
		DefaultDBType:    core.DefaultDBType,
		BufferSize:       collector.DefaultBufferSize,
		StreamBufferSize: 64,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	res := resolver.New(registry, func(o *resolver.Options) {
		o.Connector = opts.Connector
		o.DefaultDBType = opts.DefaultDBType
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})

	r := runner.New(res, registrar, func(o *runner.Options) {
		o.Timeout = opts.Timeout
		o.CollectorBufferSize = opts.BufferSize
		o.Callbacks = opts.Callbacks
		o.Tracer = opts.Tracer
		o.Metrics = opts.Metrics
		o.Logger = opts.Logger
	})

	return &SQLMesh{opts: opts, resolver: res, runner: r}
}

// Runner returns the underlying pipeline driver.
func (m *SQLMesh) Runner() *runner.Runner { return m.runner }

// Resolve resolves a connection id without running the pipeline. The caller
// must close the returned handle.
func (m *SQLMesh) Resolve(ctx context.Context, connectionID *int64) resolver.Resolution {
	return m.resolver.ResolveDetailed(ctx, connectionID)
}

// NewCollector returns a collector configured like the ones the façade creates.
func (m *SQLMesh) NewCollector(cb collector.Callback) *collector.Collector {
	return collector.New(cb, func(o *collector.Options) {
		o.BufferSize = m.opts.BufferSize
		o.Logger = m.opts.Logger
		o.Metrics = m.opts.Metrics
	})
}

// Process runs one pipeline run, delivering output through c.
func (m *SQLMesh) Process(
	ctx context.Context,
	query string,
	c *collector.Collector,
	connectionID *int64,
	userFeedbackEnabled bool,
) error {
	return m.runner.Run(ctx, query, c, connectionID, userFeedbackEnabled)
}

// Stream starts a run in the background and streams every delivered message.
// Both channels are closed when the run ends; the error channel carries the
// pipeline failure, if any.
func (m *SQLMesh) Stream(
	ctx context.Context,
	query string,
	connectionID *int64,
	userFeedbackEnabled bool,
) (<-chan core.ResponseMessage, <-chan error) {
	messagesCh := make(chan core.ResponseMessage, m.opts.StreamBufferSize)
	errorsCh := make(chan error, 1)

	// Teardown deliveries run on a context without cancellation, so a blocked
	// send must also give up when the caller's context ends.
	c := m.NewCollector(func(deliverCtx context.Context, _ *core.AgentID, msg core.ResponseMessage, _ any) error {
		select {
		case messagesCh <- msg:
			return nil
		case <-deliverCtx.Done():
			return deliverCtx.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		defer func() { close(messagesCh); close(errorsCh) }()

		if err := m.runner.Run(ctx, query, c, connectionID, userFeedbackEnabled); err != nil {
			errorsCh <- err
		}
	}()

	return messagesCh, errorsCh
}

// ProcessSync runs the pipeline and returns every delivered message in order.
func (m *SQLMesh) ProcessSync(
	ctx context.Context,
	query string,
	connectionID *int64,
	userFeedbackEnabled bool,
) ([]core.ResponseMessage, error) {
	var (
		mu       sync.Mutex
		messages []core.ResponseMessage
	)

	c := m.NewCollector(func(_ context.Context, _ *core.AgentID, msg core.ResponseMessage, _ any) error {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, msg)
		return nil
	})

	err := m.runner.Run(ctx, query, c, connectionID, userFeedbackEnabled)

	mu.Lock()
	defer mu.Unlock()
	return messages, err
}
