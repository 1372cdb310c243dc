package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/sqlmesh/collector"
	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/engine"
	"github.com/hupe1980/sqlmesh/internal/util"
	"github.com/hupe1980/sqlmesh/logging"
	"github.com/hupe1980/sqlmesh/metrics"
	"github.com/hupe1980/sqlmesh/resolver"
)

const tracerName = "github.com/hupe1980/sqlmesh/runner"

// Resolver produces the data access handle of a run.
type Resolver interface {
	ResolveDetailed(ctx context.Context, connectionID *int64) resolver.Resolution
}

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Timeout bounds a whole run. Zero means no deadline beyond the caller's context.
	Timeout time.Duration
	// CollectorBufferSize is used for the collector created when Run gets nil.
	CollectorBufferSize int
	// Callbacks are registered on every run's engine.
	Callbacks []engine.Callback
	// OnStateChange observes run state transitions.
	OnStateChange func(runID string, from, to State)
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
	// Metrics is optional.
	Metrics *metrics.Collector
	// Logging services.
	Logger logging.Logger
}

// Runner drives pipeline runs. Public methods are safe for concurrent use.
type Runner struct {
	resolver  Resolver
	registrar Registrar

	timeout             time.Duration
	collectorBufferSize int
	callbacks           []engine.Callback
	onStateChange       func(runID string, from, to State)
	tracer              trace.Tracer
	metrics             *metrics.Collector
	logger              logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New constructs a Runner with optional overrides.
func New(res Resolver, registrar Registrar, optFns ...func(o *Options)) *Runner {
	opts := Options{
		CollectorBufferSize: collector.DefaultBufferSize,
		Logger:              logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Runner{
		resolver:            res,
		registrar:           registrar,
		timeout:             opts.Timeout,
		collectorBufferSize: opts.CollectorBufferSize,
		callbacks:           opts.Callbacks,
		onStateChange:       opts.OnStateChange,
		tracer:              opts.Tracer,
		metrics:             opts.Metrics,
		logger:              logging.OrNoOp(opts.Logger),
		activeRuns:          make(map[string]context.CancelFunc),
	}
}

// Run executes one pipeline run for query. Output is delivered exclusively
// through c's callback; when c is nil a collector without callback is used.
// The returned error reports a failure that has already been delivered as a
// synthetic "system" message.
func (r *Runner) Run(
	ctx context.Context,
	query string,
	c *collector.Collector,
	connectionID *int64,
	userFeedbackEnabled bool,
) (err error) {
	if c == nil {
		c = collector.New(nil, func(o *collector.Options) {
			o.BufferSize = r.collectorBufferSize
			o.Logger = r.logger
			o.Metrics = r.metrics
		})
	}

	runID := util.NewID()
	started := time.Now()

	ctx, span := r.tracer.Start(ctx, "runner.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Bool("run.has_connection", connectionID != nil),
		attribute.Bool("run.user_feedback", userFeedbackEnabled),
	))
	defer span.End()

	var cancel context.CancelFunc
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	r.track(runID, cancel)
	defer r.untrack(runID)

	st := &tracker{runID: runID, logger: r.logger, span: span, observer: r.onStateChange}
	finalsBefore := c.FinalsDelivered()

	r.logger.Info("run %s started", runID)

	// CREATED -> CONNECTED
	res := r.resolve(ctx, connectionID)
	defer func() {
		if cerr := res.Handle.Close(); cerr != nil {
			r.logger.Warn("error closing data access for run %s: %v", runID, cerr)
		}
	}()
	span.SetAttributes(
		attribute.String("db.type", res.DBType.String()),
		attribute.Bool("db.connected", res.Handle.Connected()),
	)
	if res.Err != nil {
		span.AddEvent("resolution.degraded", trace.WithAttributes(attribute.String("error", res.Err.Error())))
	}
	st.to(StateConnected)

	rt := r.newEngine()
	closed := false
	closeRuntime := func() error {
		if closed {
			return nil
		}
		closed = true
		return rt.Close(context.WithoutCancel(ctx))
	}
	defer func() {
		if cerr := closeRuntime(); cerr != nil {
			r.logger.Warn("error closing runtime for run %s: %v", runID, cerr)
		}
	}()

	deps := Deps{
		RunID:               runID,
		DBType:              res.DBType,
		DataAccess:          res.Handle,
		Collector:           c,
		UserFeedbackEnabled: userFeedbackEnabled,
		Logger:              r.logger,
	}

	err = r.drive(ctx, rt, deps, core.NewQueryMessage(query, connectionID), st)

	// IDLE -> CLOSED; teardown also runs after a failure.
	if cerr := closeRuntime(); cerr != nil {
		if err == nil {
			err = core.NewError(core.ErrorTypePipeline, "close", "failed to close runtime", cerr)
		} else {
			r.logger.Warn("error closing runtime for run %s: %v", runID, cerr)
		}
	}

	deliverCtx := context.WithoutCancel(ctx)
	if ferr := c.Flush(deliverCtx); ferr != nil {
		if err == nil {
			err = core.NewError(core.ErrorTypePipeline, "flush", "failed to flush collector", ferr)
		} else {
			r.logger.Warn("error flushing collector for run %s: %v", runID, ferr)
		}
	}

	if err != nil {
		st.to(StateErrored)
		r.logger.Error("run %s failed: %v", runID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if c.HasCallback() {
			if derr := c.Deliver(deliverCtx, nil, core.NewSystemErrorMessage(err), nil); derr != nil {
				r.logger.Warn("error delivering failure message for run %s: %v", runID, derr)
			}
		}
	} else {
		if c.HasCallback() && c.FinalsDelivered() == finalsBefore {
			// Nothing concluded the run; close the stream for the caller.
			if derr := c.Deliver(deliverCtx, nil, core.ResponseMessage{Source: core.SystemSource, IsFinal: true}, nil); derr != nil {
				r.logger.Warn("error delivering completion message for run %s: %v", runID, derr)
			}
		}
		st.to(StateClosed)
		span.SetStatus(codes.Ok, "")
	}

	elapsed := time.Since(started)
	r.metrics.ObserveRun(err, elapsed)
	r.logger.Info("run %s finished state=%s elapsed=%s", runID, st.state, elapsed)

	return err
}

// drive performs registration, start, publish and idle-drain. Panics are
// converted into pipeline errors.
func (r *Runner) drive(ctx context.Context, rt *engine.Engine, deps Deps, msg core.QueryMessage, st *tracker) (err error) {
	phase := "register"
	defer func() {
		if p := recover(); p != nil {
			err = core.NewError(core.ErrorTypePipeline, phase, "panic", fmt.Errorf("%v", p))
		}
	}()

	if r.registrar == nil {
		return core.NewError(core.ErrorTypePipeline, phase, "no agent registrar configured", nil)
	}
	if err := r.registrar.RegisterAll(ctx, rt, deps); err != nil {
		return core.NewError(core.ErrorTypePipeline, phase, "failed to register agents", err)
	}
	st.to(StateRegistered)

	phase = "start"
	if err := rt.Start(ctx); err != nil {
		return core.NewError(core.ErrorTypePipeline, phase, "failed to start runtime", err)
	}

	phase = "publish"
	if err := rt.Publish(ctx, msg, core.NewTopicID(core.TopicSchemaRetriever)); err != nil {
		return core.NewError(core.ErrorTypePipeline, phase, "failed to publish query", err)
	}
	st.to(StateRunning)

	phase = "idle"
	if err := rt.StopWhenIdle(ctx); err != nil {
		return core.NewError(core.ErrorTypePipeline, phase, "failed waiting for idle", err)
	}
	st.to(StateIdle)

	return nil
}

func (r *Runner) resolve(ctx context.Context, connectionID *int64) resolver.Resolution {
	if r.resolver == nil {
		return resolver.New(nil).ResolveDetailed(ctx, nil)
	}
	res := r.resolver.ResolveDetailed(ctx, connectionID)
	if res.Handle == nil {
		// Keep the never-nil handle invariant for custom resolvers.
		res = resolver.New(nil).ResolveDetailed(ctx, nil)
	}
	return res
}

func (r *Runner) newEngine() *engine.Engine {
	rt := engine.New(func(o *engine.Options) { o.Logger = r.logger })
	for _, cb := range r.callbacks {
		rt.Callbacks().RegisterCallback(cb)
	}
	if r.metrics != nil {
		rt.Callbacks().RegisterCallback(engine.NewFunctionCallback(engine.CallbackOnError, func(_ context.Context, cb *engine.CallbackContext) error {
			r.metrics.ObserveHandlerError(cb.AgentID.Type)
			return nil
		}))
	}
	return rt
}

// Cancel cancels a running run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[runID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

// ActiveRuns returns the ids of runs in progress.
func (r *Runner) ActiveRuns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.activeRuns))
	for id := range r.activeRuns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Runner) track(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeRuns[runID] = cancel
}

func (r *Runner) untrack(runID string) {
	r.mu.Lock()
	cancel := r.activeRuns[runID]
	delete(r.activeRuns, runID)
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// IsPipelineError reports whether err is a driver failure.
func IsPipelineError(err error) bool {
	return errors.Is(err, core.ErrPipeline)
}
