// Package metrics exposes Prometheus instrumentation for pipeline runs.
//
// A Collector is bound to a caller supplied prometheus.Registerer so several
// runners (or tests) can live in one process without colliding on the global
// registry. All methods are safe on a nil *Collector, which lets components
// treat metrics as optional.
//
// # Metrics
//
//	<ns>_runs_total{outcome}
//	<ns>_run_duration_seconds
//	<ns>_resolutions_total{db_type,outcome}
//	<ns>_messages_delivered_total{source,final}
//	<ns>_handler_errors_total{agent_type}
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name when no namespace is configured.
const DefaultNamespace = "sqlmesh"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	// OutcomeDisabled marks a resolution that fell back to a disabled handle.
	OutcomeDisabled = "disabled"
)

// Collector records pipeline metrics.
type Collector struct {
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	resolutionsTotal  *prometheus.CounterVec
	messagesDelivered *prometheus.CounterVec
	handlerErrors     *prometheus.CounterVec
}

// Options configures a Collector.
type Options struct {
	// Namespace prefixes metric names. Defaults to DefaultNamespace.
	Namespace string
	// Buckets overrides the run duration histogram buckets.
	Buckets []float64
}

// NewCollector registers the pipeline metrics with reg.
func NewCollector(reg prometheus.Registerer, optFns ...func(o *Options)) *Collector {
	opts := Options{
		Namespace: DefaultNamespace,
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	factory := promauto.With(reg)

	return &Collector{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome.",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   opts.Buckets,
		}),
		resolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "resolutions_total",
			Help:      "Connection resolutions by db type and outcome.",
		}, []string{"db_type", "outcome"}),
		messagesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "messages_delivered_total",
			Help:      "Response messages delivered to the caller callback.",
		}, []string{"source", "final"}),
		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "handler_errors_total",
			Help:      "Agent handler errors and panics by agent type.",
		}, []string{"agent_type"}),
	}
}

// ObserveRun records a finished run.
func (c *Collector) ObserveRun(err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(outcome(err)).Inc()
	c.runDuration.Observe(elapsed.Seconds())
}

// ObserveResolution records one resolver call. connected reports whether a
// real store handle was produced.
func (c *Collector) ObserveResolution(dbType string, connected bool) {
	if c == nil {
		return
	}
	o := OutcomeSuccess
	if !connected {
		o = OutcomeDisabled
	}
	c.resolutionsTotal.WithLabelValues(dbType, o).Inc()
}

// ObserveDelivery records one callback delivery.
func (c *Collector) ObserveDelivery(source string, final bool) {
	if c == nil {
		return
	}
	c.messagesDelivered.WithLabelValues(source, strconv.FormatBool(final)).Inc()
}

// ObserveHandlerError records a failed or panicking agent handler.
func (c *Collector) ObserveHandlerError(agentType string) {
	if c == nil {
		return
	}
	c.handlerErrors.WithLabelValues(agentType).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
