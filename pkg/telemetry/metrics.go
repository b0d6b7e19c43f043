package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the Quarry engine. A nil or
// disabled Metrics value is safe to call; every recording method is a no-op.
type Metrics struct {
	config MetricsConfig

	// Rule execution metrics
	rulesExecuted *prometheus.CounterVec
	ruleDuration  *prometheus.HistogramVec

	// Memoization metrics
	memoHits       *prometheus.CounterVec
	memoMisses     *prometheus.CounterVec
	coalescedGets  *prometheus.CounterVec
	inflightRules  prometheus.Gauge
	suspendedRules prometheus.Gauge

	// Sandbox process metrics
	processesRun    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processCacheHits   prometheus.Counter
	processCacheMisses prometheus.Counter

	// Goal metrics
	goalsRun     *prometheus.CounterVec
	goalDuration *prometheus.HistogramVec

	// Error metrics
	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		rulesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rules_executed_total",
				Help:      "Total number of rule bodies executed",
			},
			[]string{"rule", "outcome"},
		),
		ruleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rule_duration_seconds",
				Help:      "Wall-clock duration of rule executions",
				Buckets:   buckets,
			},
			[]string{"rule"},
		),
		memoHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memo_hits_total",
				Help:      "Requests answered from the in-run memo table",
			},
			[]string{"rule"},
		),
		memoMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memo_misses_total",
				Help:      "Requests that required a fresh computation",
			},
			[]string{"rule"},
		),
		coalescedGets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coalesced_requests_total",
				Help:      "Concurrent identical requests attached to an in-flight computation",
			},
			[]string{"rule"},
		),
		inflightRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_rules",
				Help:      "Rule bodies currently holding a worker slot",
			},
		),
		suspendedRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "suspended_rules",
				Help:      "Rule bodies suspended on sub-requests",
			},
		),
		processesRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "processes_run_total",
				Help:      "Sandboxed processes executed",
			},
			[]string{"outcome"},
		),
		processDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "process_duration_seconds",
				Help:      "Wall-clock duration of sandboxed processes",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		processCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_cache_hits_total",
				Help:      "Process results served from the persistent cache",
			},
		),
		processCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_cache_misses_total",
				Help:      "Process results not found in the persistent cache",
			},
		),
		goalsRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "goals_run_total",
				Help:      "Goal invocations by goal name and exit status",
			},
			[]string{"goal", "exit"},
		),
		goalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "goal_duration_seconds",
				Help:      "Wall-clock duration of goal invocations",
				Buckets:   buckets,
			},
			[]string{"goal"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Engine errors by error code",
			},
			[]string{"code"},
		),
	}

	collectors := []prometheus.Collector{
		m.rulesExecuted, m.ruleDuration,
		m.memoHits, m.memoMisses, m.coalescedGets,
		m.inflightRules, m.suspendedRules,
		m.processesRun, m.processDuration,
		m.processCacheHits, m.processCacheMisses,
		m.goalsRun, m.goalDuration,
		m.errorsByCode,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.config.Enabled
}

// RuleStarted records that a rule body acquired a worker slot.
func (m *Metrics) RuleStarted() {
	if m.enabled() {
		m.inflightRules.Inc()
	}
}

// RuleCompleted records the outcome and duration of a rule body.
func (m *Metrics) RuleCompleted(rule, outcome string, d time.Duration) {
	if m.enabled() {
		m.inflightRules.Dec()
		m.rulesExecuted.WithLabelValues(rule, outcome).Inc()
		m.ruleDuration.WithLabelValues(rule).Observe(d.Seconds())
	}
}

// RuleSuspended records a rule body releasing its slot to wait on
// sub-requests.
func (m *Metrics) RuleSuspended() {
	if m.enabled() {
		m.suspendedRules.Inc()
	}
}

// RuleResumed records a suspended rule body reacquiring a slot.
func (m *Metrics) RuleResumed() {
	if m.enabled() {
		m.suspendedRules.Dec()
	}
}

// MemoHit records a request answered from the memo table.
func (m *Metrics) MemoHit(rule string) {
	if m.enabled() {
		m.memoHits.WithLabelValues(rule).Inc()
	}
}

// MemoMiss records a request that started a fresh computation.
func (m *Metrics) MemoMiss(rule string) {
	if m.enabled() {
		m.memoMisses.WithLabelValues(rule).Inc()
	}
}

// RequestCoalesced records a request that attached to an in-flight
// computation.
func (m *Metrics) RequestCoalesced(rule string) {
	if m.enabled() {
		m.coalescedGets.WithLabelValues(rule).Inc()
	}
}

// ProcessRun records a sandboxed process execution.
func (m *Metrics) ProcessRun(outcome string, d time.Duration) {
	if m.enabled() {
		m.processesRun.WithLabelValues(outcome).Inc()
		m.processDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// ProcessCacheHit records a persistent process-cache hit.
func (m *Metrics) ProcessCacheHit() {
	if m.enabled() {
		m.processCacheHits.Inc()
	}
}

// ProcessCacheMiss records a persistent process-cache miss.
func (m *Metrics) ProcessCacheMiss() {
	if m.enabled() {
		m.processCacheMisses.Inc()
	}
}

// GoalCompleted records a goal invocation.
func (m *Metrics) GoalCompleted(goal string, exitCode int, d time.Duration) {
	if m.enabled() {
		m.goalsRun.WithLabelValues(goal, fmt.Sprintf("%d", exitCode)).Inc()
		m.goalDuration.WithLabelValues(goal).Observe(d.Seconds())
	}
}

// ErrorRecorded records an engine error by code.
func (m *Metrics) ErrorRecorded(code string) {
	if m.enabled() {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
