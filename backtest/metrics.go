package backtest

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics exposes Prometheus-compatible metrics for the Worker,
// namespaced "backtest_":
//
//  1. active_workers (gauge): currently-running job slots.
//  2. step_latency_ms (histogram): per-candle-step duration, labeled by
//     backtest_id and outcome.
//  3. checkpoints_total (counter): checkpoint writes, labeled by
//     backtest_id.
//  4. backoff_total (counter): infra-retry backoff events, labeled by
//     reason.
//
// Thread-safe: the Prometheus collectors accept concurrent updates, and
// a mutex guards the enabled flag that Disable/Enable toggle.
type WorkerMetrics struct {
	activeWorkers prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	checkpoints   *prometheus.CounterVec
	backoff       *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewWorkerMetrics creates and registers all Worker metrics against
// registry. Pass prometheus.DefaultRegisterer for the global registry,
// or a fresh prometheus.NewRegistry() for test isolation.
func NewWorkerMetrics(registry prometheus.Registerer) *WorkerMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	m := &WorkerMetrics{enabled: true}

	m.activeWorkers = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "backtest",
		Name:      "active_workers",
		Help:      "Current number of job slots actively executing a backtest",
	})

	m.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backtest",
		Name:      "step_latency_ms",
		Help:      "Duration of one candle step (snapshot build through persistence) in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"backtest_id", "outcome"})

	m.checkpoints = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "checkpoints_total",
		Help:      "Checkpoint writes, including the final terminal-step checkpoint",
	}, []string{"backtest_id"})

	m.backoff = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "backoff_total",
		Help:      "Infrastructure retry backoff events",
	}, []string{"reason"})

	return m
}

// RecordStepLatency updates the step_latency_ms histogram.
func (m *WorkerMetrics) RecordStepLatency(backtestID string, d time.Duration, outcome string) {
	if !m.isEnabled() {
		return
	}
	m.stepLatency.WithLabelValues(backtestID, outcome).Observe(float64(d.Milliseconds()))
}

// IncrementCheckpoints increments the checkpoints_total counter.
func (m *WorkerMetrics) IncrementCheckpoints(backtestID string) {
	if !m.isEnabled() {
		return
	}
	m.checkpoints.WithLabelValues(backtestID).Inc()
}

// IncrementBackoff increments the backoff_total counter.
func (m *WorkerMetrics) IncrementBackoff(reason string) {
	if !m.isEnabled() {
		return
	}
	m.backoff.WithLabelValues(reason).Inc()
}

// UpdateActiveWorkers sets the active_workers gauge.
func (m *WorkerMetrics) UpdateActiveWorkers(count int) {
	if !m.isEnabled() {
		return
	}
	m.activeWorkers.Set(float64(count))
}

func (m *WorkerMetrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Disable stops metric recording (useful for testing).
func (m *WorkerMetrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable resumes metric recording after Disable.
func (m *WorkerMetrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}
