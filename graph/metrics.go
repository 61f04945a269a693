package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine metrics for production monitoring.
//
// Metrics exposed (all namespaced with "convograph_"):
//
//  1. step_latency_ms (histogram): node execution duration.
//     Labels: node_id, status (success, error, interrupt).
//  2. steps_total (counter): completed steps. Labels: node_id.
//  3. interrupts_total (counter): suspensions. Labels: node_id.
//  4. resumes_total (counter): successful Resume calls.
//  5. routing_fallbacks_total (counter): conditional router outputs that fell
//     back to the default target. Labels: from.
//  6. active_threads (gauge): threads currently executing or waiting on their
//     lock.
//
// Thread ids are not used as labels; they are unbounded.
type PrometheusMetrics struct {
	stepLatency      *prometheus.HistogramVec
	steps            *prometheus.CounterVec
	interrupts       *prometheus.CounterVec
	resumes          prometheus.Counter
	routingFallbacks *prometheus.CounterVec
	activeThreads    prometheus.Gauge

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all engine metrics with registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "convograph",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
	}, []string{"node_id", "status"})

	pm.steps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convograph",
		Name:      "steps_total",
		Help:      "Completed node executions",
	}, []string{"node_id"})

	pm.interrupts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convograph",
		Name:      "interrupts_total",
		Help:      "Threads suspended waiting for external input",
	}, []string{"node_id"})

	pm.resumes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "convograph",
		Name:      "resumes_total",
		Help:      "Suspended threads resumed with a value",
	})

	pm.routingFallbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convograph",
		Name:      "routing_fallbacks_total",
		Help:      "Router outputs outside the target table resolved to the default target",
	}, []string{"from"})

	pm.activeThreads = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "convograph",
		Name:      "active_threads",
		Help:      "Threads currently executing or waiting for their lock",
	})

	return pm
}

func (pm *PrometheusMetrics) isEnabled() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency records the execution duration of a node.
// status is "success", "error" or "interrupt".
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementSteps counts one completed step of nodeID.
func (pm *PrometheusMetrics) IncrementSteps(nodeID string) {
	if !pm.isEnabled() {
		return
	}
	pm.steps.WithLabelValues(nodeID).Inc()
}

// IncrementInterrupts counts one suspension at nodeID.
func (pm *PrometheusMetrics) IncrementInterrupts(nodeID string) {
	if !pm.isEnabled() {
		return
	}
	pm.interrupts.WithLabelValues(nodeID).Inc()
}

// IncrementResumes counts one accepted Resume.
func (pm *PrometheusMetrics) IncrementResumes() {
	if !pm.isEnabled() {
		return
	}
	pm.resumes.Inc()
}

// IncrementRoutingFallbacks counts a router output that was not in the target
// table of the conditional edge leaving from.
func (pm *PrometheusMetrics) IncrementRoutingFallbacks(from string) {
	if !pm.isEnabled() {
		return
	}
	pm.routingFallbacks.WithLabelValues(from).Inc()
}

// SetActiveThreads sets the active thread gauge.
func (pm *PrometheusMetrics) SetActiveThreads(n int) {
	if !pm.isEnabled() {
		return
	}
	pm.activeThreads.Set(float64(n))
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset clears gauge values. Counters and histograms are cumulative.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.activeThreads.Set(0)
}
