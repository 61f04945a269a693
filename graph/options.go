package graph

import "time"

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(
//	    schema.Reducer(),
//	    store.NewMemStore[State](),
//	    emit.NewNullEmitter(),
//	    graph.WithMaxSteps(50),
//	    graph.WithNodeTimeout(30*time.Second),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	maxSteps    int
	nodeTimeout time.Duration
	metrics     *PrometheusMetrics
	now         func() time.Time
}

func defaultConfig() engineConfig {
	return engineConfig{now: time.Now}
}

// WithMaxSteps limits the number of node executions in a single Run or Resume.
//
// Default: 0 (no limit). Cyclic graphs such as clarification loops should set
// a limit as a circuit breaker; exceeding it returns ErrMaxStepsExceeded
// wrapped in an EngineError with code "MAX_STEPS_EXCEEDED".
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.maxSteps = n
		return nil
	}
}

// WithNodeTimeout bounds a single node execution. A node that overruns fails
// with a NodeError coded "NODE_TIMEOUT". Suspended threads never time out.
//
// Default: 0 (no timeout).
func WithNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "node timeout cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.nodeTimeout = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	engine, _ := graph.New(reducer, st, emitter, graph.WithMetrics(graph.NewPrometheusMetrics(registry)))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = metrics
		return nil
	}
}

// WithClock overrides the time source used for checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return &EngineError{Message: "clock cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.now = now
		return nil
	}
}
