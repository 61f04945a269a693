package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned by Guarded while its circuit breaker rejects
// calls after repeated provider failures.
var ErrCircuitOpen = errors.New("completion circuit breaker is open")

// BreakerSettings configures the circuit breaker of a Guarded model.
type BreakerSettings struct {
	// MaxRequests is the number of probe calls allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period after which closed-state counts reset.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the breaker.
	FailureThreshold float64

	// MinRequests is the number of calls needed before the ratio is judged.
	MinRequests uint32
}

// DefaultBreakerSettings trips at 80% failures over at least 5 calls and
// probes again after a minute.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Guarded wraps a ChatModel with retry of transient failures, a circuit
// breaker shared by all callers and cost accounting.
//
// Example:
//
//	tracker := model.NewCostTracker()
//	m, err := model.NewGuarded(anthropic.NewChatModel(key, ""),
//	    model.WithModelName("claude-3-5-haiku-20241022"),
//	    model.WithCostTracker(tracker),
//	)
type Guarded struct {
	model   ChatModel
	name    string
	retry   RetryPolicy
	breaker *gobreaker.CircuitBreaker
	costs   *CostTracker
	logger  *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// GuardOption configures a Guarded model.
type GuardOption func(*guardConfig) error

type guardConfig struct {
	name    string
	retry   RetryPolicy
	breaker BreakerSettings
	costs   *CostTracker
	logger  *zap.Logger
}

// WithModelName sets the name used for pricing and breaker identification.
func WithModelName(name string) GuardOption {
	return func(cfg *guardConfig) error {
		cfg.name = name
		return nil
	}
}

// WithRetry replaces the default retry policy.
func WithRetry(policy RetryPolicy) GuardOption {
	return func(cfg *guardConfig) error {
		if err := policy.Validate(); err != nil {
			return err
		}
		cfg.retry = policy
		return nil
	}
}

// WithBreaker replaces the default breaker settings.
func WithBreaker(settings BreakerSettings) GuardOption {
	return func(cfg *guardConfig) error {
		if settings.FailureThreshold <= 0 || settings.FailureThreshold > 1 {
			return fmt.Errorf("breaker failure threshold must be in (0, 1], got %v", settings.FailureThreshold)
		}
		cfg.breaker = settings
		return nil
	}
}

// WithCostTracker records the usage of every successful call into tracker.
func WithCostTracker(tracker *CostTracker) GuardOption {
	return func(cfg *guardConfig) error {
		cfg.costs = tracker
		return nil
	}
}

// WithLogger logs retries and breaker state changes.
func WithLogger(logger *zap.Logger) GuardOption {
	return func(cfg *guardConfig) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}
}

// NewGuarded wraps m. Without options it retries with DefaultRetryPolicy and
// breaks with DefaultBreakerSettings.
func NewGuarded(m ChatModel, opts ...GuardOption) (*Guarded, error) {
	if m == nil {
		return nil, errors.New("model cannot be nil")
	}

	cfg := guardConfig{
		name:    "default",
		retry:   DefaultRetryPolicy(),
		breaker: DefaultBreakerSettings(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	g := &Guarded{
		model:  m,
		name:   cfg.name,
		retry:  cfg.retry,
		costs:  cfg.costs,
		logger: cfg.logger.With(zap.String("model", cfg.name)),
		sleep:  sleepContext,
	}

	settings := cfg.breaker
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation is not a provider failure
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return g, nil
}

// Name returns the model name used for pricing.
func (g *Guarded) Name() string {
	return g.name
}

// BreakerState returns "closed", "half-open" or "open".
func (g *Guarded) BreakerState() string {
	return g.breaker.State().String()
}

// Chat implements ChatModel.
func (g *Guarded) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	var lastErr error

	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt-1, g.retry.BaseDelay, g.retry.MaxDelay, nil)
			if err := g.sleep(ctx, delay); err != nil {
				return ChatOut{}, err
			}
		}

		out, err := g.call(ctx, messages)
		if err == nil {
			if g.costs != nil {
				g.costs.Record(g.name, out.Usage)
			}
			return out, nil
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) || !g.retry.retryable(err) {
			return ChatOut{}, err
		}
		if attempt+1 < g.retry.MaxAttempts {
			g.logger.Info("retrying completion", zap.Int("attempt", attempt+1), zap.Error(err))
		}
	}

	return ChatOut{}, fmt.Errorf("completion failed after %d attempts: %w", g.retry.MaxAttempts, lastErr)
}

func (g *Guarded) call(ctx context.Context, messages []Message) (ChatOut, error) {
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.model.Chat(ctx, messages)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ChatOut{}, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	if err != nil {
		return ChatOut{}, err
	}
	return res.(ChatOut), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
