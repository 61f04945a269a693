// Package app wires configuration into a running conversation engine: the
// checkpoint store, the completion provider, the dataset catalog and the
// observability outputs.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/dshills/convograph/graph"
	"github.com/dshills/convograph/graph/emit"
	"github.com/dshills/convograph/graph/model"
	"github.com/dshills/convograph/graph/store"
	"github.com/dshills/convograph/internal/agent"
	"github.com/dshills/convograph/internal/catalog"
	"github.com/dshills/convograph/internal/config"
)

// App holds the components built from a Config.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Engine   *graph.Engine[agent.State]
	Store    store.Store[agent.State]
	Catalog  catalog.Catalog
	Costs    *model.CostTracker
	Registry *prometheus.Registry
	Events   *emit.BufferedEmitter

	closers []func(context.Context) error
}

// Option customizes New.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	model      model.ChatModel
	catalog    catalog.Catalog
	store      store.Store[agent.State]
	processors []sdktrace.SpanProcessor
}

// WithLogger uses logger instead of one built from the config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithModel replaces the configured provider. The model is still guarded.
func WithModel(m model.ChatModel) Option {
	return func(o *options) { o.model = m }
}

// WithCatalog replaces the directory catalog.
func WithCatalog(c catalog.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithStore replaces the configured checkpoint store.
func WithStore(st store.Store[agent.State]) Option {
	return func(o *options) { o.store = st }
}

// WithSpanProcessor registers a span processor (usually an exporter) on the
// tracer provider created when tracing is enabled.
func WithSpanProcessor(p sdktrace.SpanProcessor) Option {
	return func(o *options) { o.processors = append(o.processors, p) }
}

// New builds an App. Close releases what it opened.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Costs: model.NewCostTracker(), Events: emit.NewBufferedEmitter()}

	a.Logger = o.logger
	if a.Logger == nil {
		logger, err := NewLogger(cfg.Environment, cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		a.Logger = logger
		a.closers = append(a.closers, func(context.Context) error {
			_ = logger.Sync()
			return nil
		})
	}

	if err := a.build(ctx, o); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.Config

	a.Catalog = o.catalog
	if a.Catalog == nil {
		fc, err := catalog.NewFileCatalog(cfg.Catalog.Dir, a.Logger.Named("catalog"))
		if err != nil {
			return err
		}
		a.Catalog = fc
	}

	a.Store = o.store
	if a.Store == nil {
		st, closer, err := OpenStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		a.Store = st
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}

	provider := o.model
	if provider == nil {
		topics, err := topicsOf(ctx, a.Catalog)
		if err != nil {
			return err
		}
		m, closer, err := NewProvider(cfg.Model, topics)
		if err != nil {
			return err
		}
		provider = m
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	guarded, err := Guard(provider, cfg.Model, a.Costs, a.Logger.Named("model"))
	if err != nil {
		return err
	}

	emitter := a.emitter(o.processors)

	engineOpts := []graph.Option{
		graph.WithMaxSteps(cfg.Engine.MaxSteps),
		graph.WithNodeTimeout(cfg.Engine.NodeTimeout),
	}
	a.Registry = prometheus.NewRegistry()
	if cfg.Telemetry.Metrics {
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		engineOpts = append(engineOpts, graph.WithMetrics(graph.NewPrometheusMetrics(a.Registry)))
	}

	clarify := cfg.Agent.Clarify
	a.Engine, err = agent.New(agent.Deps{
		Model:         guarded,
		Catalog:       a.Catalog,
		Logger:        a.Logger.Named("agent"),
		Clarify:       &clarify,
		MaxIterations: cfg.Agent.MaxIterations,
		TopN:          cfg.Catalog.TopN,
	}, a.Store, emitter, engineOpts...)
	return err
}

// emitter fans engine events out to the buffered history, the zap logger and
// the optional event log and tracer.
func (a *App) emitter(processors []sdktrace.SpanProcessor) emit.Emitter {
	cfg := a.Config.Telemetry
	emitters := []emit.Emitter{a.Events, emit.NewZapEmitter(a.Logger)}

	switch cfg.EventLog {
	case "text":
		emitters = append(emitters, emit.NewLogEmitter(os.Stderr, false))
	case "json":
		emitters = append(emitters, emit.NewLogEmitter(os.Stderr, true))
	}

	if cfg.Tracing {
		tpOpts := make([]sdktrace.TracerProviderOption, 0, len(processors))
		for _, p := range processors {
			tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
		}
		tp := sdktrace.NewTracerProvider(tpOpts...)
		otel.SetTracerProvider(tp)
		a.closers = append(a.closers, tp.Shutdown)
		emitters = append(emitters, emit.NewOTelEmitter(tp.Tracer("convograph")))
	}

	return emit.NewMultiEmitter(emitters...)
}

// Close releases stores, clients and the tracer provider in reverse order of
// creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close: %w", errors.Join(errs...))
	}
	return nil
}

func topicsOf(ctx context.Context, c catalog.Catalog) ([]string, error) {
	if fc, ok := c.(*catalog.FileCatalog); ok {
		return fc.Topics(ctx)
	}
	datasets, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var topics []string
	for _, ds := range datasets {
		if !seen[ds.Topic] {
			seen[ds.Topic] = true
			topics = append(topics, ds.Topic)
		}
	}
	return topics, nil
}
