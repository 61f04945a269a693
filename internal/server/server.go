// Package server exposes conversation threads over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshills/convograph/internal/app"
	"github.com/dshills/convograph/internal/config"
)

// Server routes HTTP requests to an app.Service.
type Server struct {
	svc      *app.Service
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	validate *validator.Validate
}

// New creates a Server. A nil gatherer disables /metrics.
func New(svc *app.Service, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:      svc,
		gatherer: gatherer,
		logger:   logger,
		validate: validator.New(),
	}
}

// Handler returns the router:
//
//	POST /v1/threads                  start a thread with a first message
//	POST /v1/threads/{id}/messages    add a message to an idle thread
//	POST /v1/threads/{id}/resume      answer the pending prompt
//	POST /v1/threads/{id}/continue    finish a run that stopped between steps
//	GET  /v1/threads/{id}             thread state
//	GET  /v1/threads/{id}/history     committed steps
//	GET  /v1/threads/{id}/events      engine events seen by this process
//	GET  /v1/datasets                 catalog ranked by completeness
//	GET  /v1/usage                    completion tokens and cost
//	GET  /healthz
//	GET  /metrics
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.health)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/threads", s.startThread)
		r.Route("/threads/{threadID}", func(r chi.Router) {
			r.Use(s.threadID)
			r.Get("/", s.getThread)
			r.Post("/messages", s.postMessage)
			r.Post("/resume", s.resume)
			r.Post("/continue", s.continueRun)
			r.Get("/history", s.history)
			r.Get("/events", s.events)
		})
		r.Get("/datasets", s.datasets)
		r.Get("/usage", s.usage)
	})

	return r
}

// ListenAndServe serves handler on cfg.Address until ctx is cancelled, then
// shuts down gracefully.
func ListenAndServe(ctx context.Context, cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
