package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchscrape/internal/config"
	"github.com/JakeFAU/batchscrape/internal/dispatcher"
	"github.com/JakeFAU/batchscrape/internal/metrics"
	"github.com/JakeFAU/batchscrape/internal/middleware"
	"github.com/JakeFAU/batchscrape/internal/scrape"
	"github.com/JakeFAU/batchscrape/internal/sink"
)

// DefaultRequestTimeout bounds a single API request, batch included.
const DefaultRequestTimeout = 5 * time.Minute

// maxBodyBytes caps the size of a batch submission.
const maxBodyBytes = 4 << 20

// BatchRunner runs one batch. *dispatcher.Dispatcher satisfies it.
type BatchRunner interface {
	Run(ctx context.Context, targets []scrape.Target, workerCount int) (scrape.Batch, error)
}

// ReadyFunc reports whether downstream dependencies are usable.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher and sinks.
type Server struct {
	router  chi.Router
	runner  BatchRunner
	sink    scrape.Sink
	ready   ReadyFunc
	cfg     config.Config
	logger  *zap.Logger
	timeout time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithReadiness installs a readiness check for /readyz.
func WithReadiness(fn ReadyFunc) Option {
	return func(s *Server) { s.ready = fn }
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewServer constructs a Server with middleware and routes. out may be nil.
func NewServer(runner BatchRunner, out scrape.Sink, cfg config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out != nil && !strings.Contains(cfg.Output.URI, sink.BatchIDPlaceholder) {
		logger.Warn("output.uri has no batch id placeholder; each persisted batch overwrites the previous one",
			zap.String("uri", cfg.Output.URI),
			zap.String("placeholder", sink.BatchIDPlaceholder),
		)
	}
	s := &Server{
		runner:  runner,
		sink:    out,
		cfg:     cfg,
		logger:  logger,
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(middleware.APIKey(cfg.Auth.APIKey))
		}
		r.Use(middleware.Timeout(s.timeout))
		r.Post("/batches", s.runBatch)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type batchRequest struct {
	Targets []string `json:"targets"`
	Workers *int     `json:"workers"`
	Persist *bool    `json:"persist"`
}

type batchResponse struct {
	Batch     scrape.Batch   `json:"batch"`
	Summary   scrape.Summary `json:"summary"`
	Persisted bool           `json:"persisted"`
	SinkError string         `json:"sink_error,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	workers := s.cfg.Batch.Workers
	if req.Workers != nil {
		workers = *req.Workers
	}
	targets := make([]scrape.Target, 0, len(req.Targets))
	for _, t := range req.Targets {
		targets = append(targets, scrape.Target(t))
	}

	logger := s.logger.With(zap.String("request_id", middleware.RequestIDFrom(r.Context())))
	batch, err := s.runner.Run(r.Context(), targets, workers)
	if err != nil {
		var interrupted *dispatcher.InterruptedError
		switch {
		case errors.Is(err, dispatcher.ErrInvalidWorkerCount), errors.Is(err, dispatcher.ErrPoolTooLarge):
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &interrupted):
			logger.Warn("batch interrupted", zap.Error(err))
			middleware.WriteJSON(w, http.StatusServiceUnavailable, batchResponse{
				Batch:   batch,
				Summary: batch.Summary(),
				Error:   err.Error(),
			})
		default:
			logger.Error("batch failed", zap.Error(err))
			middleware.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	resp := batchResponse{Batch: batch, Summary: batch.Summary()}
	if s.sink != nil && (req.Persist == nil || *req.Persist) {
		if err := s.sink.Write(r.Context(), batch); err != nil {
			logger.Error("persist batch failed", zap.String("batch_id", batch.ID), zap.Error(err))
			resp.SinkError = err.Error()
		} else {
			resp.Persisted = true
		}
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}
