// Package worker implements the per-target fetch loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchscrape/internal/metrics"
	"github.com/JakeFAU/batchscrape/internal/scrape"
	"github.com/JakeFAU/batchscrape/internal/telemetry"
)

// DefaultTimeout bounds a single fetch when Config.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// Queue is the subset of the task queue a worker consumes.
type Queue interface {
	Pop(ctx context.Context) (scrape.Target, error)
	MarkProcessed()
}

// Recorder receives finished outcomes.
type Recorder interface {
	Append(outcome scrape.Outcome) error
}

// InFlightPolicy decides what happens to a fetch that is still running when
// the worker is cancelled.
type InFlightPolicy string

// In-flight policies.
const (
	// InFlightDrop abandons the fetch; no outcome is recorded for its target.
	InFlightDrop InFlightPolicy = "drop"
	// InFlightComplete lets the fetch finish, bounded by its timeout, and
	// records its outcome before the worker stops.
	InFlightComplete InFlightPolicy = "complete"
)

// ParseInFlightPolicy validates a policy name. Empty selects InFlightDrop.
func ParseInFlightPolicy(name string) (InFlightPolicy, error) {
	switch InFlightPolicy(name) {
	case "", InFlightDrop:
		return InFlightDrop, nil
	case InFlightComplete:
		return InFlightComplete, nil
	default:
		return "", fmt.Errorf("unknown in-flight policy %q", name)
	}
}

// Config controls Worker behavior.
type Config struct {
	Timeout      time.Duration
	ExcerptLimit int
	InFlight     InFlightPolicy
}

// Worker pulls targets from a queue and turns each into exactly one outcome.
type Worker struct {
	name      string
	queue     Queue
	recorder  Recorder
	fetcher   scrape.Fetcher
	hasher    scrape.Hasher
	cfg       Config
	logger    *zap.Logger
	state     atomic.Int32
	processed atomic.Int64
}

// New constructs a Worker. id only labels logs, metrics and spans.
func New(
	id int,
	queue Queue,
	recorder Recorder,
	fetcher scrape.Fetcher,
	hasher scrape.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ExcerptLimit <= 0 {
		cfg.ExcerptLimit = scrape.DefaultExcerptLimit
	}
	if cfg.InFlight == "" {
		cfg.InFlight = InFlightDrop
	}
	name := fmt.Sprintf("worker-%d", id)
	return &Worker{
		name:     name,
		queue:    queue,
		recorder: recorder,
		fetcher:  fetcher,
		hasher:   hasher,
		cfg:      cfg,
		logger:   logger.With(zap.String("worker", name)),
	}
}

// Name returns the worker label.
func (w *Worker) Name() string {
	return w.name
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Processed returns how many targets this worker has taken off the queue and
// acknowledged.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run blocks, consuming targets until ctx is cancelled or the queue reports
// it is closed. An empty queue is not a reason to stop. After cancellation no
// new target is taken, whatever the in-flight policy.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer w.setState(StateCancelled)

	for {
		if ctx.Err() != nil {
			return
		}
		w.setState(StateIdle)
		target, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("queue stopped delivering targets", zap.Error(err))
			}
			return
		}
		if !w.process(ctx, target) {
			return
		}
	}
}

// process handles one popped target and reports whether the worker should keep
// running.
func (w *Worker) process(ctx context.Context, target scrape.Target) bool {
	defer func() {
		w.queue.MarkProcessed()
		w.processed.Add(1)
	}()

	w.setState(StateFetching)
	w.logger.Info("fetching target", zap.String("target", target.String()))

	outcome, abandoned := w.fetch(ctx, target)
	if abandoned {
		w.logger.Warn("in-flight fetch abandoned on cancel", zap.String("target", target.String()))
		return false
	}

	w.setState(StateRecording)
	if err := w.recorder.Append(outcome); err != nil {
		w.logger.Error("record outcome failed", zap.String("target", target.String()), zap.Error(err))
		return true
	}
	metrics.ObserveOutcome(target.String(), string(outcome.Status), string(outcome.Kind), outcome.Bytes, outcome.Duration)
	if outcome.OK() {
		w.logger.Debug("target fetched",
			zap.String("target", target.String()),
			zap.Int("code", outcome.Code),
			zap.Duration("duration", outcome.Duration),
		)
	} else {
		w.logger.Error("target failed",
			zap.String("target", target.String()),
			zap.String("kind", string(outcome.Kind)),
			zap.String("reason", outcome.Reason),
		)
	}
	return true
}

type fetchReturn struct {
	result scrape.FetchResult
	err    error
}

// fetch runs the fetcher under the configured timeout and converts its result
// into an outcome. The second return is true when the fetch was cut off by
// cancellation under InFlightDrop and must not be recorded.
func (w *Worker) fetch(ctx context.Context, target scrape.Target) (scrape.Outcome, bool) {
	parent := ctx
	if w.cfg.InFlight == InFlightComplete {
		parent = context.WithoutCancel(ctx)
	}
	fetchCtx, cancel := context.WithTimeout(parent, w.cfg.Timeout)
	defer cancel()

	fetchCtx, span := telemetry.Tracer().Start(fetchCtx, "batchscrape.fetch", trace.WithAttributes(
		attribute.String("batchscrape.target", target.String()),
		attribute.String("batchscrape.worker", w.name),
	))
	defer span.End()

	start := time.Now()
	done := make(chan fetchReturn, 1)
	go func() {
		result, err := w.fetcher.Fetch(fetchCtx, target)
		done <- fetchReturn{result: result, err: err}
	}()

	var ret fetchReturn
	select {
	case ret = <-done:
	case <-fetchCtx.Done():
		ret = fetchReturn{err: w.deadlineError(fetchCtx)}
	}
	elapsed := time.Since(start)

	if ret.err != nil && ctx.Err() != nil && w.cfg.InFlight == InFlightDrop {
		span.SetStatus(codes.Error, "abandoned")
		return scrape.Outcome{}, true
	}

	var outcome scrape.Outcome
	if ret.err != nil {
		kind, reason := scrape.Classify(ret.err)
		outcome = scrape.Failed(target, kind, reason)
		span.RecordError(ret.err)
		span.SetStatus(codes.Error, string(kind))
	} else {
		outcome = scrape.Succeeded(target, ret.result, w.cfg.ExcerptLimit)
		outcome.ContentHash = w.hash(target, ret.result.Body)
		span.SetAttributes(attribute.Int("http.status_code", ret.result.StatusCode))
	}
	span.SetAttributes(attribute.String("batchscrape.status", string(outcome.Status)))
	return outcome.WithTiming(w.name, elapsed), false
}

func (w *Worker) deadlineError(fetchCtx context.Context) error {
	if err := fetchCtx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("no response within %s: %w", w.cfg.Timeout, err)
	}
	return fmt.Errorf("fetch interrupted: %w", context.Cause(fetchCtx))
}

func (w *Worker) hash(target scrape.Target, body []byte) string {
	if w.hasher == nil {
		return ""
	}
	sum, err := w.hasher.Hash(body)
	if err != nil {
		w.logger.Warn("hash body failed", zap.String("target", target.String()), zap.Error(err))
		return ""
	}
	return sum
}
