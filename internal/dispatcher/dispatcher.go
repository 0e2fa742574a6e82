// Package dispatcher runs one batch of targets across a fixed worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/batchscrape/internal/metrics"
	queueMemory "github.com/JakeFAU/batchscrape/internal/queue/memory"
	"github.com/JakeFAU/batchscrape/internal/results"
	"github.com/JakeFAU/batchscrape/internal/scrape"
	"github.com/JakeFAU/batchscrape/internal/worker"
)

// Config controls pool sizing and the per-worker settings.
type Config struct {
	// MaxWorkers caps the pool size accepted by RunBatch; zero means no cap.
	MaxWorkers int
	Worker     worker.Config
}

// Dispatcher owns the queue and worker pool for each batch it runs. It keeps
// no state between batches.
type Dispatcher struct {
	fetcher scrape.Fetcher
	hasher  scrape.Hasher
	clock   scrape.Clock
	idGen   scrape.IDGenerator
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher. hasher, clock and idGen may be nil.
func New(
	fetcher scrape.Fetcher,
	hasher scrape.Hasher,
	clock scrape.Clock,
	idGen scrape.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		fetcher: fetcher,
		hasher:  hasher,
		clock:   clock,
		idGen:   idGen,
		cfg:     cfg,
		logger:  logger,
	}
}

// RunBatch fetches every target with workerCount workers and returns one
// outcome per target, in completion order. An empty batch returns an empty
// slice without starting any worker.
//
// If ctx ends before the queue drains, the outcomes recorded so far are
// returned together with an *InterruptedError.
func (d *Dispatcher) RunBatch(ctx context.Context, targets []scrape.Target, workerCount int) ([]scrape.Outcome, error) {
	if err := d.validate(workerCount); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return []scrape.Outcome{}, nil
	}

	queue := queueMemory.NewQueue()
	collector := results.NewCollector(len(targets))
	for _, target := range targets {
		if err := queue.Push(target); err != nil {
			return nil, fmt.Errorf("seed queue: %w", err)
		}
	}
	metrics.SetQueueOutstanding(queue.Outstanding())

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var wg sync.WaitGroup
	for i := 1; i <= workerCount; i++ {
		w := worker.New(i, queue, collector, d.fetcher, d.hasher, d.cfg.Worker, d.logger.Named("worker"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(workerCtx)
		}()
	}
	d.logger.Debug("worker pool started", zap.Int("workers", workerCount), zap.Int("targets", len(targets)))

	joinErr := queue.Join(ctx)

	cancelWorkers()
	wg.Wait()
	queue.Close()
	metrics.SetQueueOutstanding(queue.Outstanding())
	outcomes := collector.Freeze()

	if joinErr != nil {
		return outcomes, &InterruptedError{
			Submitted: len(targets),
			Recorded:  len(outcomes),
			Cause:     context.Cause(ctx),
		}
	}
	return outcomes, nil
}

// Run executes RunBatch and wraps the outcomes in a Batch with an ID and
// timestamps. On interruption the partial batch is returned with the error.
func (d *Dispatcher) Run(ctx context.Context, targets []scrape.Target, workerCount int) (scrape.Batch, error) {
	batchID, err := d.newID()
	if err != nil {
		metrics.ObserveBatch("rejected")
		return scrape.Batch{}, err
	}
	logger := d.logger.With(zap.String("batch_id", batchID))
	batch := scrape.Batch{
		ID:        batchID,
		StartedAt: d.now(),
		Workers:   workerCount,
	}
	logger.Info("batch started", zap.Int("targets", len(targets)), zap.Int("workers", workerCount))

	outcomes, err := d.RunBatch(ctx, targets, workerCount)
	batch.FinishedAt = d.now()
	batch.Outcomes = outcomes
	if err != nil {
		if outcomes == nil {
			metrics.ObserveBatch("rejected")
			return scrape.Batch{}, err
		}
		metrics.ObserveBatch("interrupted")
		logger.Warn("batch interrupted", zap.Int("recorded", len(outcomes)), zap.Error(err))
		return batch, err
	}

	summary := batch.Summary()
	metrics.ObserveBatch("completed")
	logger.Info("batch finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", batch.FinishedAt.Sub(batch.StartedAt)),
	)
	return batch, nil
}

func (d *Dispatcher) validate(workerCount int) error {
	if d.fetcher == nil {
		return ErrNoFetcher
	}
	if workerCount < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, workerCount)
	}
	if d.cfg.MaxWorkers > 0 && workerCount > d.cfg.MaxWorkers {
		return fmt.Errorf("%w: %d > %d", ErrPoolTooLarge, workerCount, d.cfg.MaxWorkers)
	}
	return nil
}

func (d *Dispatcher) newID() (string, error) {
	if d.idGen == nil {
		return "", nil
	}
	id, err := d.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}
	return id, nil
}

func (d *Dispatcher) now() time.Time {
	if d.clock == nil {
		return time.Now().UTC()
	}
	return d.clock.Now()
}
