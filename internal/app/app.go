// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the CLI and the service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/batchscrape/internal/clock/system"
	"github.com/JakeFAU/batchscrape/internal/config"
	"github.com/JakeFAU/batchscrape/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/batchscrape/internal/fetcher/colly"
	"github.com/JakeFAU/batchscrape/internal/hash/sha256"
	"github.com/JakeFAU/batchscrape/internal/id/uuid"
	"github.com/JakeFAU/batchscrape/internal/metrics"
	pubsubpublisher "github.com/JakeFAU/batchscrape/internal/publisher/pubsub"
	"github.com/JakeFAU/batchscrape/internal/scrape"
	"github.com/JakeFAU/batchscrape/internal/sink"
	"github.com/JakeFAU/batchscrape/internal/storage/gcs"
	"github.com/JakeFAU/batchscrape/internal/storage/local"
	memorystorage "github.com/JakeFAU/batchscrape/internal/storage/memory"
	"github.com/JakeFAU/batchscrape/internal/storage/postgres"
	"github.com/JakeFAU/batchscrape/internal/telemetry"
)

// App holds the shared, long-lived services. It is built once at startup and
// closed on exit.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	dispatcher *dispatcher.Dispatcher
	sink       *sink.Fanout
	blobStore  scrape.BlobStore
	outcomes   *postgres.OutcomeStore
	closers    []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option customizes New.
type Option func(*options)

type options struct {
	fetcher   scrape.Fetcher
	publisher scrape.Publisher
}

// WithFetcher replaces the colly fetcher.
func WithFetcher(f scrape.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithPublisher replaces the Pub/Sub publisher. The completion notice sink is
// attached whenever a publisher is given or pubsub.topic_name is set.
func WithPublisher(p scrape.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// New builds every service described by cfg. It fails fast: on error any
// service already opened is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	metrics.Init()

	if cfg.Tracing.Enabled {
		tp, tErr := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
		if tErr != nil {
			return nil, fmt.Errorf("init tracing: %w", tErr)
		}
		a.addCloser("tracer", tp.Shutdown)
		logger.Info("tracing enabled", zap.String("service", cfg.Tracing.ServiceName))
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.HTTP.UserAgent,
			RespectRobots: cfg.HTTP.RespectRobots,
			Timeout:       cfg.FetchTimeout(),
			MaxBodySize:   cfg.HTTP.MaxBodyBytes,
		})
	}
	a.dispatcher = dispatcher.New(
		fetcher,
		sha256.New(),
		system.New(),
		uuid.New(),
		dispatcher.Config{MaxWorkers: cfg.Batch.MaxWorkers, Worker: cfg.WorkerConfig()},
		logger.Named("dispatcher"),
	)

	var sinks []sink.Named

	blob, err := a.openBlobSink(ctx)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, sink.Named{Name: "results", Sink: blob})

	if cfg.DB.DSN != "" {
		store, dbErr := postgres.NewOutcomeStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: secondsToDuration(cfg.DB.MaxConnLifetime),
		})
		if dbErr != nil {
			return nil, fmt.Errorf("init outcome store: %w", dbErr)
		}
		a.addCloser("postgres", func(context.Context) error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.outcomes = store
		sinks = append(sinks, sink.Named{Name: "postgres", Sink: store})
		logger.Info("outcome rows enabled", zap.String("table", cfg.DB.Table))
	}

	publisher := o.publisher
	if publisher == nil && cfg.PubSub.TopicName != "" {
		pub, pErr := pubsubpublisher.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if pErr != nil {
			return nil, fmt.Errorf("init publisher: %w", pErr)
		}
		a.addCloser("pubsub", func(context.Context) error { return pub.Close() })
		publisher = pub
	}
	if publisher != nil {
		notify, nErr := sink.NewNotify(publisher, cfg.PubSub.TopicName, logger.Named("notify"))
		if nErr != nil {
			return nil, nErr
		}
		sinks = append(sinks, sink.Named{Name: "notify", Sink: notify})
		logger.Info("completion notices enabled", zap.String("topic", cfg.PubSub.TopicName))
	}

	a.sink = sink.NewFanout(sinks...)
	return a, nil
}

func (a *App) openBlobSink(ctx context.Context) (*sink.Blob, error) {
	dest, err := sink.ParseDestination(a.cfg.Output.URI)
	if err != nil {
		return nil, err
	}
	switch dest.Kind {
	case sink.KindFile:
		store, err := local.New(local.Config{BaseDir: dest.Base})
		if err != nil {
			return nil, fmt.Errorf("init local output: %w", err)
		}
		a.blobStore = store
	case sink.KindGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: dest.Base})
		if err != nil {
			return nil, fmt.Errorf("init gcs output: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return store.Close() })
		a.blobStore = store
	case sink.KindMemory:
		a.blobStore = memorystorage.NewBlobStore()
	}
	return sink.NewBlob(a.blobStore, sink.BlobConfig{
		Path:        dest.Path,
		ContentType: a.cfg.Output.ContentType,
		Indent:      a.cfg.Output.Indent,
	}, a.logger.Named("results"))
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Dispatcher returns the batch dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Sink returns the fan-out of every configured output.
func (a *App) Sink() scrape.Sink {
	return a.sink
}

// BlobStore returns the store behind the results artifact.
func (a *App) BlobStore() scrape.BlobStore {
	return a.blobStore
}

// Ready reports whether external dependencies are reachable.
func (a *App) Ready(ctx context.Context) error {
	if a.outcomes != nil {
		if err := a.outcomes.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts services down in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
