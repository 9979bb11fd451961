// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/crawlworks/email-harvester/internal/api"
	"github.com/crawlworks/email-harvester/internal/clock/system"
	"github.com/crawlworks/email-harvester/internal/config"
	"github.com/crawlworks/email-harvester/internal/crawler"
	"github.com/crawlworks/email-harvester/internal/id/uuid"
	"github.com/crawlworks/email-harvester/internal/progress"
	"github.com/crawlworks/email-harvester/internal/progress/sinks"
	pubkafka "github.com/crawlworks/email-harvester/internal/publisher/kafka"
	pubmem "github.com/crawlworks/email-harvester/internal/publisher/memory"
	pubgcp "github.com/crawlworks/email-harvester/internal/publisher/pubsub"
	pubretry "github.com/crawlworks/email-harvester/internal/publisher/retry"
	"github.com/crawlworks/email-harvester/internal/source/xlsx"
	storagegcs "github.com/crawlworks/email-harvester/internal/storage/gcs"
	storagelocal "github.com/crawlworks/email-harvester/internal/storage/local"
	storagemem "github.com/crawlworks/email-harvester/internal/storage/memory"
	storagepg "github.com/crawlworks/email-harvester/internal/storage/postgres"
	storageredis "github.com/crawlworks/email-harvester/internal/storage/redis"
	"github.com/crawlworks/email-harvester/internal/worker"
)

// Prometheus collectors are process-global, so the progress sink is
// registered once even when several Apps are constructed in one process
// (as the test binaries do).
var (
	progressSinkOnce sync.Once
	progressSink     *sinks.PrometheusSink
	progressSinkErr  error
)

func newProgressSink() (*sinks.PrometheusSink, error) {
	progressSinkOnce.Do(func() {
		progressSink, progressSinkErr = sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	})
	return progressSink, progressSinkErr
}

// App holds all the shared, long-lived services for the application.
// It acts as a dependency injection (DI) container, holding instances of
// services like the logger, job store, blob store, crawl engine, worker,
// and API server. This struct is initialized once at startup and passed to
// the commands that need it.
type App struct {
	logger    *zap.Logger
	cfg       config.Config
	jobStore  crawler.JobStore
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	opener    crawler.SourceOpener
	scraper   *crawler.Orchestrator
	hub       *progress.Hub
	worker    *worker.Worker
	server    *api.Server

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the configuration the App was built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetJobStore exposes the configured job store.
func (a *App) GetJobStore() crawler.JobStore {
	return a.jobStore
}

// GetBlobStore exposes the configured blob storage backend.
func (a *App) GetBlobStore() crawler.BlobStore {
	return a.blobStore
}

// GetPublisher returns the completion event publisher, or nil when the
// backend is "none".
func (a *App) GetPublisher() crawler.Publisher {
	return a.publisher
}

// GetOpener returns the source workbook opener.
func (a *App) GetOpener() crawler.SourceOpener {
	return a.opener
}

// GetScraper returns the crawl engine used to process target batches.
func (a *App) GetScraper() *crawler.Orchestrator {
	return a.scraper
}

// GetWorker returns the job processing loop.
func (a *App) GetWorker() *worker.Worker {
	return a.worker
}

// GetServer returns the HTTP API server.
func (a *App) GetServer() *api.Server {
	return a.server
}

// NewApp creates and initializes a new App struct based on the application's
// configuration. It is the central point for service initialization and is
// designed to fail fast if any critical service cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("initializing application services")

	a := &App{logger: logger, cfg: cfg}

	// 1. Job store. Holds job records, control flags, and checkpoints.
	switch cfg.Storage.JobStore {
	case "memory":
		a.jobStore = storagemem.NewJobStore()
	case "postgres":
		logger.Info("connecting to postgres", zap.String("table", cfg.Storage.Postgres.Table))
		store, err := storagepg.NewJobStore(ctx, storagepg.Config{
			DSN:             cfg.Storage.Postgres.DSN,
			Table:           cfg.Storage.Postgres.Table,
			MaxConns:        int32(cfg.Storage.Postgres.MaxConns),
			MinConns:        int32(cfg.Storage.Postgres.MinConns),
			MaxConnLifetime: cfg.Storage.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres job store: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate postgres job store: %w", err)
		}
		a.jobStore = store
		a.addCloser("postgres job store", func() error {
			store.Close()
			return nil
		})
	case "redis":
		logger.Info("connecting to redis", zap.String("addr", cfg.Storage.Redis.Addr))
		store := storageredis.New(storageredis.Config{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		})
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.jobStore = store
		a.addCloser("redis job store", store.Close)
	default:
		return nil, fmt.Errorf("unknown job store backend: %s", cfg.Storage.JobStore)
	}

	// 2. Blob store. Holds uploaded source workbooks and result artifacts.
	switch cfg.Storage.BlobStore {
	case "memory":
		a.blobStore = storagemem.NewBlobStore()
	case "local":
		logger.Info("using local blob store", zap.String("dir", cfg.Storage.LocalDir))
		store, err := storagelocal.New(storagelocal.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("initialize local blob store: %w", err)
		}
		a.blobStore = store
	case "gcs":
		logger.Info("using GCS blob store", zap.String("bucket", cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create GCS client: %w", err)
		}
		store, err := storagegcs.New(client, storagegcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("initialize GCS blob store: %w", err)
		}
		a.blobStore = store
		a.addCloser("GCS client", client.Close)
	default:
		return nil, fmt.Errorf("unknown blob store backend: %s", cfg.Storage.BlobStore)
	}

	// 3. Completion publisher. Notifies downstream systems when a job ends.
	switch cfg.Publisher.Backend {
	case "none":
		// The worker treats a nil publisher as "do not notify".
	case "memory":
		a.publisher = pubmem.New()
	case "pubsub":
		logger.Info("connecting to GCP Pub/Sub", zap.String("topic", cfg.Publisher.PubSub.Topic))
		pub, err := pubgcp.Dial(ctx, cfg.Publisher.PubSub.ProjectID, cfg.Publisher.PubSub.Topic)
		if err != nil {
			return nil, fmt.Errorf("initialize pubsub publisher: %w", err)
		}
		a.publisher = pubretry.Wrap(pub, pubretry.Config{}, logger)
		a.addCloser("pubsub publisher", pub.Close)
	case "kafka":
		logger.Info("connecting to Kafka", zap.Strings("brokers", cfg.Publisher.Kafka.Brokers))
		pub := pubkafka.New(cfg.Publisher.Kafka.Brokers, cfg.Publisher.Kafka.Topic)
		a.publisher = pubretry.Wrap(pub, pubretry.Config{}, logger)
		a.addCloser("kafka publisher", pub.Close)
	default:
		return nil, fmt.Errorf("unknown publisher backend: %s", cfg.Publisher.Backend)
	}

	// 4. Progress hub. Fans worker progress events out to the log and
	// Prometheus sinks.
	promSink, err := newProgressSink()
	if err != nil {
		return nil, fmt.Errorf("initialize progress metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink)

	// 5. Crawl engine.
	blocklist := crawler.NewBlocklist(cfg.Crawler.BlockedDomains)
	extractor := crawler.NewEmailExtractor(cfg.Crawler.NoisePatterns, cfg.Crawler.InvalidLocalParts)
	robots := crawler.NewRobotsEnforcer(cfg.Crawler, logger)
	var fetcher crawler.Fetcher
	fetcher, err = crawler.NewCollyFetcher(cfg.Crawler, blocklist, robots, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize fetcher: %w", err)
	}
	if cfg.Crawler.Polite {
		fetcher = crawler.NewPoliteFetcher(fetcher, cfg.Crawler.PolitenessMin, cfg.Crawler.PolitenessMax)
	}
	a.scraper = crawler.NewOrchestrator(fetcher, extractor, blocklist, cfg.Crawler, logger)

	// 6. Worker and API server share the clock so job timestamps and
	// progress events agree.
	clk := system.New()
	a.opener = xlsx.NewOpener(a.blobStore)
	a.worker = worker.New(a.jobStore, a.blobStore, a.opener, a.scraper, a.publisher, clk, a.hub, worker.Config{
		PollInterval:      cfg.Worker.PollInterval,
		ErrorBackoff:      cfg.Worker.ErrorBackoff,
		PausePollInterval: cfg.Worker.PausePollInterval,
		BatchSize:         cfg.Crawler.BatchSize,
		BlobPrefix:        cfg.Storage.Prefix,
	}, logger)
	a.server = api.NewServer(a.jobStore, a.blobStore, uuid.New(), clk, cfg.API, cfg.Storage.Prefix, logger)

	logger.Info("application services initialized",
		zap.String("job_store", cfg.Storage.JobStore),
		zap.String("blob_store", cfg.Storage.BlobStore),
		zap.String("publisher", cfg.Publisher.Backend),
	)
	return a, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close gracefully shuts down all services in the App container. The
// progress hub drains first so buffered events still reach the sinks, then
// backends close in reverse construction order.
func (a *App) Close() {
	a.logger.Info("shutting down application services")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("error draining progress hub", zap.Error(err))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("error closing "+c.name, zap.Error(err))
		}
	}

	// Flush any buffered log entries before the process exits. This is a
	// best-effort attempt; syncing stderr fails on some platforms.
	_ = a.logger.Sync()
}
