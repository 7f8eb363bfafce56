// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/config"
	collyfetcher "github.com/JakeFAU/realtime-cpi-mirror/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/hash/sha256"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/listing"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/logging"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/metrics"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/mirror"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/report"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/report/sinks"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage/gcs"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage/local"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage/memory"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage/s3"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/telemetry"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/transfer"
)

// App holds the shared, long-lived services for one process. It is built once
// by the root command and handed to subcommands.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	store   storage.Store
	metrics *metrics.Recorder
	sink    *report.Fanout
	tracer  *sdktrace.TracerProvider
	runner  *mirror.Runner
}

// Option customises New.
type Option func(*options)

type options struct {
	store   storage.Store
	metrics *metrics.Recorder
}

// WithStore bypasses storage.provider and mirrors into store.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithMetrics registers collectors on an existing recorder instead of a fresh one.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(o *options) { o.metrics = rec }
}

// New instantiates the store, report sinks and runner described by cfg.
// It fails fast when a backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	logger = logging.OrNop(logger)
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger.Info("initializing application services", zap.String("storage_provider", cfg.Storage.Provider))

	a := &App{cfg: cfg, logger: logger, store: o.store, metrics: o.metrics}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.tracer = tp
		logger.Info("tracing enabled", zap.String("service", cfg.Tracing.ServiceName),
			zap.Bool("cloud_trace", cfg.Tracing.ProjectID != ""))
	}

	if a.store == nil {
		store, err := newStore(ctx, cfg, logger)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to initialize storage: %w", err), a.Close(ctx))
		}
		a.store = store
	}

	sink, err := newSinks(ctx, cfg, logger)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to initialize report sinks: %w", err), a.Close(ctx))
	}
	a.sink = sink

	getter := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	})
	executor := transfer.New(getter, a.store, sha256.New(), transfer.Config{
		ContentType: cfg.Storage.ContentType,
		DryRun:      cfg.Sync.DryRun,
	}, logger.Named("transfer"))

	runner, err := mirror.NewRunner(mirror.Config{
		BaseURL:              cfg.Source.BaseURL,
		Subdirs:              cfg.Source.Subdirs,
		Prefix:               cfg.Storage.Prefix,
		ProtectFailedSubdirs: cfg.Sync.ProtectFailedSubdirs,
		Verify:               cfg.Sync.Verify,
		DryRun:               cfg.Sync.DryRun,
	}, mirror.Deps{
		Store:      a.store,
		Lister:     listing.NewFetcher(getter, cfg.Source.Suffix, logger.Named("listing")),
		Transferer: executor,
		Recorder:   a.metrics,
		Sink:       a.sink,
		Logger:     logger.Named("mirror"),
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to build runner: %w", err), a.Close(ctx))
	}
	a.runner = runner

	logger.Info("application services initialized", zap.Int("report_sinks", sink.Len()))
	return a, nil
}

func newStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Provider {
	case config.ProviderS3:
		s3cfg := s3.Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.S3.Region,
			Endpoint:        cfg.Storage.S3.Endpoint,
			UsePathStyle:    cfg.Storage.S3.UsePathStyle,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		}
		client, err := s3.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("using S3 storage", zap.String("bucket", s3cfg.Bucket))
		return s3.New(client, s3cfg)
	case config.ProviderGCS:
		logger.Info("using GCS storage", zap.String("bucket", cfg.Storage.Bucket))
		return gcs.Open(ctx, gcs.DefaultClientFactory{}, gcs.Config{
			Bucket:   cfg.Storage.Bucket,
			Endpoint: cfg.Storage.GCS.Endpoint,
		}, logger)
	case config.ProviderLocal:
		logger.Info("using local storage", zap.String("base_dir", cfg.Storage.Local.BaseDir))
		return local.New(local.Config{BaseDir: cfg.Storage.Local.BaseDir})
	case config.ProviderMemory:
		logger.Info("using in-memory storage; mirrored objects are discarded on exit")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

func newSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) (*report.Fanout, error) {
	all := []report.Sink{sinks.NewLogSink(logger.Named("report"))}

	if cfg.Report.PubSub.Topic != "" {
		ps, err := sinks.NewPubSubSink(ctx, cfg.Report.PubSub.ProjectID, cfg.Report.PubSub.Topic, logger.Named("pubsub"))
		if err != nil {
			return nil, err
		}
		logger.Info("publishing run summaries to Pub/Sub", zap.String("topic", cfg.Report.PubSub.Topic))
		all = append(all, ps)
	}

	if cfg.Report.Postgres.DSN != "" {
		pg, err := sinks.NewPostgresSink(ctx, cfg.Report.Postgres.DSN, cfg.Report.Postgres.Table)
		if err != nil {
			return nil, multierr.Append(err, report.NewFanout(all...).Close(ctx))
		}
		logger.Info("recording run history in Postgres", zap.String("table", cfg.Report.Postgres.Table))
		all = append(all, pg)
	}

	return report.NewFanout(all...), nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store exposes the configured object store.
func (a *App) Store() storage.Store {
	return a.store
}

// Metrics returns the Prometheus recorder shared by the runner and the API.
func (a *App) Metrics() *metrics.Recorder {
	return a.metrics
}

// Runner returns the mirror runner.
func (a *App) Runner() *mirror.Runner {
	return a.runner
}

// Close shuts down report sinks, the store and the tracer provider. It is
// safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var err error
	if a.sink != nil {
		err = multierr.Append(err, a.sink.Close(ctx))
	}
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	if a.tracer != nil {
		err = multierr.Append(err, a.tracer.Shutdown(ctx))
	}
	return err
}
