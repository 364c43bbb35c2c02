// Package main wires together the web page analyzer service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/webman-dev/webman/internal/accessibility"
	"github.com/webman-dev/webman/internal/analyzer"
	"github.com/webman-dev/webman/internal/api"
	"github.com/webman-dev/webman/internal/audit"
	"github.com/webman-dev/webman/internal/clock/system"
	"github.com/webman-dev/webman/internal/config"
	"github.com/webman-dev/webman/internal/dispatcher"
	collyfetcher "github.com/webman-dev/webman/internal/fetcher/colly"
	"github.com/webman-dev/webman/internal/hash/sha256"
	"github.com/webman-dev/webman/internal/headless"
	"github.com/webman-dev/webman/internal/id/uuid"
	"github.com/webman-dev/webman/internal/logging"
	"github.com/webman-dev/webman/internal/logmaint"
	"github.com/webman-dev/webman/internal/metrics"
	memorypublisher "github.com/webman-dev/webman/internal/publisher/memory"
	pubsubpublisher "github.com/webman-dev/webman/internal/publisher/pubsub"
	queueMemory "github.com/webman-dev/webman/internal/queue/memory"
	"github.com/webman-dev/webman/internal/responsive"
	"github.com/webman-dev/webman/internal/scheduler"
	"github.com/webman-dev/webman/internal/storage/gcs"
	"github.com/webman-dev/webman/internal/storage/local"
	memoryStorage "github.com/webman-dev/webman/internal/storage/memory"
	"github.com/webman-dev/webman/internal/storage/postgres"
	"github.com/webman-dev/webman/internal/vitals"
	"github.com/webman-dev/webman/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobStore, err := newJobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	blobStore, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	queue := queueMemory.NewQueue(cfg.Analyzer.GlobalQueueDepth)
	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.NewUUIDGenerator()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Analyzer.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})

	var vitalsAnalyzer *vitals.Analyzer
	var responsiveAnalyzer *responsive.Analyzer
	if cfg.Headless.Enabled {
		browser, err := headless.NewChrome(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Analyzer.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless browser init failed", zap.Error(err))
		} else {
			defer browser.Close()
			vitalsAnalyzer = vitals.New(fetcher, browser, logger.Named("vitals"))
			responsiveAnalyzer = responsive.New(browser, clock, logger.Named("responsive"))
		}
	}

	workerCfg := worker.Config{
		ContentType: cfg.Storage.ContentType,
		BlobPrefix:  cfg.Storage.Prefix,
		Topic:       cfg.PubSub.TopicName,
	}

	var workers []*worker.Worker
	for i := 0; i < cfg.Analyzer.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			blobStore,
			publisher,
			hasher,
			clock,
			fetcher,
			vitalsAnalyzer,
			responsiveAnalyzer,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	analyzers := api.Analyzers{
		Accessibility: accessibility.New(fetcher, logger.Named("accessibility")),
		Audit:         audit.New(fetcher, logger.Named("audit")),
		Vitals:        vitalsAnalyzer,
		Responsive:    responsiveAnalyzer,
	}
	apiServer := api.NewServer(jobStore, dispatch, analyzers, idGen, clock, cfg, logger.Named("api"))

	maint := logmaint.New(logmaint.Config{
		Dir:               cfg.LogMaint.Dir,
		CompressAfterDays: cfg.LogMaint.CompressAfterDays,
		AggregateAfterDay: cfg.LogMaint.AggregateAfterDay,
	}, clock, logger.Named("logmaint"))
	sched := scheduler.New(
		time.Duration(cfg.LogMaint.IntervalMinutes)*time.Minute,
		[]scheduler.Task{
			{Name: "compress_logs", Run: maint.CompressOldLogs},
			{Name: "aggregate_logs", Run: maint.AggregateLogs},
		},
		logger.Named("scheduler"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	go sched.Run(ctx)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}

func newJobStore(ctx context.Context, cfg config.Config) (analyzer.JobStore, error) {
	switch cfg.DB.Provider {
	case "", "memory":
		return memoryStorage.NewJobStore(), nil
	case "postgres":
		store, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{DSN: cfg.DB.DSN})
		if err != nil {
			return nil, fmt.Errorf("postgres job store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}
}

func newBlobStore(ctx context.Context, cfg config.Config) (analyzer.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "", "memory":
		return memoryStorage.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func newPublisher(ctx context.Context, cfg config.Config) (analyzer.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(), nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	return pub, nil
}
