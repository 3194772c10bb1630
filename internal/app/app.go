// Package app wires the execution backbone's components together and runs
// the process in one of its two modes: api (admission + HTTP/SSE surface)
// or worker (lease, supervise, report).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/supercheck-io/supercheck/internal/auth"
	"github.com/supercheck-io/supercheck/internal/config"
	"github.com/supercheck-io/supercheck/internal/httpserver"
	"github.com/supercheck-io/supercheck/internal/platform"
	"github.com/supercheck-io/supercheck/internal/telemetry"
	"github.com/supercheck-io/supercheck/internal/version"
	"github.com/supercheck-io/supercheck/pkg/admission"
	"github.com/supercheck-io/supercheck/pkg/artifact"
	"github.com/supercheck-io/supercheck/pkg/cancel"
	"github.com/supercheck-io/supercheck/pkg/eventhub"
	"github.com/supercheck-io/supercheck/pkg/job"
	"github.com/supercheck-io/supercheck/pkg/notify"
	"github.com/supercheck-io/supercheck/pkg/org"
	"github.com/supercheck-io/supercheck/pkg/queue"
	"github.com/supercheck-io/supercheck/pkg/region"
	"github.com/supercheck-io/supercheck/pkg/report"
	"github.com/supercheck-io/supercheck/pkg/run"
	"github.com/supercheck-io/supercheck/pkg/sse"
	"github.com/supercheck-io/supercheck/pkg/testdef"
	"github.com/supercheck-io/supercheck/pkg/usage"
	"github.com/supercheck-io/supercheck/pkg/worker"
)

// Run is the main application entry point: it reads config, connects to
// infrastructure, and starts the requested mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting supercheck", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "supercheck", version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	orgStore := org.NewStore(db)
	runStore := run.NewStore(db)
	testStore := testdef.NewStore(db)
	reportStore := report.NewStore(db)
	jobStore := job.NewStore(db)

	backend := queue.NewRedisQueue(rdb, logger)
	ledger := usage.NewLedger(rdb, logger)
	cancelPlane := cancel.NewPlane(rdb)

	admissionCtl := admission.NewController(orgStore, runStore, testStore, backend, ledger, !cfg.SelfHosted, logger)

	sink, err := artifact.NewSink(ctx, artifact.Config{
		Endpoint:       cfg.S3Endpoint,
		Region:         cfg.S3Region,
		ForcePathStyle: cfg.S3ForcePathStyle,
		Bucket:         cfg.BucketRunReports,
		MaxFileBytes:   cfg.ArtifactMaxFileBytes,
		MaxRunBytes:    cfg.ArtifactMaxRunBytes,
	})
	if err != nil {
		return fmt.Errorf("configuring artifact sink: %w", err)
	}

	hub := eventhub.NewHub(backend, logger)
	go func() {
		if err := hub.Run(ctx); err != nil {
			logger.Error("event hub stopped", "error", err)
		}
	}()
	resolveArtifacts := func(ctx context.Context, runID uuid.UUID) ([]string, error) {
		rec, err := runStore.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		urls := make([]string, 0, len(rec.ArtifactPaths))
		for _, key := range rec.ArtifactPaths {
			url, err := sink.SignedRead(ctx, key, 15*time.Minute)
			if err != nil {
				logger.Warn("app: sign artifact url", "run_id", runID, "key", key, "error", err)
				continue
			}
			urls = append(urls, url)
		}
		return urls, nil
	}
	sseGateway := sse.NewGateway(hub, resolveArtifacts, logger)

	var verifier *auth.TokenVerifier
	if cfg.TokenSigningSecret != "" {
		var err error
		verifier, err = auth.NewTokenVerifier(cfg.TokenSigningSecret)
		if err != nil {
			return fmt.Errorf("configuring token verifier: %w", err)
		}
	} else {
		logger.Warn("TOKEN_SIGNING_SECRET not set; bearer auth disabled, only the X-Tenant-ID dev header will authenticate")
	}

	trigger := job.NewTrigger(jobStore, admissionCtl, logger)
	go trigger.Run(ctx, time.Minute)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, httpserver.Deps{
		OrgStore:    orgStore,
		RunStore:    runStore,
		TestStore:   testStore,
		ReportStore: reportStore,
		Admission:   admissionCtl,
		CancelPlane: cancelPlane,
		SSEGateway:  sseGateway,
		Verifier:    verifier,
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	runStore := run.NewStore(db)
	testStore := testdef.NewStore(db)
	reportStore := report.NewStore(db)
	orgStore := org.NewStore(db)

	backend := queue.NewRedisQueue(rdb, logger)
	cancelPlane := cancel.NewPlane(rdb)
	router := region.NewRouter(cfg.EnableLocationFiltering, region.Normalize(cfg.WorkerLocation, logger))

	sink, err := artifact.NewSink(ctx, artifact.Config{
		Endpoint:       cfg.S3Endpoint,
		Region:         cfg.S3Region,
		ForcePathStyle: cfg.S3ForcePathStyle,
		Bucket:         cfg.BucketRunReports,
		MaxFileBytes:   cfg.ArtifactMaxFileBytes,
		MaxRunBytes:    cfg.ArtifactMaxRunBytes,
	})
	if err != nil {
		return fmt.Errorf("configuring artifact sink: %w", err)
	}

	runTimeout, err := time.ParseDuration(cfg.RunTimeoutDefault)
	if err != nil {
		return fmt.Errorf("parsing run timeout %q: %w", cfg.RunTimeoutDefault, err)
	}
	visibility, err := time.ParseDuration(cfg.QueueVisibilityTimeout)
	if err != nil {
		return fmt.Errorf("parsing queue visibility timeout %q: %w", cfg.QueueVisibilityTimeout, err)
	}

	k6Runner := worker.NewLoadTestRunner(cfg.K6BinPath, cfg.K6MaxConcurrency)
	runners := map[queue.Kind]worker.Runner{
		queue.KindPlaywright: worker.NewBrowserRunner(cfg.PlaywrightBinPath),
		queue.KindK6:         k6Runner,
		queue.KindMonitor:    worker.NewMonitorRunner(cfg.MonitorBinPath),
	}

	notifier := notify.NewSender(cfg.SlackBotToken, cfg.SlackNotifyChannel, logger)

	pool := worker.NewPool(backend, runStore, testStore, reportStore, sink, cancelPlane, router, orgStore, runners, k6Runner, notifier, worker.PoolConfig{
		Timeout:            runTimeout,
		VisibilityTimeout:  visibility,
		LeasePollInterval:  2 * time.Second,
		CancelPollInterval: time.Second,
	}, logger)

	go reclaimStalledLoop(ctx, backend, router, logger)

	logger.Info("worker started")
	return pool.Run(ctx)
}

// reclaimStalledLoop periodically requeues jobs whose visibility timeout
// expired without an Ack/Nack, across every queue this worker pool serves
// (§4.2 stalled detection).
func reclaimStalledLoop(ctx context.Context, backend queue.Backend, router *region.Router, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, kind := range []queue.Kind{queue.KindPlaywright, queue.KindK6, queue.KindMonitor} {
				for _, name := range router.QueueNames(kind) {
					n, err := backend.ReclaimStalled(ctx, name)
					if err != nil {
						logger.Error("reclaiming stalled jobs", "queue", name, "error", err)
						continue
					}
					if n > 0 {
						logger.Info("reclaimed stalled jobs", "queue", name, "count", n)
					}
				}
			}
		}
	}
}
