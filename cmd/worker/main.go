package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-payables/internal/app"
	"github.com/odyssey-erp/odyssey-payables/internal/invoices"
	"github.com/odyssey-erp/odyssey-payables/internal/observability"
	"github.com/odyssey-erp/odyssey-payables/internal/platform/db"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
	"github.com/odyssey-erp/odyssey-payables/internal/voucher"
	"github.com/odyssey-erp/odyssey-payables/jobs"
	"github.com/odyssey-erp/odyssey-payables/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	lang, err := language.Parse(cfg.AppLanguage)
	if err != nil {
		logger.Warn("unknown APP_LANGUAGE, falling back to id-ID", slog.String("value", cfg.AppLanguage))
		lang = language.Indonesian
	}

	metrics := observability.NewMetrics()
	metrics.Registerer().MustRegister(collectors.NewGoCollector())
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()
	idempotencyStore := shared.NewIdempotencyStore(pool)

	// The worker never dispatches, so the voucher service runs without a queue.
	voucherService := voucher.NewService(voucher.Config{
		Repo:        voucher.NewRepository(pool),
		Invoices:    invoices.NewService(invoices.NewRepository(pool), nil, metrics, logger),
		Approvals:   shared.NewApprovalRecorder(pool, logger),
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: idempotencyStore,
		Metrics:     metrics,
		Logger:      logger,
	})

	renderer, err := voucher.NewRenderer(report.NewClient(cfg.GotenbergURL), lang)
	if err != nil {
		logger.Error("init voucher renderer", slog.Any("error", err))
		os.Exit(1)
	}
	disbursementJob := voucher.NewJob(voucher.JobConfig{
		Vouchers:   voucherService,
		Renderer:   renderer,
		StorageDir: cfg.DisbursementStorageDir,
		Logger:     logger,
	})

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.Redis().Asynq(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskVoucherDisbursement, Handler: disbursementJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.IdempotencyCleanupHandler(idempotencyStore, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
		Observer:    metrics,
		Concurrency: cfg.WorkerConcurrency,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
