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

	"github.com/odyssey-erp/odyssey-payables/internal/app"
	"github.com/odyssey-erp/odyssey-payables/internal/dashboard"
	"github.com/odyssey-erp/odyssey-payables/internal/invoices"
	"github.com/odyssey-erp/odyssey-payables/internal/observability"
	"github.com/odyssey-erp/odyssey-payables/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-payables/internal/platform/db"
	"github.com/odyssey-erp/odyssey-payables/internal/rbac"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
	"github.com/odyssey-erp/odyssey-payables/internal/voucher"
	"github.com/odyssey-erp/odyssey-payables/jobs"
	"github.com/odyssey-erp/odyssey-payables/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, comparison cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	metrics.Registerer().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	rbacService := rbac.NewService(dbpool)
	rbacMiddleware := rbac.Middleware{Permissions: rbacService, Logger: logger}

	invoiceCache := invoices.NewCache(redisClient, cfg.ComparisonCacheTTL)
	if err := invoiceCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("listen for cache invalidation", slog.Any("error", err))
	}
	invoiceService := invoices.NewService(invoices.NewRepository(dbpool), invoiceCache, metrics, logger)

	jobClient, err := jobs.NewClient(cfg.Redis().Asynq())
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	voucherService := voucher.NewService(voucher.Config{
		Repo:        voucher.NewRepository(dbpool),
		Invoices:    invoiceService,
		Approvals:   approvalRecorder,
		Audit:       auditLogger,
		Idempotency: idempotencyStore,
		Dispatcher:  voucher.NewQueueDispatcher(jobClient),
		Cache:       invoiceService,
		Metrics:     metrics,
		Logger:      logger,
	})
	defer voucherService.Drain()

	poller := dashboard.NewPoller(dashboard.Config{
		Source:   dashboard.NewRepository(dbpool),
		Interval: cfg.PollInterval,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err := poller.Start(ctx); err != nil {
		logger.Error("start dashboard poller", slog.Any("error", err))
		os.Exit(1)
	}
	defer poller.Stop()

	reportClient := report.NewClient(cfg.GotenbergURL)

	inspector := asynq.NewInspector(cfg.Redis().Asynq())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RBACMiddleware:     rbacMiddleware,
		VoucherHandler:     voucher.NewHandler(logger, voucherService, rbacMiddleware),
		InvoiceHandler:     invoices.NewHandler(logger, invoiceService, rbacMiddleware),
		DashboardHandler:   dashboard.NewHandler(poller, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbac.DefaultTable(), rbacMiddleware),
		ReportHandler:      report.NewHandler(reportClient, logger),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
