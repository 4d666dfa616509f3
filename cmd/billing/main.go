package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/clinic-billing/internal/accruals"
	"github.com/odyssey-erp/clinic-billing/internal/app"
	"github.com/odyssey-erp/clinic-billing/internal/directions"
	"github.com/odyssey-erp/clinic-billing/internal/months"
	"github.com/odyssey-erp/clinic-billing/internal/observability"
	"github.com/odyssey-erp/clinic-billing/internal/payments"
	"github.com/odyssey-erp/clinic-billing/internal/platform/cache"
	"github.com/odyssey-erp/clinic-billing/internal/platform/db"
	"github.com/odyssey-erp/clinic-billing/internal/shared"
	"github.com/odyssey-erp/clinic-billing/internal/tariffs"
	"github.com/odyssey-erp/clinic-billing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	locker := shared.NewRedisLocker(redisClient, cfg.LedgerLockTTL, cfg.LedgerLockWait,
		shared.WithLockLostHook(func(key string, err error) {
			logger.Error("ledger lock lost while held", slog.String("key", key), slog.Any("error", err))
			metrics.LockLost(key)
		}),
	)

	registry := months.NewRegistry(months.NewRepository(dbpool), logger)
	tariffRepo := tariffs.NewRepository(dbpool)
	resolver := tariffs.NewResolver(tariffRepo)
	matcher := tariffs.NewMatcher(tariffRepo, tariffs.NewCache(redisClient, cfg.PriceListCacheTTL), tariffs.MatcherConfig{
		BloodServiceTitle: cfg.BloodServiceTitle,
		SmearServiceTitle: cfg.SmearServiceTitle,
	})
	ledger := accruals.NewLedger(accruals.NewRepository(dbpool), locker, logger)

	processor := directions.NewProcessor(directions.Deps{
		Months:      registry,
		Tariffs:     resolver,
		Matcher:     matcher,
		Ledger:      ledger,
		Repo:        directions.NewRepository(dbpool),
		Subjects:    tariffRepo,
		Idempotency: idempotencyStore,
		Audit:       auditLogger,
		Metrics:     metrics,
		Logger:      logger,
	})
	reconciler := payments.NewReconciler(registry, ledger, payments.NewRepository(dbpool), auditLogger, metrics, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		DirectionsHandler: directions.NewHandler(logger, processor),
		PaymentsHandler:   payments.NewHandler(logger, reconciler),
		TariffsHandler:    tariffs.NewHandler(logger, resolver, matcher),
		JobHandler:        jobs.NewHandler(inspector, jobClient, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
