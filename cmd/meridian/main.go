package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger/accounts"
	"github.com/meridian-erp/meridian-erp/internal/ledger/journals"
	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	"github.com/meridian-erp/meridian-erp/internal/ledger/reports"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/reconcile"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	reportCache := cache.NewReportCache(redisClient, cfg.ReportCacheTTL)

	auditLogger := shared.NewAuditLogger(pool)
	metrics := observability.NewMetrics()

	accountsRepo := accounts.NewRepository(pool)
	accountsService := accounts.NewService(accountsRepo)
	accountsHandler := accounts.NewHandler(logger, accountsService)

	journalsRepo := journals.NewRepository(pool)
	journalsService := journals.NewService(journalsRepo, auditLogger, metrics)
	journalsHandler := journals.NewHandler(logger, journalsService, accountsService)

	retained, err := accountsService.GetByCode(ctx, cfg.RetainedEarningsCode)
	if err != nil {
		logger.Error("resolve retained earnings account",
			slog.String("code", cfg.RetainedEarningsCode), slog.Any("error", err))
		os.Exit(1)
	}
	periodsRepo := periods.NewRepository(pool)
	periodsService := periods.NewService(periodsRepo, auditLogger, periods.Config{
		RetainedEarningsAccountID: retained.ID,
		VoidClosingOnReopen:       cfg.VoidClosingOnReopen,
	})
	periodsHandler := periods.NewHandler(logger, periodsService)

	reportsRepo := reports.NewRepository(pool)
	reportsService := reports.NewService(reportsRepo, reportCache)
	reportsHandler := reports.NewHandler(logger, reportsService)

	accountMap, err := resolveAccountMap(ctx, accountsService, cfg)
	if err != nil {
		logger.Error("resolve stock accounts", slog.Any("error", err))
		os.Exit(1)
	}
	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, auditLogger, metrics, stock.Config{
		AllowNegativeStock: cfg.AllowNegativeStock,
		Accounts:           accountMap,
	})
	stockHandler := stock.NewHandler(logger, stockService)

	costingRepo := costing.NewRepository(pool)
	costingService := costing.NewService(costingRepo, auditLogger, stockService, costing.Config{
		StrictComponentCost: cfg.StrictComponentCost,
	})
	costingHandler := costing.NewHandler(logger, costingService)

	reconcileRepo := reconcile.NewRepository(pool)
	reconcileService := reconcile.NewService(reconcileRepo, reportCache, metrics, reconcile.Config{
		RetainedEarningsCode: cfg.RetainedEarningsCode,
	})
	reconcileHandler := reconcile.NewHandler(logger, reconcileService)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AccountsHandler:  accountsHandler,
		JournalsHandler:  journalsHandler,
		PeriodsHandler:   periodsHandler,
		ReportsHandler:   reportsHandler,
		StockHandler:     stockHandler,
		CostingHandler:   costingHandler,
		ReconcileHandler: reconcileHandler,
		Metrics:          metrics,
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

func resolveAccountMap(ctx context.Context, svc *accounts.Service, cfg *app.Config) (stock.AccountMap, error) {
	var m stock.AccountMap
	for _, binding := range []struct {
		code string
		dest *int64
	}{
		{cfg.InventoryAccountCode, &m.Inventory},
		{cfg.GRNIAccountCode, &m.GRNI},
		{cfg.WIPAccountCode, &m.WIP},
		{cfg.AdjustmentAccountCode, &m.Adjustment},
	} {
		account, err := svc.GetByCode(ctx, binding.code)
		if err != nil {
			return stock.AccountMap{}, err
		}
		*binding.dest = account.ID
	}
	return m, nil
}
