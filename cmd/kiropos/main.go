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

	"github.com/zazakia/kiropos/internal/app"
	"github.com/zazakia/kiropos/internal/integration"
	"github.com/zazakia/kiropos/internal/ledger"
	"github.com/zazakia/kiropos/internal/masterdata/products"
	"github.com/zazakia/kiropos/internal/masterdata/warehouses"
	"github.com/zazakia/kiropos/internal/observability"
	"github.com/zazakia/kiropos/internal/platform/cache"
	"github.com/zazakia/kiropos/internal/platform/db"
	"github.com/zazakia/kiropos/internal/pos"
	"github.com/zazakia/kiropos/internal/procurement"
	"github.com/zazakia/kiropos/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, stock level cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	productRepo := products.NewRepository(pool)
	productService := products.NewService(productRepo)
	warehouseRepo := warehouses.NewRepository(pool)
	warehouseService := warehouses.NewService(warehouseRepo)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(
		ledgerRepo,
		integration.NewProductAdapter(productService),
		integration.NewWarehouseAdapter(warehouseService),
		auditLogger,
		metrics,
		ledger.ServiceConfig{StrictUOM: cfg.LedgerStrictUOM},
		integration.NewHooks(logger),
	)

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(procurementRepo, ledgerService, auditLogger, logger)

	posRepo := pos.NewRepository(pool)
	posService := pos.NewService(
		posRepo,
		ledgerService,
		integration.NewProductAdapter(productService),
		auditLogger,
		ledger.Converter{Strict: cfg.LedgerStrictUOM},
		logger,
	)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		LedgerHandler:      ledger.NewHandler(logger, ledgerService, redisClient, cfg.StockLevelCacheTTL),
		ProductHandler:     products.NewHandler(logger, productService),
		WarehouseHandler:   warehouses.NewHandler(logger, warehouseService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		POSHandler:         pos.NewHandler(logger, posService),
		Pool:               pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.AppAddr, "env", cfg.AppEnv)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", slog.Any("error", err))
	}
}
