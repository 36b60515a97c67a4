package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/config"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/domain"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/events"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/handler"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/cache"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/channel"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/ledger"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/observability"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/resilience"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/simulator"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("ledger_api_url", cfg.LedgerAPIURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("max_open_channels", cfg.MaxOpenChannels),
		zap.Duration("channel_timeout", cfg.ChannelTimeout),
		zap.String("simulator_mode", cfg.SimulatorMode),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "globalexchange-bff")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Caches ---
	currencyCache := cache.New[[]domain.Currency](cfg.CacheTTL)
	denomCache := cache.New[[]domain.Denomination](cfg.CacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxOpenChannels,
	}
	cb := resilience.NewCircuitBreaker("transaction-ledger")

	// --- Ledger client ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	ledgerClient := ledger.NewClient(httpClient, cfg.LedgerAPIURL, cfg.LedgerAPIToken, cb, resilienceCfg, logger)

	// --- Payment channel ---
	launcher := simulator.NewLauncher(ledgerClient, simulator.Mode(cfg.SimulatorMode), cfg.SimulatorDelay, logger)
	bridge := channel.NewBridge(launcher, cfg.MaxOpenChannels, cfg.ChannelTimeout, logger)

	// --- Services ---
	bus := events.NewBus()

	opSvc := service.NewOperationService(ledgerClient, bridge, bus, currencyCache, metrics, logger)
	defer opSvc.Close()

	termSvc := service.NewTerminalService(ledgerClient, denomCache, cfg.TerminalPINHash, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(handler.RouterConfig{
		Operations: opSvc,
		Terminal:   termSvc,
		Bus:        bus,
		Metrics:    metrics,
		JWTSecret:  cfg.JWTSecret,
		Logger:     logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
