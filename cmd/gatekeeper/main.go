// Package main provides the entry point for the gatekeeper service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrev/dbrouter/internal/config"
	"github.com/devrev/dbrouter/internal/gatekeeper"
	"github.com/devrev/dbrouter/internal/health"
	"github.com/devrev/dbrouter/internal/logging"
	"github.com/devrev/dbrouter/internal/metrics"
	"github.com/devrev/dbrouter/internal/store"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := logging.New("info", "json")

	cfg, err := config.LoadGatekeeper(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	logger.Info("starting gatekeeper",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("proxy_url", cfg.Proxy.BaseURL()),
		zap.Bool("rate_limiter", cfg.RateLimiter.Enabled),
		zap.Bool("idempotency", cfg.Idempotency.Enabled),
	)

	m := metrics.NewMetrics("gatekeeper", nil)
	client := gatekeeper.NewClient(cfg.Proxy, m, logger)

	checks := map[string]health.Checker{
		"proxy": client.HealthCheck,
	}

	idempotency, err := newIdempotencyStore(cfg.Idempotency, logger)
	if err != nil {
		logger.Fatal("failed to create idempotency store", zap.Error(err))
	}
	if idempotency != nil {
		defer idempotency.Close()
		checks["idempotency_store"] = idempotency.Ping
	}

	healthCheck := health.NewHealthCheck(checks, m, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go healthCheck.Run(ctx)

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, nil, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := gatekeeper.NewServer(cfg, client, idempotency, healthCheck, m, logger)
	httpServer.SetupRoutes()

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("initiating graceful shutdown")
	stop()
	m.SetHealthStatus(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	logger.Info("gatekeeper shutdown complete")
}

// newIdempotencyStore returns nil when replay is disabled.
func newIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (store.IdempotencyStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Backend {
	case "redis":
		s, err := store.NewRedisIdempotencyStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("redis idempotency store connected",
			zap.String("host", cfg.Redis.Host),
			zap.Int("port", cfg.Redis.Port),
		)
		return s, nil
	default:
		return store.NewInMemoryStore(cfg.MaxSize, logger), nil
	}
}
