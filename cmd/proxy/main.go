// Package main provides the entry point for the query routing proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrev/dbrouter/internal/config"
	"github.com/devrev/dbrouter/internal/executor"
	"github.com/devrev/dbrouter/internal/health"
	"github.com/devrev/dbrouter/internal/logging"
	"github.com/devrev/dbrouter/internal/metrics"
	"github.com/devrev/dbrouter/internal/prober"
	"github.com/devrev/dbrouter/internal/proxy"
	"github.com/devrev/dbrouter/internal/registry"
	"github.com/devrev/dbrouter/internal/routing"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := logging.New("info", "json")

	cfg, err := config.LoadProxy(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	logger.Info("starting proxy",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("driver", cfg.Database.Driver),
		zap.String("primary_host", cfg.Database.PrimaryHost),
		zap.Strings("replica_hosts", cfg.Database.ReplicaHosts),
		zap.String("probe_mode", cfg.Probe.Mode),
	)

	nodes, err := registry.FromHosts(cfg.Database.PrimaryHost, cfg.Database.ReplicaHosts)
	if err != nil {
		logger.Fatal("failed to build node registry", zap.Error(err))
	}

	m := metrics.NewMetrics("proxy", nil)

	p, err := prober.New(prober.Config{
		Mode:        cfg.Probe.Mode,
		Timeout:     cfg.Probe.Timeout,
		Count:       cfg.Probe.Count,
		DefaultPort: cfg.Database.Port,
		Privileged:  cfg.Probe.Privileged,
	}, m, logger)
	if err != nil {
		logger.Fatal("failed to create prober", zap.Error(err))
	}

	driver, err := executor.NewDriver(cfg.Database.Driver, executor.Credentials{
		User:           cfg.Database.User,
		Password:       cfg.Database.Password,
		Database:       cfg.Database.Name,
		Port:           cfg.Database.Port,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		logger.Fatal("failed to create database driver", zap.Error(err))
	}

	exec := executor.New(driver, cfg.Database.QueryTimeout, m, logger)
	router := routing.NewRouter(nodes, p, exec, m, logger)

	primary := nodes.Primary()
	healthCheck := health.NewHealthCheck(map[string]health.Checker{
		primary.Name: func(ctx context.Context) error {
			if !p.Ping(ctx, primary).Reachable {
				return fmt.Errorf("primary %s at %s is unreachable", primary.Name, primary.Address)
			}
			return nil
		},
	}, m, logger)

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

	httpServer := proxy.NewServer(cfg.Server, router, healthCheck, m, logger)
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

	logger.Info("proxy shutdown complete")
}
