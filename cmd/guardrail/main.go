package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/guardrail/internal/api"
	"github.com/FairForge/guardrail/internal/breaker"
	"github.com/FairForge/guardrail/internal/clients"
	"github.com/FairForge/guardrail/internal/config"
	"github.com/FairForge/guardrail/internal/metrics"
	"github.com/FairForge/guardrail/internal/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardrail: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardrail: logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	m := metrics.New(cfg.Models.Names)

	breakers := breaker.NewRegistry(func(name string) []breaker.Option {
		return []breaker.Option{
			breaker.WithFailureThreshold(cfg.Breaker.FailureThreshold),
			breaker.WithSuccessThreshold(cfg.Breaker.SuccessThreshold),
			breaker.WithRecoveryTimeout(cfg.Breaker.RecoveryTimeout),
			breaker.WithLogger(logger),
			breaker.WithStateHook(func(s breaker.State) {
				m.SetCircuitState(name, float64(s))
			}),
		}
	})

	pool := clients.NewPool(cfg.Models.URLs, cfg.Models.ConnectTimeout, cfg.Models.RequestTimeout, logger)
	caller := orchestrator.NewCaller(pool, breakers, m, cfg.Retry, logger)
	orch := orchestrator.New(caller, cfg.Models.Names, m, logger)
	server := api.NewServer(cfg, logger, orch, breakers, m)

	logger.Info("guardrail server starting",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Any("model_urls", cfg.Models.URLs),
		zap.Duration("model_timeout", cfg.Models.RequestTimeout),
		zap.Int("cb_failure_threshold", cfg.Breaker.FailureThreshold),
		zap.Bool("retry_enabled", cfg.Retry.Enabled),
		zap.Int("retry_max_attempts", cfg.Retry.MaxAttempts))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	// Drain in-flight requests, then drop pooled connections.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown did not drain cleanly", zap.Error(err))
	}
	pool.Shutdown()

	logger.Info("guardrail server stopped")
}
