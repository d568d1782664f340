// Package main runs the courier dispatcher on its own, for deployments
// where the worker does not embed it. It needs a shared queue backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-saga/config"
	"order-saga/courier"
	"order-saga/logging"
	"order-saga/platform"

	"github.com/samber/do/v2"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("SAGA_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Queue.Backend == "memory" {
		return errors.New("courierd needs a shared queue backend (redis or kafka)")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	telemetry, err := platform.InitTelemetry(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	injector := do.New()
	do.ProvideValue(injector, telemetry)

	do.Provide(injector, func(_ do.Injector) (*platform.Queues, error) {
		return platform.OpenQueues(ctx, cfg.Queue)
	})
	do.Provide(injector, func(i do.Injector) (*courier.Dispatcher, error) {
		q := do.MustInvoke[*platform.Queues](i)
		t := do.MustInvoke[*platform.Telemetry](i)
		return courier.NewDispatcher(platform.NewCourier(cfg.Courier, logger), q.Producer, cfg.Queue.OutcomeTopic, logger, t.Meter())
	})

	dispatcher, err := do.Invoke[*courier.Dispatcher](injector)
	if err != nil {
		return fmt.Errorf("resolving dispatcher: %w", err)
	}
	queues := do.MustInvoke[*platform.Queues](injector)
	defer queues.Close()

	requests, err := queues.Consumer(ctx, cfg.Queue.DispatchTopic)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.Queue.DispatchTopic, err)
	}
	defer requests.Close()

	logger.Info("courier dispatcher running",
		slog.String("mode", cfg.Courier.Mode),
		slog.String("queue", cfg.Queue.Backend),
		slog.String("dispatch_topic", cfg.Queue.DispatchTopic),
	)
	runErr := dispatcher.Run(ctx, requests)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return runErr
}
