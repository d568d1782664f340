package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"order-saga/activities"
	"order-saga/bridge"
	"order-saga/config"
	"order-saga/courier"
	"order-saga/ledger"
	"order-saga/logging"
	"order-saga/platform"
	"order-saga/workflows"

	"github.com/samber/do/v2"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerVersion is reported at start-up.
const WorkerVersion = "2.0.0"

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
	if cfg.Queue.Backend == "memory" && !cfg.Courier.Embedded {
		// The memory queue lives in this process, so nobody else could
		// consume dispatch requests.
		return errors.New("queue.backend memory requires courier.embedded")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	telemetry, err := platform.InitTelemetry(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Error("close failed", slog.Any("error", err))
			}
		}
	}()

	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)
	do.ProvideValue(injector, telemetry)
	registerDependencies(ctx, injector, cfg, logger, &closers)

	c, err := do.Invoke[client.Client](injector)
	if err != nil {
		return fmt.Errorf("resolving temporal client: %w", err)
	}
	acts, err := do.Invoke[*activities.Activities](injector)
	if err != nil {
		return fmt.Errorf("resolving activities: %w", err)
	}
	completion, err := do.Invoke[*bridge.Bridge](injector)
	if err != nil {
		return fmt.Errorf("resolving completion bridge: %w", err)
	}
	queues := do.MustInvoke[*platform.Queues](injector)

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		BuildID:                                cfg.Temporal.BuildID,
		MaxConcurrentActivityExecutionSize:     100,
		MaxConcurrentWorkflowTaskExecutionSize: 50,
	})

	w.RegisterWorkflow(workflows.OrderSagaWorkflow)

	w.RegisterActivity(acts.CheckInventory)
	w.RegisterActivity(acts.PriceOrder)
	w.RegisterActivity(acts.RedeemCoupon)
	w.RegisterActivity(acts.DebitDeposit)
	w.RegisterActivity(acts.DecrementStock)
	w.RegisterActivity(acts.RestoreCoupon)
	w.RegisterActivity(acts.RestoreDeposit)
	w.RegisterActivity(acts.RestoreStock)

	var wg sync.WaitGroup
	runErr := make(chan error, 2)

	outcomes, err := queues.Consumer(ctx, cfg.Queue.OutcomeTopic)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.Queue.OutcomeTopic, err)
	}
	closers = append(closers, outcomes.Close)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := completion.Run(ctx, outcomes); err != nil {
			runErr <- fmt.Errorf("completion bridge: %w", err)
		}
	}()

	if cfg.Courier.Embedded {
		dispatcher, err := do.Invoke[*courier.Dispatcher](injector)
		if err != nil {
			return fmt.Errorf("resolving dispatcher: %w", err)
		}
		requests, err := queues.Consumer(ctx, cfg.Queue.DispatchTopic)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", cfg.Queue.DispatchTopic, err)
		}
		closers = append(closers, requests.Close)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dispatcher.Run(ctx, requests); err != nil {
				runErr <- fmt.Errorf("courier dispatcher: %w", err)
			}
		}()
	}

	if err := w.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	logger.Info("order saga worker started",
		slog.String("version", WorkerVersion),
		slog.String("build_id", cfg.Temporal.BuildID),
		slog.String("temporal_address", cfg.Temporal.Address),
		slog.String("task_queue", cfg.Temporal.TaskQueue),
		slog.String("ledger", cfg.Ledger.Backend),
		slog.String("queue", cfg.Queue.Backend),
		slog.Bool("embedded_courier", cfg.Courier.Embedded),
	)

	var failure error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case failure = <-runErr:
		logger.Error("background loop failed", slog.Any("error", failure))
		stop()
	}

	w.Stop()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return failure
}

func registerDependencies(ctx context.Context, injector *do.RootScope, cfg *config.Config, logger *slog.Logger, closers *[]func() error) {
	do.Provide(injector, func(_ do.Injector) (client.Client, error) {
		c, err := platform.DialTemporal(cfg.Temporal, logger)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() error { c.Close(); return nil })
		return c, nil
	})

	do.Provide(injector, func(_ do.Injector) (*ledger.Ledger, error) {
		l, closeFn, err := platform.OpenLedger(ctx, cfg.Ledger)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, closeFn)
		if err := platform.SeedLedger(ctx, l, cfg.Seed); err != nil {
			return nil, err
		}
		return l, nil
	})

	do.Provide(injector, func(_ do.Injector) (*platform.Queues, error) {
		q, err := platform.OpenQueues(ctx, cfg.Queue)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, q.Close)
		return q, nil
	})

	do.Provide(injector, func(i do.Injector) (*activities.Activities, error) {
		l := do.MustInvoke[*ledger.Ledger](i)
		q := do.MustInvoke[*platform.Queues](i)
		return activities.NewActivities(l, q.Producer, cfg.Queue.DispatchTopic), nil
	})

	do.Provide(injector, func(i do.Injector) (*bridge.Bridge, error) {
		c := do.MustInvoke[client.Client](i)
		q := do.MustInvoke[*platform.Queues](i)
		telemetry := do.MustInvoke[*platform.Telemetry](i)

		registry, closeFn := platform.NewTokenRegistry(cfg.Bridge, cfg.Queue, q)
		*closers = append(*closers, closeFn)
		return bridge.New(c, registry, logger, telemetry.Meter())
	})

	do.Provide(injector, func(i do.Injector) (*courier.Dispatcher, error) {
		q := do.MustInvoke[*platform.Queues](i)
		telemetry := do.MustInvoke[*platform.Telemetry](i)
		return courier.NewDispatcher(platform.NewCourier(cfg.Courier, logger), q.Producer, cfg.Queue.OutcomeTopic, logger, telemetry.Meter())
	})
}
