// Package main serves the order saga HTTP API. It wires dependencies with
// samber/do v2 and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"order-saga/api"
	"order-saga/config"
	"order-saga/logging"
	"order-saga/platform"
	"order-saga/saga"

	"github.com/samber/do/v2"
	"go.temporal.io/sdk/client"
)

const serverShutdownTimeout = 15 * time.Second

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
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)
	registerDependencies(injector, cfg, logger)

	c, err := do.Invoke[client.Client](injector)
	if err != nil {
		return fmt.Errorf("resolving temporal client: %w", err)
	}
	defer c.Close()

	server, err := do.Invoke[*http.Server](injector)
	if err != nil {
		return fmt.Errorf("resolving server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("order saga api listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}
	<-serverErr

	logger.Info("shutdown complete")
	return nil
}

func registerDependencies(injector *do.RootScope, cfg *config.Config, logger *slog.Logger) {
	do.Provide(injector, func(_ do.Injector) (client.Client, error) {
		return platform.DialTemporal(cfg.Temporal, logger)
	})

	do.Provide(injector, func(i do.Injector) (api.SagaService, error) {
		c := do.MustInvoke[client.Client](i)
		return saga.NewService(c, saga.Options{
			TaskQueue:            cfg.Temporal.TaskQueue,
			DispatchTimeout:      cfg.Saga.DispatchTimeout,
			CompensationAttempts: int32(cfg.Saga.CompensationAttempts),
		}, logger), nil
	})

	do.Provide(injector, func(i do.Injector) (*http.Server, error) {
		svc := do.MustInvoke[api.SagaService](i)
		return &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:      api.NewRouter(api.NewOrderHandler(svc, logger)),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}, nil
	})
}
