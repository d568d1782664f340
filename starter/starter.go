package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"order-saga/config"
	"order-saga/logging"
	"order-saga/models"
	"order-saga/platform"
	"order-saga/saga"
)

const pollInterval = time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("SAGA_CONFIG"), "path to the YAML config file")
	productID := flag.String("product", "P1", "Product ID")
	userID := flag.String("user", "U1", "User ID")
	quantity := flag.Int64("qty", 1, "Quantity to order")
	signal := flag.String("signal", "", "Send signal to a saga (cancel)")
	reason := flag.String("reason", "", "Reason recorded with a cancel signal")
	query := flag.Bool("query", false, "Query saga status")
	wait := flag.Bool("wait", true, "Poll the saga until it reaches a terminal phase")
	workflowID := flag.String("workflow-id", "", "Saga execution ID for signal/query operations")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	c, err := platform.DialTemporal(cfg.Temporal, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	svc := saga.NewService(c, saga.Options{
		TaskQueue:            cfg.Temporal.TaskQueue,
		DispatchTimeout:      cfg.Saga.DispatchTimeout,
		CompensationAttempts: int32(cfg.Saga.CompensationAttempts),
	}, logger)

	ctx := context.Background()

	if *signal != "" {
		if *workflowID == "" {
			return fmt.Errorf("workflow ID is required for signal operations, use -workflow-id")
		}
		if *signal != "cancel" {
			return fmt.Errorf("unknown signal %q, valid signals: cancel", *signal)
		}
		return svc.Cancel(ctx, *workflowID, *reason)
	}

	if *query {
		if *workflowID == "" {
			return fmt.Errorf("workflow ID is required for query operations, use -workflow-id")
		}
		exec, err := svc.GetStatus(ctx, *workflowID)
		if err != nil {
			return err
		}
		return printExecution(exec)
	}

	id, err := svc.Submit(ctx, models.OrderIntent{ProductID: *productID, Quantity: *quantity, UserID: *userID})
	if err != nil {
		return err
	}

	logger.Info("saga started", slog.String("execution_id", id))
	fmt.Printf("\nTo query saga status, run:\n  go run ./starter -query -workflow-id %s\n", id)
	fmt.Printf("To cancel it, run:\n  go run ./starter -signal cancel -workflow-id %s\n\n", id)

	if !*wait {
		return nil
	}
	exec, err := waitTerminal(ctx, svc, id)
	if err != nil {
		return err
	}
	return printExecution(exec)
}

func waitTerminal(ctx context.Context, svc *saga.Service, id string) (models.SagaExecution, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		exec, err := svc.GetStatus(ctx, id)
		if err != nil {
			return models.SagaExecution{}, err
		}
		if exec.Phase.Terminal() {
			return exec, nil
		}
		select {
		case <-ctx.Done():
			return exec, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printExecution(exec models.SagaExecution) error {
	out, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal saga status: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
