// Package saga is the submission surface for order sagas. It starts the
// workflow, reads its status through the status query and forwards
// cancellation as a signal.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"order-saga/models"
	"order-saga/workflows"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

// ErrNotFound is returned when no saga execution has the given id.
var ErrNotFound = errors.New("saga execution not found")

const executionIDPrefix = "order-saga-"

// WorkflowClient is the part of client.Client the service uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
}

type Options struct {
	TaskQueue            string
	DispatchTimeout      time.Duration
	CompensationAttempts int32
}

type Service struct {
	client WorkflowClient
	opts   Options
	logger *slog.Logger
}

func NewService(c WorkflowClient, opts Options, logger *slog.Logger) *Service {
	return &Service{client: c, opts: opts, logger: logger}
}

// Submit validates intent and starts a saga for it. It returns as soon as
// the saga is started; the outcome is read with GetStatus.
func (s *Service) Submit(ctx context.Context, intent models.OrderIntent) (string, error) {
	if err := intent.Validate(); err != nil {
		return "", err
	}

	options := client.StartWorkflowOptions{
		ID:        executionIDPrefix + uuid.NewString(),
		TaskQueue: s.opts.TaskQueue,
	}
	req := models.SagaRequest{
		Intent:               intent,
		DispatchTimeout:      s.opts.DispatchTimeout,
		CompensationAttempts: s.opts.CompensationAttempts,
	}

	run, err := s.client.ExecuteWorkflow(ctx, options, workflows.OrderSagaWorkflow, req)
	if err != nil {
		return "", fmt.Errorf("start saga: %w", err)
	}

	s.logger.InfoContext(ctx, "saga submitted",
		slog.String("execution_id", run.GetID()),
		slog.String("run_id", run.GetRunID()),
		slog.String("product_id", intent.ProductID),
		slog.String("user_id", intent.UserID),
	)
	return run.GetID(), nil
}

// GetStatus returns the current state of the saga.
func (s *Service) GetStatus(ctx context.Context, executionID string) (models.SagaExecution, error) {
	resp, err := s.client.QueryWorkflow(ctx, executionID, "", workflows.QueryStatus)
	if err != nil {
		return models.SagaExecution{}, notFound(executionID, err)
	}

	var exec models.SagaExecution
	if err := resp.Get(&exec); err != nil {
		return models.SagaExecution{}, fmt.Errorf("decode saga status: %w", err)
	}
	return exec, nil
}

// Cancel asks the saga to stop. A saga that already mutated state rolls
// back; a finished saga ignores the request.
func (s *Service) Cancel(ctx context.Context, executionID, reason string) error {
	if err := s.client.SignalWorkflow(ctx, executionID, "", workflows.SignalCancel, reason); err != nil {
		return notFound(executionID, err)
	}
	s.logger.InfoContext(ctx, "saga cancellation requested", slog.String("execution_id", executionID))
	return nil
}

func notFound(executionID string, err error) error {
	var nf *serviceerror.NotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	return err
}
