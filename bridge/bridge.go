// Package bridge resumes suspended sagas. It consumes dispatch outcomes,
// checks each continuation token is used once, and completes the pending
// DecrementStock activity through the Temporal client.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"order-saga/models"
	"order-saga/queue"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/temporal"
)

// DefaultFailureReason is reported when a failure outcome carries no reason.
const DefaultFailureReason = "Courier Service not available!"

// Completer is the part of client.Client the bridge needs.
type Completer interface {
	CompleteActivity(ctx context.Context, taskToken []byte, result interface{}, err error) error
}

type Bridge struct {
	completer Completer
	registry  TokenRegistry
	logger    *slog.Logger
	outcomes  metric.Int64Counter
}

// New creates a bridge. A nil meter disables metrics.
func New(completer Completer, registry TokenRegistry, logger *slog.Logger, meter metric.Meter) (*Bridge, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("bridge")
	}
	outcomes, err := meter.Int64Counter("saga.dispatch.outcomes",
		metric.WithDescription("Dispatch outcomes handled by the completion bridge"))
	if err != nil {
		return nil, fmt.Errorf("create outcome counter: %w", err)
	}
	return &Bridge{
		completer: completer,
		registry:  registry,
		logger:    logger,
		outcomes:  outcomes,
	}, nil
}

// Run applies outcomes from consumer until ctx is done.
func (b *Bridge) Run(ctx context.Context, consumer queue.Consumer) error {
	b.logger.InfoContext(ctx, "completion bridge started")
	return queue.Consume(ctx, consumer, b.Handle, b.logger)
}

// Handle decodes one queued outcome. Undecodable messages are dropped.
func (b *Bridge) Handle(ctx context.Context, msg queue.Message) error {
	var outcome models.DispatchOutcome
	if err := json.Unmarshal(msg.Value, &outcome); err != nil {
		b.logger.ErrorContext(ctx, "dropping undecodable dispatch outcome",
			slog.String("key", msg.Key),
			slog.Any("error", err),
		)
		b.record(ctx, "", "malformed")
		return nil
	}
	return b.OnOutcome(ctx, outcome)
}

// OnOutcome resumes the saga the token belongs to. Delivering the same
// outcome twice resumes it once. A returned error means the outcome should
// be redelivered.
func (b *Bridge) OnOutcome(ctx context.Context, outcome models.DispatchOutcome) error {
	token := outcome.Token
	log := b.logger.With(
		slog.String("execution_id", token.ExecutionID),
		slog.String("correlation_id", token.CorrelationID),
		slog.String("status", string(outcome.Status)),
	)

	if err := token.Validate(); err != nil {
		log.WarnContext(ctx, "dropping outcome with unusable token", slog.Any("error", err))
		b.record(ctx, outcome.Status, "invalid")
		return nil
	}

	var (
		result  interface{}
		stepErr error
	)
	switch outcome.Status {
	case models.OutcomeSuccess:
		result = models.DispatchReceipt{Courier: outcome.Courier, CorrelationID: token.CorrelationID}
	case models.OutcomeFailure:
		reason := outcome.Reason
		if reason == "" {
			reason = DefaultFailureReason
		}
		stepErr = temporal.NewNonRetryableApplicationError(reason, string(models.ReasonDispatchUnavailable), nil)
	default:
		log.WarnContext(ctx, "dropping outcome with unknown status")
		b.record(ctx, outcome.Status, "invalid")
		return nil
	}

	fresh, err := b.registry.Consume(ctx, token.CorrelationID)
	if err != nil {
		return fmt.Errorf("consume continuation token: %w", err)
	}
	if !fresh {
		log.InfoContext(ctx, "ignoring duplicate dispatch outcome")
		b.record(ctx, outcome.Status, "duplicate")
		return nil
	}

	err = b.completer.CompleteActivity(ctx, token.TaskToken, result, stepErr)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			log.WarnContext(ctx, "saga no longer waiting for this outcome", slog.Any("error", err))
			b.record(ctx, outcome.Status, "stale")
			return nil
		}
		if relErr := b.registry.Release(ctx, token.CorrelationID); relErr != nil {
			log.ErrorContext(ctx, "failed to release continuation token", slog.Any("error", relErr))
		}
		b.record(ctx, outcome.Status, "error")
		return fmt.Errorf("complete activity: %w", err)
	}

	log.InfoContext(ctx, "saga resumed", slog.String("courier", outcome.Courier))
	b.record(ctx, outcome.Status, "resumed")
	return nil
}

func (b *Bridge) record(ctx context.Context, status models.OutcomeStatus, result string) {
	b.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.String("result", result),
	))
}
