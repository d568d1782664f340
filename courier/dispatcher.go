package courier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"order-saga/models"
	"order-saga/queue"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// UnavailableReason is the failure reason reported to the saga.
const UnavailableReason = "Courier Service not available!"

// Dispatcher turns dispatch requests into dispatch outcomes.
type Dispatcher struct {
	courier      Courier
	producer     queue.Producer
	outcomeTopic string
	logger       *slog.Logger
	assignments  metric.Int64Counter
}

func NewDispatcher(courier Courier, producer queue.Producer, outcomeTopic string, logger *slog.Logger, meter metric.Meter) (*Dispatcher, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("courier")
	}
	assignments, err := meter.Int64Counter("saga.courier.assignments",
		metric.WithDescription("Courier assignment attempts by result"))
	if err != nil {
		return nil, fmt.Errorf("create assignment counter: %w", err)
	}
	return &Dispatcher{
		courier:      courier,
		producer:     producer,
		outcomeTopic: outcomeTopic,
		logger:       logger,
		assignments:  assignments,
	}, nil
}

// Run handles dispatch requests from consumer until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, consumer queue.Consumer) error {
	d.logger.InfoContext(ctx, "courier dispatcher started", slog.String("outcome_topic", d.outcomeTopic))
	return queue.Consume(ctx, consumer, d.Handle, d.logger)
}

// Handle assigns a courier for one request and publishes the outcome.
// An assignment failure is a failure outcome, not an error; only a failed
// publish asks for redelivery.
func (d *Dispatcher) Handle(ctx context.Context, msg queue.Message) error {
	var req models.DispatchRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		d.logger.ErrorContext(ctx, "dropping undecodable dispatch request",
			slog.String("key", msg.Key),
			slog.Any("error", err),
		)
		return nil
	}

	outcome := models.DispatchOutcome{Token: req.Token}
	name, err := d.courier.Assign(ctx, req)
	if err != nil {
		d.logger.WarnContext(ctx, "courier assignment failed",
			slog.String("execution_id", req.ExecutionID),
			slog.Any("error", err),
		)
		outcome.Status = models.OutcomeFailure
		outcome.Reason = UnavailableReason
	} else {
		outcome.Status = models.OutcomeSuccess
		outcome.Courier = name
	}
	d.assignments.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(outcome.Status))))

	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal dispatch outcome: %w", err)
	}
	if err := d.producer.Publish(ctx, d.outcomeTopic, queue.Message{Key: req.ExecutionID, Value: payload}); err != nil {
		return fmt.Errorf("publish dispatch outcome: %w", err)
	}

	d.logger.InfoContext(ctx, "dispatch outcome published",
		slog.String("execution_id", req.ExecutionID),
		slog.String("status", string(outcome.Status)),
		slog.String("courier", outcome.Courier),
	)
	return nil
}
