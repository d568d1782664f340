// Package failure classifies errors raised by saga steps and carries the
// classification across the activity boundary as a Temporal ApplicationError.
//
// Activities return ToActivityError(err). The workflow turns whatever the
// engine hands back into an Outcome with FromActivityError and switches on
// its Class; no step error is ever propagated past the workflow.
package failure

import (
	"errors"
	"fmt"

	"order-saga/models"

	"go.temporal.io/sdk/temporal"
)

// ErrTransient marks errors that may succeed if the same step is retried.
var ErrTransient = errors.New("transient failure")

// Business rule violations raised by the step library.
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrOutOfStock          = errors.New("product out of stock")
	ErrCouponExceedsTotal  = errors.New("coupon cannot be redeemed")
	ErrInsufficientDeposit = errors.New("not enough money in account to place the order")
)

// ErrDispatchUnavailable is returned when the courier dispatch channel
// cannot accept a hand-off. It is retried like any transient failure.
var ErrDispatchUnavailable = fmt.Errorf("courier dispatch unavailable: %w", ErrTransient)

// Class is the kind of failure
type Class int

const (
	Retryable Class = iota + 1
	BusinessRuleViolation
	Fatal
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case BusinessRuleViolation:
		return "business_rule_violation"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

var reasons = []struct {
	err    error
	reason models.ReasonCode
}{
	{ErrProductNotFound, models.ReasonProductNotFound},
	{ErrAccountNotFound, models.ReasonAccountNotFound},
	{ErrOutOfStock, models.ReasonOutOfStock},
	{ErrCouponExceedsTotal, models.ReasonCouponExceedsTotal},
	{ErrInsufficientDeposit, models.ReasonInsufficientDeposit},
	{ErrDispatchUnavailable, models.ReasonDispatchUnavailable},
	{models.ErrInvalidOrder, models.ReasonInvalidOrder},
	{ErrTransient, models.ReasonStoreUnavailable},
}

var classes = map[models.ReasonCode]Class{
	models.ReasonProductNotFound:     BusinessRuleViolation,
	models.ReasonAccountNotFound:     BusinessRuleViolation,
	models.ReasonOutOfStock:          BusinessRuleViolation,
	models.ReasonCouponExceedsTotal:  BusinessRuleViolation,
	models.ReasonInsufficientDeposit: BusinessRuleViolation,
	models.ReasonDispatchUnavailable: Retryable,
	models.ReasonStoreUnavailable:    Retryable,
	models.ReasonInvalidOrder:        Fatal,
}

// Reason returns the caller-facing reason code for err.
func Reason(err error) models.ReasonCode {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return models.ReasonUnknown
}

// Classify maps a raw step error into its failure class. Unrecognized
// errors are treated as retryable so the engine's retry policy applies.
func Classify(err error) Class {
	if c, ok := classes[Reason(err)]; ok {
		return c
	}
	return Retryable
}

// ToActivityError encodes err for the activity boundary. The error type is
// the reason code; anything not retryable is marked non-retryable so the
// engine surfaces it immediately.
func ToActivityError(err error) error {
	if err == nil {
		return nil
	}
	reason := string(Reason(err))
	if Classify(err) == Retryable {
		return temporal.NewApplicationErrorWithCause(err.Error(), reason, err)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), reason, err)
}

// Outcome is the tagged result the saga executor switches on
type Outcome struct {
	Class   Class
	Reason  models.ReasonCode
	Message string
}

// FromActivityError decodes an error returned by ExecuteActivity. Retries
// have already been exhausted by the time the workflow sees it.
func FromActivityError(err error, step models.StepName) Outcome {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		reason := models.ReasonCode(appErr.Type())
		class, known := classes[reason]
		if !known {
			reason = models.ReasonUnknown
			class = Retryable
			if appErr.NonRetryable() {
				class = Fatal
			}
		}
		return Outcome{Class: class, Reason: reason, Message: appErr.Error()}
	}

	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		reason := models.ReasonStoreUnavailable
		if step == models.StepDecrementStock {
			reason = models.ReasonDispatchUnavailable
		}
		return Outcome{Class: Retryable, Reason: reason, Message: timeoutErr.Error()}
	}

	if temporal.IsCanceledError(err) {
		return Outcome{Class: Fatal, Reason: models.ReasonCancelled, Message: err.Error()}
	}

	return Outcome{Class: Retryable, Reason: models.ReasonUnknown, Message: err.Error()}
}
