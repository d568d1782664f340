package models

import (
	"errors"
	"fmt"
)

// ErrInvalidToken is returned when a continuation token cannot be used.
var ErrInvalidToken = errors.New("invalid continuation token")

// ContinuationToken correlates an out-of-band outcome with a suspended step.
// TaskToken is the workflow engine's own handle for the pending activity.
type ContinuationToken struct {
	ExecutionID   string   `json:"execution_id"`
	Step          StepName `json:"step"`
	CorrelationID string   `json:"correlation_id"`
	TaskToken     []byte   `json:"task_token"`
}

// Validate checks that the token can be consumed
func (t ContinuationToken) Validate() error {
	switch {
	case t.ExecutionID == "":
		return fmt.Errorf("%w: execution_id is required", ErrInvalidToken)
	case t.CorrelationID == "":
		return fmt.Errorf("%w: correlation_id is required", ErrInvalidToken)
	case len(t.TaskToken) == 0:
		return fmt.Errorf("%w: task_token is required", ErrInvalidToken)
	}
	return nil
}

// DispatchRequest is handed to the courier dispatch channel by DecrementStock
type DispatchRequest struct {
	ExecutionID string            `json:"execution_id"`
	Token       ContinuationToken `json:"token"`
	ProductID   string            `json:"product_id"`
	Quantity    int64             `json:"quantity"`
}

// OutcomeStatus is the result kind of a dispatch
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// DispatchOutcome is delivered back by the courier dispatch channel
type DispatchOutcome struct {
	Token   ContinuationToken `json:"token"`
	Status  OutcomeStatus     `json:"status"`
	Courier string            `json:"courier,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}

// DispatchReceipt is the result of the DecrementStock step once dispatch succeeds
type DispatchReceipt struct {
	Courier       string `json:"courier"`
	CorrelationID string `json:"correlation_id"`
}

// StockRequest is the DecrementStock step input
type StockRequest struct {
	ExecutionID string `json:"execution_id"`
	OpID        string `json:"op_id"`
	ProductID   string `json:"product_id"`
	Quantity    int64  `json:"quantity"`
}

// CouponRequest is the RedeemCoupon step input
type CouponRequest struct {
	OpID   string `json:"op_id"`
	UserID string `json:"user_id"`
	Total  int64  `json:"total"`
}

// DepositRequest is the DebitDeposit step input
type DepositRequest struct {
	OpID   string `json:"op_id"`
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}
