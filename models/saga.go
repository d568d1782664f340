package models

import (
	"encoding/json"
	"time"
)

// Phase represents the current phase of a saga execution
type Phase string

const (
	PhaseRunning                   Phase = "RUNNING"
	PhaseSuspended                 Phase = "SUSPENDED"
	PhaseCompensating              Phase = "COMPENSATING"
	PhaseCompleted                 Phase = "COMPLETED"
	PhaseAborted                   Phase = "ABORTED"
	PhaseAbortedManualIntervention Phase = "ABORTED_MANUAL_INTERVENTION_REQUIRED"
)

// Terminal reports whether no further transition can happen.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseAborted, PhaseAbortedManualIntervention:
		return true
	}
	return false
}

// StepName identifies a forward step of the order saga
type StepName string

const (
	StepCheckInventory StepName = "CheckInventory"
	StepPriceOrder     StepName = "PriceOrder"
	StepRedeemCoupon   StepName = "RedeemCoupon"
	StepDebitDeposit   StepName = "DebitDeposit"
	StepDecrementStock StepName = "DecrementStock"
)

// ForwardSteps is the fixed execution order of the saga.
var ForwardSteps = []StepName{
	StepCheckInventory,
	StepPriceOrder,
	StepRedeemCoupon,
	StepDebitDeposit,
	StepDecrementStock,
}

// Mutating reports whether the step changes ledger state.
func (s StepName) Mutating() bool {
	switch s {
	case StepRedeemCoupon, StepDebitDeposit, StepDecrementStock:
		return true
	}
	return false
}

// ReasonCode is surfaced to callers when a saga does not complete
type ReasonCode string

const (
	ReasonProductNotFound     ReasonCode = "PRODUCT_NOT_FOUND"
	ReasonAccountNotFound     ReasonCode = "ACCOUNT_NOT_FOUND"
	ReasonOutOfStock          ReasonCode = "OUT_OF_STOCK"
	ReasonCouponExceedsTotal  ReasonCode = "COUPON_EXCEEDS_TOTAL"
	ReasonInsufficientDeposit ReasonCode = "INSUFFICIENT_DEPOSIT"
	ReasonDispatchUnavailable ReasonCode = "DISPATCH_UNAVAILABLE"
	ReasonManualIntervention  ReasonCode = "MANUAL_INTERVENTION_REQUIRED"
	ReasonInvalidOrder        ReasonCode = "INVALID_ORDER"
	ReasonStoreUnavailable    ReasonCode = "STORE_UNAVAILABLE"
	ReasonCancelled           ReasonCode = "CANCELLED"
	ReasonUnknown             ReasonCode = "UNKNOWN"
)

// Compensation records exactly what a committed step changed, so that the
// inverse is a fixed value and never recomputed from later state.
type Compensation struct {
	Step        StepName `json:"step"`
	Key         string   `json:"key"`
	Amount      int64    `json:"amount"`
	ForwardOpID string   `json:"forward_op_id"`
	OpID        string   `json:"op_id"`
}

// StepResult is the record of one forward step inside a saga execution
type StepResult struct {
	Step              StepName        `json:"step"`
	Committed         bool            `json:"committed"`
	Output            json.RawMessage `json:"output,omitempty"`
	Compensation      *Compensation   `json:"compensation,omitempty"`
	Compensated       bool            `json:"compensated"`
	CompensationError string          `json:"compensation_error,omitempty"`
}

// SagaExecution is the state of one order saga, exposed through the status query
type SagaExecution struct {
	ExecutionID string       `json:"execution_id"`
	Intent      OrderIntent  `json:"intent"`
	Steps       []StepResult `json:"steps"`
	Phase       Phase        `json:"phase"`
	Reason      ReasonCode   `json:"reason,omitempty"`
	Cause       ReasonCode   `json:"cause,omitempty"`
	FailedStep  StepName     `json:"failed_step,omitempty"`
	Error       string       `json:"error,omitempty"`
	Courier     string       `json:"courier,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Step returns the result recorded for name, if any.
func (s *SagaExecution) Step(name StepName) (*StepResult, bool) {
	for i := range s.Steps {
		if s.Steps[i].Step == name {
			return &s.Steps[i], true
		}
	}
	return nil, false
}

// Mutated reports whether any mutating step may have changed ledger state.
func (s *SagaExecution) Mutated() bool {
	for _, st := range s.Steps {
		if st.Compensation != nil {
			return true
		}
	}
	return false
}

// SagaRequest is the workflow input
type SagaRequest struct {
	Intent               OrderIntent   `json:"intent"`
	DispatchTimeout      time.Duration `json:"dispatch_timeout"`
	CompensationAttempts int32         `json:"compensation_attempts"`
}
