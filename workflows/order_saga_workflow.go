package workflows

import (
	"encoding/json"
	"fmt"
	"time"

	"order-saga/activities"
	"order-saga/failure"
	"order-saga/models"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	SignalCancel = "cancel"
	QueryStatus  = "status"
)

const (
	DefaultDispatchTimeout      = 5 * time.Minute
	DefaultCompensationAttempts = 5
)

// sagaState is the executor's view of one execution. Only the workflow
// goroutines touch it, so it needs no locking.
type sagaState struct {
	exec      models.SagaExecution
	cancelled bool
	logger    log.Logger
}

// OrderSagaWorkflow runs the order fulfilment saga: check inventory, price,
// redeem coupon, debit deposit, decrement stock and wait for dispatch.
// A failing step rolls back every mutation made before it. The workflow
// itself never fails; callers read the phase and reason of the result.
func OrderSagaWorkflow(ctx workflow.Context, req models.SagaRequest) (models.SagaExecution, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	logger.Info("OrderSagaWorkflow started", "execution_id", info.WorkflowExecution.ID, "product_id", req.Intent.ProductID, "user_id", req.Intent.UserID)

	now := workflow.Now(ctx)
	s := &sagaState{
		exec: models.SagaExecution{
			ExecutionID: info.WorkflowExecution.ID,
			Intent:      req.Intent,
			Steps:       []models.StepResult{},
			Phase:       models.PhaseRunning,
			StartedAt:   now,
			UpdatedAt:   now,
		},
		logger: logger,
	}

	// Setup query handler for saga status
	err := workflow.SetQueryHandler(ctx, QueryStatus, func() (models.SagaExecution, error) {
		return s.exec, nil
	})
	if err != nil {
		return s.exec, fmt.Errorf("failed to set query handler: %w", err)
	}

	cancelChan := workflow.GetSignalChannel(ctx, SignalCancel)
	workflow.Go(ctx, func(gCtx workflow.Context) {
		for {
			var reason string
			cancelChan.Receive(gCtx, &reason)
			if s.exec.Phase.Terminal() {
				logger.Info("Cancel ignored, saga already finished", "phase", s.exec.Phase)
				continue
			}
			s.cancelled = true
			logger.Info("Saga cancellation requested", "phase", s.exec.Phase, "reason", reason)
		}
	})

	if err := req.Intent.Validate(); err != nil {
		s.fail(ctx, req, "", failure.Outcome{Class: failure.Fatal, Reason: models.ReasonInvalidOrder, Message: err.Error()})
		return s.exec, nil
	}

	// Activity options with retry policy
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    1 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var act *activities.Activities
	intent := req.Intent
	id := s.exec.ExecutionID

	// Step 1: Check inventory
	var product models.Product
	if o := s.execute(ctx, models.StepCheckInventory, act.CheckInventory, &product, intent); o != nil {
		s.fail(ctx, req, models.StepCheckInventory, *o)
		return s.exec, nil
	}
	s.commit(ctx, models.StepCheckInventory, product)

	// Step 2: Price order
	var bill models.Bill
	if o := s.execute(ctx, models.StepPriceOrder, act.PriceOrder, &bill, product, intent.Quantity); o != nil {
		s.fail(ctx, req, models.StepPriceOrder, *o)
		return s.exec, nil
	}
	s.commit(ctx, models.StepPriceOrder, bill)

	if s.cancelled {
		s.cancel(ctx, req)
		return s.exec, nil
	}

	// Step 3: Redeem coupon. Like every mutating step, its compensation is
	// recorded before the step runs so that a write whose acknowledgement
	// was lost is still undone.
	couponReq := models.CouponRequest{OpID: opID(id, models.StepRedeemCoupon), UserID: intent.UserID, Total: bill.Total}
	s.pending(ctx, models.StepRedeemCoupon, &models.Compensation{
		Step:        models.StepRedeemCoupon,
		Key:         intent.UserID,
		ForwardOpID: couponReq.OpID,
		OpID:        opID(id, "RestoreCoupon"),
	})
	var redemption models.Redemption
	if o := s.execute(ctx, models.StepRedeemCoupon, act.RedeemCoupon, &redemption, couponReq); o != nil {
		s.fail(ctx, req, models.StepRedeemCoupon, *o)
		return s.exec, nil
	}
	s.commit(ctx, models.StepRedeemCoupon, redemption).Compensation.Amount = redemption.Redeemed

	if s.cancelled {
		s.cancel(ctx, req)
		return s.exec, nil
	}

	// Step 4: Debit deposit
	depositReq := models.DepositRequest{OpID: opID(id, models.StepDebitDeposit), UserID: intent.UserID, Amount: redemption.Payable}
	s.pending(ctx, models.StepDebitDeposit, &models.Compensation{
		Step:        models.StepDebitDeposit,
		Key:         intent.UserID,
		Amount:      redemption.Payable,
		ForwardOpID: depositReq.OpID,
		OpID:        opID(id, "RestoreDeposit"),
	})
	var debit models.Debit
	if o := s.execute(ctx, models.StepDebitDeposit, act.DebitDeposit, &debit, depositReq); o != nil {
		s.fail(ctx, req, models.StepDebitDeposit, *o)
		return s.exec, nil
	}
	s.commit(ctx, models.StepDebitDeposit, debit)

	if s.cancelled {
		s.cancel(ctx, req)
		return s.exec, nil
	}

	// Step 5: Decrement stock and suspend until the courier dispatch outcome arrives
	stockReq := models.StockRequest{
		ExecutionID: id,
		OpID:        opID(id, models.StepDecrementStock),
		ProductID:   intent.ProductID,
		Quantity:    intent.Quantity,
	}
	s.pending(ctx, models.StepDecrementStock, &models.Compensation{
		Step:        models.StepDecrementStock,
		Key:         intent.ProductID,
		Amount:      intent.Quantity,
		ForwardOpID: stockReq.OpID,
		OpID:        opID(id, "RestoreStock"),
	})
	s.setPhase(ctx, models.PhaseSuspended)

	dispatchTimeout := req.DispatchTimeout
	if dispatchTimeout <= 0 {
		dispatchTimeout = DefaultDispatchTimeout
	}
	dispatchOptions := activityOptions
	dispatchOptions.StartToCloseTimeout = dispatchTimeout
	dispatchCtx := workflow.WithActivityOptions(ctx, dispatchOptions)

	var receipt models.DispatchReceipt
	if o := s.execute(dispatchCtx, models.StepDecrementStock, act.DecrementStock, &receipt, stockReq); o != nil {
		s.fail(ctx, req, models.StepDecrementStock, *o)
		return s.exec, nil
	}
	s.setPhase(ctx, models.PhaseRunning)
	s.commit(ctx, models.StepDecrementStock, receipt)
	s.exec.Courier = receipt.Courier

	if s.cancelled {
		s.cancel(ctx, req)
		return s.exec, nil
	}

	s.setPhase(ctx, models.PhaseCompleted)
	logger.Info("OrderSagaWorkflow completed successfully", "execution_id", id, "courier", receipt.Courier)
	return s.exec, nil
}

// execute runs one forward step and decodes its failure, if any.
func (s *sagaState) execute(ctx workflow.Context, step models.StepName, activity interface{}, result interface{}, args ...interface{}) *failure.Outcome {
	s.logger.Info("Executing step", "step", step)
	err := workflow.ExecuteActivity(ctx, activity, args...).Get(ctx, result)
	if err == nil {
		return nil
	}
	o := failure.FromActivityError(err, step)
	s.logger.Error("Step failed", "step", step, "class", o.Class.String(), "reason", o.Reason, "error", err)
	return &o
}

// pending records a mutating step before it runs.
func (s *sagaState) pending(ctx workflow.Context, step models.StepName, comp *models.Compensation) {
	s.exec.Steps = append(s.exec.Steps, models.StepResult{Step: step, Compensation: comp})
	s.exec.UpdatedAt = workflow.Now(ctx)
}

// commit marks step as committed with its output, adding a result if
// pending did not already create one.
func (s *sagaState) commit(ctx workflow.Context, step models.StepName, output interface{}) *models.StepResult {
	raw, err := json.Marshal(output)
	if err != nil {
		s.logger.Warn("Failed to encode step output", "step", step, "error", err)
	}
	s.exec.UpdatedAt = workflow.Now(ctx)
	st, ok := s.exec.Step(step)
	if !ok {
		s.exec.Steps = append(s.exec.Steps, models.StepResult{Step: step})
		st = &s.exec.Steps[len(s.exec.Steps)-1]
	}
	st.Committed = true
	st.Output = raw
	return st
}

func (s *sagaState) setPhase(ctx workflow.Context, phase models.Phase) {
	s.logger.Info("Saga phase changed", "from", s.exec.Phase, "to", phase)
	s.exec.Phase = phase
	s.exec.UpdatedAt = workflow.Now(ctx)
}

// fail records why step failed, rolls back whatever was mutated and
// settles the terminal phase.
func (s *sagaState) fail(ctx workflow.Context, req models.SagaRequest, step models.StepName, o failure.Outcome) {
	s.exec.FailedStep = step
	s.exec.Error = o.Message

	switch o.Class {
	case failure.BusinessRuleViolation:
		// The store rejects a rule violation before writing, and a replay of
		// an applied operation never reports one, so only earlier steps
		// need undoing.
		if st, ok := s.exec.Step(step); ok && !st.Committed {
			st.Compensation = nil
		}
	case failure.Fatal:
		if s.exec.Mutated() {
			s.logger.Warn("Fatal failure after ledger writes", "step", step, "reason", o.Reason)
		}
	default:
		// Retries ran out without an answer; the write may have landed, so
		// the pending compensation stays.
	}
	s.abort(ctx, req, o.Reason)
}

func (s *sagaState) cancel(ctx workflow.Context, req models.SagaRequest) {
	s.logger.Info("Cancelling saga", "execution_id", s.exec.ExecutionID, "mutated", s.exec.Mutated())
	s.abort(ctx, req, models.ReasonCancelled)
}

func (s *sagaState) abort(ctx workflow.Context, req models.SagaRequest, reason models.ReasonCode) {
	if !s.exec.Mutated() {
		s.exec.Reason = reason
		s.setPhase(ctx, models.PhaseAborted)
		return
	}

	attempts := req.CompensationAttempts
	if attempts <= 0 {
		attempts = DefaultCompensationAttempts
	}
	if ok := s.compensate(ctx, attempts); !ok {
		s.exec.Reason = models.ReasonManualIntervention
		s.exec.Cause = reason
		s.setPhase(ctx, models.PhaseAbortedManualIntervention)
		return
	}
	s.exec.Reason = reason
	s.setPhase(ctx, models.PhaseAborted)
}

func opID(executionID string, step models.StepName) string {
	return executionID + "/" + string(step)
}
