package workflows

import (
	"time"

	"order-saga/activities"
	"order-saga/models"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

func compensationActivity(step models.StepName) interface{} {
	var act *activities.Activities
	switch step {
	case models.StepRedeemCoupon:
		return act.RestoreCoupon
	case models.StepDebitDeposit:
		return act.RestoreDeposit
	case models.StepDecrementStock:
		return act.RestoreStock
	}
	return nil
}

// compensate undoes recorded steps in reverse order. A compensation that
// exhausts its attempts is recorded and the chain carries on; the result
// reports whether every compensation succeeded.
func (s *sagaState) compensate(ctx workflow.Context, attempts int32) bool {
	s.setPhase(ctx, models.PhaseCompensating)

	// Compensations must finish even if the workflow itself is cancelled.
	compCtx, _ := workflow.NewDisconnectedContext(ctx)
	compCtx = workflow.WithActivityOptions(compCtx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    1 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    attempts,
		},
	})

	ok := true
	for i := len(s.exec.Steps) - 1; i >= 0; i-- {
		st := &s.exec.Steps[i]
		if st.Compensation == nil || st.Compensated {
			continue
		}
		fn := compensationActivity(st.Step)
		if fn == nil {
			continue
		}

		s.logger.Info("Compensating step", "step", st.Step, "key", st.Compensation.Key, "amount", st.Compensation.Amount)
		err := workflow.ExecuteActivity(compCtx, fn, *st.Compensation).Get(compCtx, nil)
		if err != nil {
			s.logger.Error("Compensation failed, manual intervention required", "step", st.Step, "error", err)
			st.CompensationError = err.Error()
			ok = false
			continue
		}
		st.Compensated = true
		s.exec.UpdatedAt = workflow.Now(ctx)
	}
	return ok
}
