package activities

import (
	"context"

	"order-saga/failure"
	"order-saga/models"

	"go.temporal.io/sdk/activity"
)

// Compensations are guarded by the forward operation id, so they only
// invert something that was actually applied, and only once.

// RestoreCoupon sets the coupon back to the value the store recorded when
// RedeemCoupon zeroed it. A redemption that found the coupon already zero
// has nothing to give back.
func (a *Activities) RestoreCoupon(ctx context.Context, c models.Compensation) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Restoring coupon", "user_id", c.Key, "forward_op", c.ForwardOpID)

	applied, err := a.ledger.RestoreCoupon(ctx, c.OpID, c.ForwardOpID, c.Key)
	if err != nil {
		return failure.ToActivityError(err)
	}

	logger.Info("Coupon restored", "user_id", c.Key, "applied", applied)
	return nil
}

// RestoreDeposit refunds the amount recorded by DebitDeposit
func (a *Activities) RestoreDeposit(ctx context.Context, c models.Compensation) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Restoring deposit", "user_id", c.Key, "amount", c.Amount)

	account, applied, err := a.ledger.AdjustDeposit(ctx, c.OpID, c.ForwardOpID, c.Key, c.Amount)
	if err != nil {
		return failure.ToActivityError(err)
	}

	logger.Info("Deposit restored", "user_id", c.Key, "balance", account.Deposit, "applied", applied)
	return nil
}

// RestoreStock puts back the quantity recorded by DecrementStock
func (a *Activities) RestoreStock(ctx context.Context, c models.Compensation) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Restoring stock", "product_id", c.Key, "quantity", c.Amount)

	product, applied, err := a.ledger.AdjustStock(ctx, c.OpID, c.ForwardOpID, c.Key, c.Amount)
	if err != nil {
		return failure.ToActivityError(err)
	}

	logger.Info("Stock restored", "product_id", c.Key, "available_qty", product.AvailableQty, "applied", applied)
	return nil
}
