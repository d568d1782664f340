package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"order-saga/failure"
	"order-saga/ledger"
	"order-saga/models"
	"order-saga/queue"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/log"
)

// Activities contains the forward steps of the order saga and their compensations
type Activities struct {
	ledger        *ledger.Ledger
	producer      queue.Producer
	dispatchTopic string
}

// NewActivities creates a new Activities instance
func NewActivities(l *ledger.Ledger, producer queue.Producer, dispatchTopic string) *Activities {
	return &Activities{
		ledger:        l,
		producer:      producer,
		dispatchTopic: dispatchTopic,
	}
}

// CheckInventory verifies the product exists and holds enough stock. It does not reserve anything.
func (a *Activities) CheckInventory(ctx context.Context, intent models.OrderIntent) (models.Product, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Checking inventory", "product_id", intent.ProductID, "quantity", intent.Quantity)

	product, err := a.ledger.Product(ctx, intent.ProductID)
	if err != nil {
		return models.Product{}, failure.ToActivityError(productError(intent.ProductID, err))
	}

	if product.AvailableQty < intent.Quantity {
		return models.Product{}, failure.ToActivityError(fmt.Errorf("%w: %s has %d, %d requested",
			failure.ErrOutOfStock, intent.ProductID, product.AvailableQty, intent.Quantity))
	}

	logger.Info("Inventory available", "product_id", product.ProductID, "available_qty", product.AvailableQty)
	return product, nil
}

// PriceOrder computes the order total from the product price
func (a *Activities) PriceOrder(ctx context.Context, product models.Product, quantity int64) (models.Bill, error) {
	if quantity <= 0 {
		return models.Bill{}, failure.ToActivityError(fmt.Errorf("%w: quantity must be positive, got %d", models.ErrInvalidOrder, quantity))
	}
	bill := models.Bill{Total: product.Price * quantity}
	activity.GetLogger(ctx).Info("Order priced", "product_id", product.ProductID, "total", bill.Total)
	return bill, nil
}

// RedeemCoupon zeroes the user's coupon against the bill and records what it held.
func (a *Activities) RedeemCoupon(ctx context.Context, req models.CouponRequest) (models.Redemption, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Redeeming coupon", "user_id", req.UserID, "total", req.Total)

	account, err := a.ledger.Account(ctx, req.UserID)
	if err != nil {
		return models.Redemption{}, failure.ToActivityError(accountError(req.UserID, err))
	}

	if account.Coupon > req.Total {
		return models.Redemption{}, failure.ToActivityError(fmt.Errorf("%w: coupon %d exceeds total %d",
			failure.ErrCouponExceedsTotal, account.Coupon, req.Total))
	}

	prior, err := a.ledger.ZeroCoupon(ctx, req.OpID, req.UserID, account.Coupon)
	if err != nil {
		return models.Redemption{}, failure.ToActivityError(accountError(req.UserID, err))
	}

	redemption := models.Redemption{
		Total:    req.Total,
		Redeemed: prior,
		Payable:  req.Total - prior,
	}
	logger.Info("Coupon redeemed", "user_id", req.UserID, "redeemed", redemption.Redeemed, "payable", redemption.Payable)
	return redemption, nil
}

// DebitDeposit takes the payable amount from the user's deposit
func (a *Activities) DebitDeposit(ctx context.Context, req models.DepositRequest) (models.Debit, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Debiting deposit", "user_id", req.UserID, "amount", req.Amount)

	account, _, err := a.ledger.AdjustDeposit(ctx, req.OpID, "", req.UserID, -req.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrPreconditionFailed) {
			err = fmt.Errorf("%w: %w", failure.ErrInsufficientDeposit, err)
		}
		return models.Debit{}, failure.ToActivityError(accountError(req.UserID, err))
	}

	logger.Info("Deposit debited", "user_id", req.UserID, "balance", account.Deposit)
	return models.Debit{Amount: req.Amount, Balance: account.Deposit}, nil
}

// DecrementStock takes the quantity out of stock, hands a dispatch request
// to the courier channel and leaves the activity pending. The bridge
// completes it when the dispatch outcome arrives.
func (a *Activities) DecrementStock(ctx context.Context, req models.StockRequest) (models.DispatchReceipt, error) {
	logger := activity.GetLogger(ctx)
	info := activity.GetInfo(ctx)

	if err := a.decrementAndDispatch(ctx, logger, info.TaskToken, req); err != nil {
		return models.DispatchReceipt{}, failure.ToActivityError(err)
	}

	logger.Info("Waiting for courier dispatch", "execution_id", req.ExecutionID, "attempt", info.Attempt)
	return models.DispatchReceipt{}, activity.ErrResultPending
}

func (a *Activities) decrementAndDispatch(ctx context.Context, logger log.Logger, taskToken []byte, req models.StockRequest) error {
	logger.Info("Decrementing stock", "product_id", req.ProductID, "quantity", req.Quantity)

	product, applied, err := a.ledger.AdjustStock(ctx, req.OpID, "", req.ProductID, -req.Quantity)
	if err != nil {
		if errors.Is(err, ledger.ErrPreconditionFailed) {
			err = fmt.Errorf("%w: %w", failure.ErrOutOfStock, err)
		}
		return productError(req.ProductID, err)
	}
	logger.Info("Stock decremented", "product_id", req.ProductID, "available_qty", product.AvailableQty, "applied", applied)

	token := models.ContinuationToken{
		ExecutionID:   req.ExecutionID,
		Step:          models.StepDecrementStock,
		CorrelationID: uuid.NewString(),
		TaskToken:     taskToken,
	}
	if err := token.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(models.DispatchRequest{
		ExecutionID: req.ExecutionID,
		Token:       token,
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch request: %w", err)
	}

	if err := a.producer.Publish(ctx, a.dispatchTopic, queue.Message{Key: req.ExecutionID, Value: payload}); err != nil {
		return fmt.Errorf("publish to %s: %w: %w", a.dispatchTopic, failure.ErrDispatchUnavailable, err)
	}

	logger.Info("Dispatch requested", "execution_id", req.ExecutionID, "correlation_id", token.CorrelationID)
	return nil
}

func productError(productID string, err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: %s", failure.ErrProductNotFound, productID)
	}
	return err
}

func accountError(userID string, err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: %s", failure.ErrAccountNotFound, userID)
	}
	return err
}
