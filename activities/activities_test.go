package activities

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"order-saga/failure"
	"order-saga/ledger"
	"order-saga/models"
	"order-saga/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

const testDispatchTopic = "dispatch.requests"

type failingProducer struct{}

func (failingProducer) Publish(ctx context.Context, topic string, msg queue.Message) error {
	return errors.New("broker down")
}

func newTestActivities(t *testing.T, producer queue.Producer) (*Activities, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, l.SeedProduct(ctx, models.Product{ProductID: "P1", AvailableQty: 5, Price: 100}))
	require.NoError(t, l.SeedAccount(ctx, models.Account{UserID: "U1", Coupon: 20, Deposit: 500}))
	require.NoError(t, l.SeedAccount(ctx, models.Account{UserID: "U2", Coupon: 500, Deposit: 1000}))
	return NewActivities(l, producer, testDispatchTopic), l
}

func requireReason(t *testing.T, err error, reason models.ReasonCode, nonRetryable bool) {
	t.Helper()
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, string(reason), appErr.Type())
	assert.Equal(t, nonRetryable, appErr.NonRetryable())
}

func TestCheckInventory(t *testing.T) {
	tests := []struct {
		name       string
		intent     models.OrderIntent
		wantReason models.ReasonCode
	}{
		{
			name:   "Success - Enough Stock",
			intent: models.OrderIntent{ProductID: "P1", Quantity: 5, UserID: "U1"},
		},
		{
			name:       "Failure - Out Of Stock",
			intent:     models.OrderIntent{ProductID: "P1", Quantity: 6, UserID: "U1"},
			wantReason: models.ReasonOutOfStock,
		},
		{
			name:       "Failure - Unknown Product",
			intent:     models.OrderIntent{ProductID: "P404", Quantity: 1, UserID: "U1"},
			wantReason: models.ReasonProductNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestActivityEnvironment()
			act, _ := newTestActivities(t, queue.NewMemoryBroker())
			env.RegisterActivity(act)

			val, err := env.ExecuteActivity(act.CheckInventory, tt.intent)
			if tt.wantReason != "" {
				requireReason(t, err, tt.wantReason, true)
				return
			}
			require.NoError(t, err)

			var product models.Product
			require.NoError(t, val.Get(&product))
			assert.Equal(t, int64(5), product.AvailableQty)
			assert.Equal(t, int64(100), product.Price)
		})
	}
}

func TestPriceOrder(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	act, _ := newTestActivities(t, queue.NewMemoryBroker())
	env.RegisterActivity(act)

	val, err := env.ExecuteActivity(act.PriceOrder, models.Product{ProductID: "P1", Price: 100}, int64(3))
	require.NoError(t, err)

	var bill models.Bill
	require.NoError(t, val.Get(&bill))
	assert.Equal(t, int64(300), bill.Total)
}

func TestRedeemCoupon(t *testing.T) {
	tests := []struct {
		name         string
		req          models.CouponRequest
		wantReason   models.ReasonCode
		wantRedeemed int64
		wantPayable  int64
	}{
		{
			name:         "Success - Coupon Below Total",
			req:          models.CouponRequest{OpID: "e1/RedeemCoupon", UserID: "U1", Total: 100},
			wantRedeemed: 20,
			wantPayable:  80,
		},
		{
			name:       "Failure - Coupon Exceeds Total",
			req:        models.CouponRequest{OpID: "e2/RedeemCoupon", UserID: "U2", Total: 100},
			wantReason: models.ReasonCouponExceedsTotal,
		},
		{
			name:       "Failure - Unknown Account",
			req:        models.CouponRequest{OpID: "e3/RedeemCoupon", UserID: "U404", Total: 100},
			wantReason: models.ReasonAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestActivityEnvironment()
			act, l := newTestActivities(t, queue.NewMemoryBroker())
			env.RegisterActivity(act)

			val, err := env.ExecuteActivity(act.RedeemCoupon, tt.req)
			if tt.wantReason != "" {
				requireReason(t, err, tt.wantReason, true)
				return
			}
			require.NoError(t, err)

			var redemption models.Redemption
			require.NoError(t, val.Get(&redemption))
			assert.Equal(t, tt.wantRedeemed, redemption.Redeemed)
			assert.Equal(t, tt.wantPayable, redemption.Payable)

			account, err := l.Account(context.Background(), tt.req.UserID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), account.Coupon)
		})
	}
}

func TestRedeemCoupon_RetryReportsOriginalCoupon(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	act, _ := newTestActivities(t, queue.NewMemoryBroker())
	env.RegisterActivity(act)

	req := models.CouponRequest{OpID: "e1/RedeemCoupon", UserID: "U1", Total: 100}
	for i := 0; i < 2; i++ {
		val, err := env.ExecuteActivity(act.RedeemCoupon, req)
		require.NoError(t, err)

		var redemption models.Redemption
		require.NoError(t, val.Get(&redemption))
		assert.Equal(t, int64(20), redemption.Redeemed)
	}
}

func TestDebitDeposit(t *testing.T) {
	tests := []struct {
		name        string
		req         models.DepositRequest
		wantReason  models.ReasonCode
		wantBalance int64
	}{
		{
			name:        "Success - Exact Balance",
			req:         models.DepositRequest{OpID: "e1/DebitDeposit", UserID: "U1", Amount: 500},
			wantBalance: 0,
		},
		{
			name:        "Success - Nothing Payable",
			req:         models.DepositRequest{OpID: "e2/DebitDeposit", UserID: "U1", Amount: 0},
			wantBalance: 500,
		},
		{
			name:       "Failure - Insufficient Deposit",
			req:        models.DepositRequest{OpID: "e3/DebitDeposit", UserID: "U1", Amount: 501},
			wantReason: models.ReasonInsufficientDeposit,
		},
		{
			name:       "Failure - Unknown Account",
			req:        models.DepositRequest{OpID: "e4/DebitDeposit", UserID: "U404", Amount: 1},
			wantReason: models.ReasonAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestActivityEnvironment()
			act, _ := newTestActivities(t, queue.NewMemoryBroker())
			env.RegisterActivity(act)

			val, err := env.ExecuteActivity(act.DebitDeposit, tt.req)
			if tt.wantReason != "" {
				requireReason(t, err, tt.wantReason, true)
				return
			}
			require.NoError(t, err)

			var debit models.Debit
			require.NoError(t, val.Get(&debit))
			assert.Equal(t, tt.req.Amount, debit.Amount)
			assert.Equal(t, tt.wantBalance, debit.Balance)
		})
	}
}

func TestDecrementAndDispatch_PublishesToken(t *testing.T) {
	broker := queue.NewMemoryBroker()
	act, l := newTestActivities(t, broker)
	ctx := context.Background()
	logger := tlog.NewStructuredLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := models.StockRequest{ExecutionID: "e1", OpID: "e1/DecrementStock", ProductID: "P1", Quantity: 2}
	require.NoError(t, act.decrementAndDispatch(ctx, logger, []byte("task-token"), req))

	product, err := l.Product(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), product.AvailableQty)

	msg, err := broker.Consumer(testDispatchTopic).Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", msg.Key)

	var dispatch models.DispatchRequest
	require.NoError(t, json.Unmarshal(msg.Value, &dispatch))
	assert.Equal(t, "e1", dispatch.ExecutionID)
	assert.Equal(t, int64(2), dispatch.Quantity)
	assert.Equal(t, models.StepDecrementStock, dispatch.Token.Step)
	assert.Equal(t, []byte("task-token"), dispatch.Token.TaskToken)
	assert.NotEmpty(t, dispatch.Token.CorrelationID)

	// A retried attempt republishes but never decrements twice.
	require.NoError(t, act.decrementAndDispatch(ctx, logger, []byte("task-token-2"), req))
	product, err = l.Product(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), product.AvailableQty)
}

func TestDecrementAndDispatch_Failures(t *testing.T) {
	ctx := context.Background()
	logger := tlog.NewStructuredLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("out of stock at write", func(t *testing.T) {
		act, _ := newTestActivities(t, queue.NewMemoryBroker())
		err := act.decrementAndDispatch(ctx, logger, []byte("tt"),
			models.StockRequest{ExecutionID: "e1", OpID: "e1/DecrementStock", ProductID: "P1", Quantity: 6})
		assert.ErrorIs(t, err, failure.ErrOutOfStock)
		assert.Equal(t, failure.BusinessRuleViolation, failure.Classify(err))
	})

	t.Run("unknown product", func(t *testing.T) {
		act, _ := newTestActivities(t, queue.NewMemoryBroker())
		err := act.decrementAndDispatch(ctx, logger, []byte("tt"),
			models.StockRequest{ExecutionID: "e1", OpID: "e1/DecrementStock", ProductID: "P404", Quantity: 1})
		assert.ErrorIs(t, err, failure.ErrProductNotFound)
	})

	t.Run("dispatch channel down", func(t *testing.T) {
		act, l := newTestActivities(t, failingProducer{})
		err := act.decrementAndDispatch(ctx, logger, []byte("tt"),
			models.StockRequest{ExecutionID: "e1", OpID: "e1/DecrementStock", ProductID: "P1", Quantity: 1})
		assert.ErrorIs(t, err, failure.ErrDispatchUnavailable)
		assert.Equal(t, failure.Retryable, failure.Classify(err))

		// The decrement stays recorded so RestoreStock can find it.
		product, err := l.Product(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, int64(4), product.AvailableQty)
	})

	t.Run("missing task token", func(t *testing.T) {
		act, _ := newTestActivities(t, queue.NewMemoryBroker())
		err := act.decrementAndDispatch(ctx, logger, nil,
			models.StockRequest{ExecutionID: "e1", OpID: "e1/DecrementStock", ProductID: "P1", Quantity: 1})
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})
}

func TestCompensations(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	act, l := newTestActivities(t, queue.NewMemoryBroker())
	env.RegisterActivity(act)
	ctx := context.Background()

	_, err := env.ExecuteActivity(act.RedeemCoupon, models.CouponRequest{OpID: "e1/RedeemCoupon", UserID: "U1", Total: 100})
	require.NoError(t, err)
	_, err = env.ExecuteActivity(act.DebitDeposit, models.DepositRequest{OpID: "e1/DebitDeposit", UserID: "U1", Amount: 80})
	require.NoError(t, err)

	comps := []struct {
		fn   any
		comp models.Compensation
	}{
		{act.RestoreDeposit, models.Compensation{Step: models.StepDebitDeposit, Key: "U1", Amount: 80, ForwardOpID: "e1/DebitDeposit", OpID: "e1/RestoreDeposit"}},
		{act.RestoreCoupon, models.Compensation{Step: models.StepRedeemCoupon, Key: "U1", Amount: 20, ForwardOpID: "e1/RedeemCoupon", OpID: "e1/RestoreCoupon"}},
		{act.RestoreStock, models.Compensation{Step: models.StepDecrementStock, Key: "P1", Amount: 2, ForwardOpID: "e1/DecrementStock", OpID: "e1/RestoreStock"}},
	}

	// Running every compensation twice must leave the same state as once.
	for i := 0; i < 2; i++ {
		for _, c := range comps {
			_, err := env.ExecuteActivity(c.fn, c.comp)
			require.NoError(t, err)
		}
	}

	account, err := l.Account(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), account.Coupon)
	assert.Equal(t, int64(500), account.Deposit)

	// Stock was never decremented, so the restore was skipped.
	product, err := l.Product(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), product.AvailableQty)
}

func TestRestoreCoupon_SecondSagaDoesNotClobberFirst(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	act, l := newTestActivities(t, queue.NewMemoryBroker())
	env.RegisterActivity(act)
	ctx := context.Background()

	val, err := env.ExecuteActivity(act.RedeemCoupon, models.CouponRequest{OpID: "a/RedeemCoupon", UserID: "U1", Total: 100})
	require.NoError(t, err)
	var first models.Redemption
	require.NoError(t, val.Get(&first))
	assert.Equal(t, int64(20), first.Redeemed)

	val, err = env.ExecuteActivity(act.RedeemCoupon, models.CouponRequest{OpID: "b/RedeemCoupon", UserID: "U1", Total: 100})
	require.NoError(t, err)
	var second models.Redemption
	require.NoError(t, val.Get(&second))
	assert.Equal(t, int64(0), second.Redeemed)

	_, err = env.ExecuteActivity(act.RestoreCoupon, models.Compensation{Step: models.StepRedeemCoupon, Key: "U1", ForwardOpID: "a/RedeemCoupon", OpID: "a/RestoreCoupon"})
	require.NoError(t, err)
	_, err = env.ExecuteActivity(act.RestoreCoupon, models.Compensation{Step: models.StepRedeemCoupon, Key: "U1", ForwardOpID: "b/RedeemCoupon", OpID: "b/RestoreCoupon"})
	require.NoError(t, err)

	account, err := l.Account(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), account.Coupon)
}
