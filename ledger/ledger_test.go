package ledger

import (
	"context"
	"testing"

	"order-saga/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeededLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	l := New(store)
	ctx := context.Background()
	require.NoError(t, l.SeedProduct(ctx, models.Product{ProductID: "P1", AvailableQty: 5, Price: 100}))
	require.NoError(t, l.SeedAccount(ctx, models.Account{UserID: "U1", Coupon: 20, Deposit: 500}))
	return l, store
}

func TestLedger_ZeroCouponReplayKeepsPriorValue(t *testing.T) {
	l, _ := newSeededLedger(t)
	ctx := context.Background()

	prior, err := l.ZeroCoupon(ctx, "exec-1/RedeemCoupon", "U1", 20)
	require.NoError(t, err)
	assert.Equal(t, int64(20), prior)

	// The coupon now reads 0; a retried step must still learn the original value.
	prior, err = l.ZeroCoupon(ctx, "exec-1/RedeemCoupon", "U1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), prior)

	acct, err := l.Account(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Coupon)
}

func TestLedger_RestoreCouponSetsRecordedValue(t *testing.T) {
	l, _ := newSeededLedger(t)
	ctx := context.Background()

	_, err := l.ZeroCoupon(ctx, "exec-1/RedeemCoupon", "U1", 20)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := l.RestoreCoupon(ctx, "exec-1/RestoreCoupon", "exec-1/RedeemCoupon", "U1")
		require.NoError(t, err)
	}

	acct, err := l.Account(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), acct.Coupon)
}

func TestLedger_RestoreCouponAcrossOverlappingSagas(t *testing.T) {
	tests := []struct {
		name  string
		order []string
	}{
		{name: "first saga restores first", order: []string{"exec-a", "exec-b"}},
		{name: "second saga restores first", order: []string{"exec-b", "exec-a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newSeededLedger(t)
			ctx := context.Background()

			// exec-b reads the coupon after exec-a zeroed it.
			priorA, err := l.ZeroCoupon(ctx, "exec-a/RedeemCoupon", "U1", 20)
			require.NoError(t, err)
			priorB, err := l.ZeroCoupon(ctx, "exec-b/RedeemCoupon", "U1", 0)
			require.NoError(t, err)
			assert.Equal(t, int64(20), priorA)
			assert.Equal(t, int64(0), priorB)

			for _, exec := range tt.order {
				_, err := l.RestoreCoupon(ctx, exec+"/RestoreCoupon", exec+"/RedeemCoupon", "U1")
				require.NoError(t, err, exec)
			}

			acct, err := l.Account(ctx, "U1")
			require.NoError(t, err)
			assert.Equal(t, int64(20), acct.Coupon)
		})
	}
}

func TestLedger_RestoreCouponConflictsWithLaterChange(t *testing.T) {
	l, _ := newSeededLedger(t)
	ctx := context.Background()

	_, err := l.ZeroCoupon(ctx, "exec-1/RedeemCoupon", "U1", 20)
	require.NoError(t, err)
	require.NoError(t, l.SeedAccount(ctx, models.Account{UserID: "U1", Coupon: 5, Deposit: 500}))

	_, err = l.RestoreCoupon(ctx, "exec-1/RestoreCoupon", "exec-1/RedeemCoupon", "U1")
	assert.ErrorIs(t, err, ErrConflict)

	acct, err := l.Account(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), acct.Coupon)
}

func TestLedger_RestoreWithoutForwardIsNoop(t *testing.T) {
	l, store := newSeededLedger(t)
	ctx := context.Background()
	writes := store.Writes()

	applied, err := l.RestoreCoupon(ctx, "exec-1/RestoreCoupon", "exec-1/RedeemCoupon", "U1")
	require.NoError(t, err)
	assert.False(t, applied)

	_, applied, err = l.AdjustStock(ctx, "exec-1/RestoreStock", "exec-1/DecrementStock", "P1", 3)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, writes, store.Writes())
}

func TestLedger_AdjustDepositNeverNegative(t *testing.T) {
	l, _ := newSeededLedger(t)
	ctx := context.Background()

	_, _, err := l.AdjustDeposit(ctx, "exec-1/DebitDeposit", "", "U1", -501)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	acct, applied, err := l.AdjustDeposit(ctx, "exec-2/DebitDeposit", "", "U1", -500)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(0), acct.Deposit)
}

func TestLedger_MissingRecords(t *testing.T) {
	l, _ := newSeededLedger(t)
	ctx := context.Background()

	_, err := l.Product(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.Account(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
