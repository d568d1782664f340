package ledger

import (
	"context"

	"order-saga/models"
)

// Ledger is the typed adapter the step library uses. It never caches a
// record: every read goes to the store.
type Ledger struct {
	store Store
}

// New wraps store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Product reads a product record.
func (l *Ledger) Product(ctx context.Context, productID string) (models.Product, error) {
	rec, err := l.store.Get(ctx, Products, productID)
	if err != nil {
		return models.Product{}, err
	}
	return toProduct(productID, rec), nil
}

// Account reads an account record.
func (l *Ledger) Account(ctx context.Context, userID string) (models.Account, error) {
	rec, err := l.store.Get(ctx, Accounts, userID)
	if err != nil {
		return models.Account{}, err
	}
	return toAccount(userID, rec), nil
}

// SeedProduct creates or replaces a product record.
func (l *Ledger) SeedProduct(ctx context.Context, p models.Product) error {
	return l.store.Put(ctx, Products, p.ProductID, Record{
		FieldAvailableQty: p.AvailableQty,
		FieldPrice:        p.Price,
	})
}

// SeedAccount creates or replaces an account record.
func (l *Ledger) SeedAccount(ctx context.Context, a models.Account) error {
	return l.store.Put(ctx, Accounts, a.UserID, Record{
		FieldCoupon:  a.Coupon,
		FieldDeposit: a.Deposit,
	})
}

// ZeroCoupon sets the coupon to zero if it still holds expected and returns
// the value it held before. A replay returns the originally recorded value.
func (l *Ledger) ZeroCoupon(ctx context.Context, opID, userID string, expected int64) (int64, error) {
	zero := int64(0)
	res, err := l.store.ConditionalUpdate(ctx, Accounts, userID, Update{
		OpID:     opID,
		Field:    FieldCoupon,
		Set:      &zero,
		IfEquals: &expected,
	})
	if err != nil {
		return 0, err
	}
	return res.Before, nil
}

// RestoreCoupon gives back the coupon zeroed by forwardOpID, using the
// value recorded when it was applied. The coupon must still be zero; if
// anything else changed it since, the restore reports ErrConflict. A
// redemption that found the coupon already at zero has nothing to restore.
func (l *Ledger) RestoreCoupon(ctx context.Context, opID, forwardOpID, userID string) (bool, error) {
	zero := int64(0)
	res, err := l.store.ConditionalUpdate(ctx, Accounts, userID, Update{
		OpID:     opID,
		Field:    FieldCoupon,
		IfEquals: &zero,
		After:    forwardOpID,
		Revert:   true,
	})
	return res.Applied, err
}

// AdjustDeposit adds delta to the deposit; the deposit never goes negative.
// When after is set the adjustment only applies if that operation was applied.
func (l *Ledger) AdjustDeposit(ctx context.Context, opID, after, userID string, delta int64) (models.Account, bool, error) {
	res, err := l.store.ConditionalUpdate(ctx, Accounts, userID, Update{
		OpID:  opID,
		Field: FieldDeposit,
		Delta: delta,
		After: after,
	})
	if err != nil {
		return models.Account{}, false, err
	}
	return toAccount(userID, res.Record), res.Applied, nil
}

// AdjustStock adds delta to the available quantity; it never goes negative.
func (l *Ledger) AdjustStock(ctx context.Context, opID, after, productID string, delta int64) (models.Product, bool, error) {
	res, err := l.store.ConditionalUpdate(ctx, Products, productID, Update{
		OpID:  opID,
		Field: FieldAvailableQty,
		Delta: delta,
		After: after,
	})
	if err != nil {
		return models.Product{}, false, err
	}
	return toProduct(productID, res.Record), res.Applied, nil
}

func toProduct(id string, rec Record) models.Product {
	return models.Product{
		ProductID:    id,
		AvailableQty: rec[FieldAvailableQty],
		Price:        rec[FieldPrice],
	}
}

func toAccount(id string, rec Record) models.Account {
	return models.Account{
		UserID:  id,
		Coupon:  rec[FieldCoupon],
		Deposit: rec[FieldDeposit],
	}
}
