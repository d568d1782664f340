// Package ledger is the adapter over the inventory and account stores.
//
// Every mutation is a conditional delta (or set) tagged with an operation
// id. A store records each applied operation id together with the value
// the field held before it, so replaying an operation is a no-op and a
// compensation can require that its forward operation really happened.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"order-saga/failure"
)

var (
	// ErrNotFound is returned when the record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrPreconditionFailed is returned when the resulting value would fall below the floor.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConflict is returned when the record changed underneath an IfEquals update.
	ErrConflict = fmt.Errorf("concurrent update conflict: %w", failure.ErrTransient)
	// ErrUnavailable wraps backend failures that may succeed on retry.
	ErrUnavailable = fmt.Errorf("ledger store unavailable: %w", failure.ErrTransient)
	// ErrInvalidUpdate is returned for malformed updates.
	ErrInvalidUpdate = errors.New("invalid update")
)

// Table names a record family
type Table string

const (
	Products Table = "products"
	Accounts Table = "accounts"
)

// Field names a numeric attribute of a record
type Field string

const (
	FieldAvailableQty Field = "available_qty"
	FieldPrice        Field = "price"
	FieldCoupon       Field = "coupon"
	FieldDeposit      Field = "deposit"
)

var tableFields = map[Table][]Field{
	Products: {FieldAvailableQty, FieldPrice},
	Accounts: {FieldCoupon, FieldDeposit},
}

// Record holds the numeric fields of a product or account.
type Record map[Field]int64

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Update is a conditional mutation of a single field.
type Update struct {
	// OpID makes the update apply at most once.
	OpID  string
	Field Field
	// Delta is added to the current value unless Set is given.
	Delta int64
	Set   *int64
	// Floor is the lowest value the field may hold after the update.
	Floor int64
	// IfEquals requires the current value to match.
	IfEquals *int64
	// After requires that the named operation was applied to the same record.
	After string
	// Revert sets the field back to the value it held before After. It
	// needs IfEquals, the value After wrote, and is skipped when After
	// found the field already holding that value.
	Revert bool
}

func (u Update) validate(table Table) error {
	if u.OpID == "" {
		return fmt.Errorf("%w: op id is required", ErrInvalidUpdate)
	}
	if u.Revert && (u.After == "" || u.IfEquals == nil) {
		return fmt.Errorf("%w: revert needs after and if-equals", ErrInvalidUpdate)
	}
	for _, f := range tableFields[table] {
		if f == u.Field {
			return nil
		}
	}
	return fmt.Errorf("%w: field %q does not belong to %s", ErrInvalidUpdate, u.Field, table)
}

// nothingToRevert reports whether After left the field as it found it.
func (u Update) nothingToRevert(afterBefore int64) bool {
	return u.Revert && afterBefore == *u.IfEquals
}

// next computes the new field value or reports why the update cannot apply.
// afterBefore is the value recorded before the After operation.
func (u Update) next(cur, afterBefore int64) (int64, error) {
	if u.IfEquals != nil && cur != *u.IfEquals {
		return 0, fmt.Errorf("%s is %d, expected %d: %w", u.Field, cur, *u.IfEquals, ErrConflict)
	}
	next := cur + u.Delta
	switch {
	case u.Revert:
		next = afterBefore
	case u.Set != nil:
		next = *u.Set
	}
	if next < u.Floor {
		return 0, fmt.Errorf("%s would become %d: %w", u.Field, next, ErrPreconditionFailed)
	}
	return next, nil
}

// Result describes the outcome of ConditionalUpdate
type Result struct {
	Record Record
	// Applied is false when the operation had already been applied or its
	// After operation never was.
	Applied bool
	// Before is the field value prior to the first application of OpID.
	Before int64
}

// Store is a key-value backend holding products and accounts
type Store interface {
	Get(ctx context.Context, table Table, key string) (Record, error)
	Put(ctx context.Context, table Table, key string, rec Record) error
	ConditionalUpdate(ctx context.Context, table Table, key string, u Update) (Result, error)
}

type plan struct {
	skip   bool
	next   int64
	before int64
}

// evaluate decides an update against the current record. applied looks up
// operation ids already recorded for this record.
func evaluate(rec Record, u Update, applied func(opID string) (int64, bool)) (plan, error) {
	if before, ok := applied(u.OpID); ok {
		return plan{skip: true, before: before}, nil
	}
	cur := rec[u.Field]
	var afterBefore int64
	if u.After != "" {
		b, ok := applied(u.After)
		if !ok {
			return plan{skip: true, before: cur}, nil
		}
		afterBefore = b
	}
	if u.nothingToRevert(afterBefore) {
		return plan{skip: true, before: cur}, nil
	}
	next, err := u.next(cur, afterBefore)
	if err != nil {
		return plan{}, err
	}
	return plan{next: next, before: cur}, nil
}
