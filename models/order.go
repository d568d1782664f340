package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOrder is returned when an order intent fails validation.
var ErrInvalidOrder = errors.New("invalid order")

// OrderIntent is the immutable input of a saga
type OrderIntent struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UserID    string `json:"user_id"`
}

// Validate rejects intents that must never reach a saga step
func (o OrderIntent) Validate() error {
	if strings.TrimSpace(o.ProductID) == "" {
		return fmt.Errorf("%w: product_id is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(o.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidOrder)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, o.Quantity)
	}
	return nil
}

// Product represents an inventory record
type Product struct {
	ProductID    string `json:"product_id"`
	AvailableQty int64  `json:"available_qty"`
	Price        int64  `json:"price"`
}

// Account represents a user account record
type Account struct {
	UserID  string `json:"user_id"`
	Coupon  int64  `json:"coupon"`
	Deposit int64  `json:"deposit"`
}

// Bill is the output of pricing an order
type Bill struct {
	Total int64 `json:"total"`
}

// Redemption is the output of redeeming a coupon against a bill
type Redemption struct {
	Total    int64 `json:"total"`
	Redeemed int64 `json:"redeemed"`
	Payable  int64 `json:"payable"`
}

// Debit is the output of debiting the payable amount from a deposit
type Debit struct {
	Amount  int64 `json:"amount"`
	Balance int64 `json:"balance"`
}
