package inventory

import (
	"context"
	"errors"
	"fmt"
)

// One ledger record per (product, variant); variantID is empty for
// non-variant products. available and reserved never go negative and are only
// moved by the four operations below; direct writes are not part of the
// contract, including admin stock changes, which go through Adjust so they
// leave an audit trail.
//
// Reserve/Commit/Release are idempotent per (orderID, product, variant):
// each reservation carries a status and the state-changing operations are
// conditional on it, so a duplicated trigger is a no-op instead of a double
// adjustment.

type StockLevel struct {
	ProductID string
	VariantID string
	Available int
	Reserved  int
}

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

type Reservation struct {
	OrderID   string
	ProductID string
	VariantID string
	Qty       int
	Status    ReservationStatus
}

// InsufficientStockError reports the precise shortfall so callers can tell
// the customer how many units actually remain.
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product=%s variant=%s: requested %d, available %d",
		e.ProductID, e.VariantID, e.Requested, e.Available)
}

var (
	ErrInvalidQty     = errors.New("quantity must be positive")
	ErrRecordNotFound = errors.New("inventory record not found")
	ErrAdjustBelow    = errors.New("adjustment would drive available negative")
)

type Ledger interface {
	// TryReserve atomically checks available >= qty and moves qty from
	// available to reserved. Safe under unlimited concurrent callers for the
	// same record. Returns *InsufficientStockError on shortfall.
	TryReserve(ctx context.Context, orderID, productID, variantID string, qty int) (Reservation, error)

	// Commit consumes a reservation: reserved -= qty, available unchanged.
	Commit(ctx context.Context, orderID, productID, variantID string, qty int) error

	// Release returns a reservation to available. Clamps rather than going
	// negative, logging when it does (a clamp signals an upstream bug).
	Release(ctx context.Context, orderID, productID, variantID string, qty int) error

	// Adjust applies an audited administrative delta to available.
	Adjust(ctx context.Context, productID, variantID string, delta int, actor, reason string) error

	Stock(ctx context.Context, productID, variantID string) (StockLevel, error)
}

// Key joins product and variant into the ledger record address.
func Key(productID, variantID string) string {
	return productID + "|" + variantID
}
