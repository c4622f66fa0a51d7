package orders

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("order not found")

// Store persists orders and linearizes per-order mutation: Update takes a
// lock on the order (row lock in postgres, per-order mutex in memory) before
// running the mutation, so two concurrent webhook deliveries cannot both
// believe they are the one to advance the state machine. Orders are never
// deleted, only cancelled.
type Store interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	GetByExternalID(ctx context.Context, externalID string) (*Order, error)
	GetByPaymentIntent(ctx context.Context, ref string) (*Order, error)

	// Update loads the order under its lock, runs mutate, and persists the
	// result when mutate returns nil. mutate errors abort the write.
	Update(ctx context.Context, id string, mutate func(o *Order) error) (*Order, error)

	// ApplyEvent is Update plus a provider event id recorded in the same
	// transaction as the mutation: either both land or neither does. When the
	// id is already on record the mutation is skipped and applied is false;
	// the returned order reflects current state either way.
	ApplyEvent(ctx context.Context, orderID, eventID string, mutate func(o *Order) error) (o *Order, applied bool, err error)

	// ListExpiredPending returns orders still (pending, pending-payment)
	// created before the cutoff, for the expiry sweep.
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)
}
