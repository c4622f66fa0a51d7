package inventory

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type record struct {
	available int
	reserved  int
}

type adjustment struct {
	ProductID string
	VariantID string
	Delta     int
	Actor     string
	Reason    string
	At        time.Time
}

// MemStore is the in-memory ledger used by tests and local development. A
// single mutex serializes every mutation, which makes the check-and-decrement
// in TryReserve atomic with respect to concurrent callers.
type MemStore struct {
	mu           sync.Mutex
	records      map[string]*record
	reservations map[string]*Reservation // keyed by orderID + "|" + Key(product, variant)
	adjustments  []adjustment
}

func NewMemStore() *MemStore {
	return &MemStore{
		records:      map[string]*record{},
		reservations: map[string]*Reservation{},
	}
}

// Seed sets the starting available count for a record. Test/dev setup only;
// runtime mutation goes through the ledger operations.
func (s *MemStore) Seed(productID, variantID string, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[Key(productID, variantID)] = &record{available: available}
}

func resKey(orderID, productID, variantID string) string {
	return orderID + "|" + Key(productID, variantID)
}

func (s *MemStore) TryReserve(ctx context.Context, orderID, productID, variantID string, qty int) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, ErrInvalidQty
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rk := resKey(orderID, productID, variantID)
	if existing, ok := s.reservations[rk]; ok && existing.Status != ReservationReleased {
		// retried trigger: the reservation is already applied
		return *existing, nil
	}

	rec, ok := s.records[Key(productID, variantID)]
	if !ok {
		return Reservation{}, ErrRecordNotFound
	}
	if rec.available < qty {
		return Reservation{}, &InsufficientStockError{
			ProductID: productID, VariantID: variantID,
			Requested: qty, Available: rec.available,
		}
	}
	rec.available -= qty
	rec.reserved += qty

	res := &Reservation{
		OrderID: orderID, ProductID: productID, VariantID: variantID,
		Qty: qty, Status: ReservationReserved,
	}
	s.reservations[rk] = res
	return *res, nil
}

func (s *MemStore) Commit(ctx context.Context, orderID, productID, variantID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQty
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[resKey(orderID, productID, variantID)]
	if !ok || res.Status != ReservationReserved {
		// already committed/released, or never reserved: duplicate trigger
		return nil
	}
	rec := s.records[Key(productID, variantID)]
	take := res.Qty
	if take > rec.reserved {
		slog.Warn("commit clamped to reserved count",
			"order_id", orderID, "product_id", productID, "variant_id", variantID,
			"reservation_qty", take, "reserved", rec.reserved)
		take = rec.reserved
	}
	rec.reserved -= take
	res.Status = ReservationCommitted
	return nil
}

func (s *MemStore) Release(ctx context.Context, orderID, productID, variantID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQty
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[resKey(orderID, productID, variantID)]
	if !ok || res.Status != ReservationReserved {
		return nil
	}
	rec := s.records[Key(productID, variantID)]
	back := qty
	if back > res.Qty {
		back = res.Qty
	}
	if back > rec.reserved {
		slog.Warn("release clamped to reserved count",
			"order_id", orderID, "product_id", productID, "variant_id", variantID,
			"requested", qty, "reserved", rec.reserved)
		back = rec.reserved
	}
	rec.reserved -= back
	rec.available += back
	res.Status = ReservationReleased
	return nil
}

func (s *MemStore) Adjust(ctx context.Context, productID, variantID string, delta int, actor, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[Key(productID, variantID)]
	if !ok {
		if delta < 0 {
			return ErrRecordNotFound
		}
		rec = &record{}
		s.records[Key(productID, variantID)] = rec
	}
	if rec.available+delta < 0 {
		return ErrAdjustBelow
	}
	rec.available += delta
	s.adjustments = append(s.adjustments, adjustment{
		ProductID: productID, VariantID: variantID,
		Delta: delta, Actor: actor, Reason: reason, At: time.Now().UTC(),
	})
	return nil
}

func (s *MemStore) Stock(ctx context.Context, productID, variantID string) (StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[Key(productID, variantID)]
	if !ok {
		return StockLevel{}, ErrRecordNotFound
	}
	return StockLevel{
		ProductID: productID, VariantID: variantID,
		Available: rec.available, Reserved: rec.reserved,
	}, nil
}
