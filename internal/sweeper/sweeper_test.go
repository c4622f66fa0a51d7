package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mtaufanr/go-merch-checkout/internal/inventory"
	"github.com/mtaufanr/go-merch-checkout/internal/orders"
)

func seedPending(t *testing.T, store *orders.MemStore, stock *inventory.MemStore, productID string, qty int, age time.Duration) *orders.Order {
	t.Helper()
	ctx := context.Background()

	id := uuid.NewString()
	if _, err := stock.TryReserve(ctx, id, productID, "", qty); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	now := time.Now().UTC()
	o := &orders.Order{
		ID:            id,
		Number:        orders.NewNumber(now),
		Customer:      orders.Customer{Name: "Dana", Email: "dana@example.com"},
		Status:        orders.StatusPending,
		PaymentStatus: orders.PayPending,
		Items:         []orders.OrderItem{{ProductID: productID, Qty: qty}},
		CreatedAt:     now.Add(-age),
		UpdatedAt:     now.Add(-age),
	}
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	return o
}

func TestSweepExpiresStalePendingOrders(t *testing.T) {
	ctx := context.Background()
	store := orders.NewMemStore()
	stock := inventory.NewMemStore()
	stock.Seed("p1", "", 10)

	stale := seedPending(t, store, stock, "p1", 3, time.Hour)
	fresh := seedPending(t, store, stock, "p1", 2, time.Minute)

	s := &Sweeper{Orders: store, Ledger: stock, Expiry: 30 * time.Minute}
	n, err := s.SweepOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("swept %d, err = %v", n, err)
	}

	got, _ := store.GetByID(ctx, stale.ID)
	if got.Status != orders.StatusCancelled || got.PaymentStatus != orders.PayFailed {
		t.Fatalf("stale order = %s/%s", got.Status, got.PaymentStatus)
	}
	got, _ = store.GetByID(ctx, fresh.ID)
	if got.Status != orders.StatusPending {
		t.Fatalf("fresh order swept: %s", got.Status)
	}

	// stale reservation of 3 back, fresh reservation of 2 still held
	lvl, _ := stock.Stock(ctx, "p1", "")
	if lvl.Available != 8 || lvl.Reserved != 2 {
		t.Fatalf("stock after sweep = %+v", lvl)
	}
}

func TestSweepSkipsOrdersPaidSinceListing(t *testing.T) {
	ctx := context.Background()
	store := orders.NewMemStore()
	stock := inventory.NewMemStore()
	stock.Seed("p1", "", 10)

	o := seedPending(t, store, stock, "p1", 3, time.Hour)
	// a payment event lands between the listing and the sweep's locked update;
	// the per-order lock makes the sweep observe the new state and back off
	if _, err := store.Update(ctx, o.ID, func(cur *orders.Order) error {
		return cur.Apply(orders.Transition{
			Status:        orders.ToStatus(orders.StatusConfirmed),
			PaymentStatus: orders.ToPayment(orders.PayPaid),
		}, time.Now())
	}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	s := &Sweeper{Orders: store, Ledger: stock, Expiry: 30 * time.Minute}
	n, err := s.SweepOnce(ctx)
	if err != nil || n != 0 {
		t.Fatalf("swept %d, err = %v", n, err)
	}

	got, _ := store.GetByID(ctx, o.ID)
	if got.Status != orders.StatusConfirmed {
		t.Fatalf("paid order swept: %s", got.Status)
	}
	lvl, _ := stock.Stock(ctx, "p1", "")
	if lvl.Reserved != 3 {
		t.Fatalf("paid order's reservation released: %+v", lvl)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := orders.NewMemStore()
	stock := inventory.NewMemStore()
	stock.Seed("p1", "", 10)
	seedPending(t, store, stock, "p1", 3, time.Hour)

	s := &Sweeper{Orders: store, Ledger: stock, Expiry: 30 * time.Minute}
	if n, _ := s.SweepOnce(ctx); n != 1 {
		t.Fatalf("first sweep released %d", n)
	}
	if n, _ := s.SweepOnce(ctx); n != 0 {
		t.Fatalf("second sweep released %d", n)
	}
	lvl, _ := stock.Stock(ctx, "p1", "")
	if lvl.Available != 10 || lvl.Reserved != 0 {
		t.Fatalf("stock drifted: %+v", lvl)
	}
}

func TestSweepRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	store := orders.NewMemStore()
	stock := inventory.NewMemStore()
	stock.Seed("p1", "", 100)
	for i := 0; i < 5; i++ {
		seedPending(t, store, stock, "p1", 1, time.Hour)
	}

	s := &Sweeper{Orders: store, Ledger: stock, Expiry: 30 * time.Minute, BatchSize: 2}
	if n, _ := s.SweepOnce(ctx); n != 2 {
		t.Fatalf("first batch = %d", n)
	}
	if n, _ := s.SweepOnce(ctx); n != 2 {
		t.Fatalf("second batch = %d", n)
	}
	if n, _ := s.SweepOnce(ctx); n != 1 {
		t.Fatalf("final batch = %d", n)
	}
}
