package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtaufanr/go-merch-checkout/internal/catalog"
	"github.com/mtaufanr/go-merch-checkout/internal/inventory"
	"github.com/mtaufanr/go-merch-checkout/internal/orders"
	"github.com/mtaufanr/go-merch-checkout/internal/pricing"
)

type fixture struct {
	orch  *Orchestrator
	cat   *catalog.MemReader
	stock *inventory.MemStore
	store *orders.MemStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := catalog.NewMemReader()
	promos := catalog.NewMemPromos()
	stock := inventory.NewMemStore()
	store := orders.NewMemStore()
	orch := &Orchestrator{
		Calc:           &pricing.Calculator{Catalog: cat, Promos: promos, Stock: stock, Rules: pricing.DefaultRules()},
		Ledger:         stock,
		Orders:         store,
		Gateway:        FakeGateway{},
		GatewayTimeout: time.Second,
		Currency:       "USD",
	}
	return &fixture{orch: orch, cat: cat, stock: stock, store: store}
}

func (f *fixture) seed(id, price string, avail int) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		panic(err)
	}
	f.cat.PutProduct(catalog.Product{ID: id, Name: "Tee " + id, Active: true, BasePrice: d})
	f.stock.Seed(id, "", avail)
}

func beginReq(lines ...pricing.CartLine) BeginRequest {
	return BeginRequest{
		Lines:    lines,
		Customer: orders.Customer{Name: "Dana", Email: "dana@example.com"},
		ShippingAddress: orders.Address{
			Line1: "1 Main St", City: "Austin", Region: "TX", Country: "US", PostalCode: "78701",
		},
		ShippingMethod: "standard",
	}
}

func TestBeginCreatesPendingOrder(t *testing.T) {
	f := newFixture(t)
	f.seed("p1", "20.00", 5)

	h, err := f.orch.Begin(context.Background(), beginReq(pricing.CartLine{ProductID: "p1", Qty: 2}))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if h.PaymentIntentRef == "" || h.ClientSecret == "" {
		t.Fatalf("handle missing intent: %+v", h)
	}

	o, err := f.store.GetByID(context.Background(), h.OrderID)
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if o.Status != orders.StatusPending || o.PaymentStatus != orders.PayPending {
		t.Fatalf("order state = %s/%s", o.Status, o.PaymentStatus)
	}
	if o.PaymentIntentRef != h.PaymentIntentRef {
		t.Fatalf("intent ref not stored")
	}
	// 40.00 + 6.25% TX tax (2.50) + 5.99 shipping
	if o.TotalCents != 4849 {
		t.Fatalf("total cents = %d", o.TotalCents)
	}

	lvl, _ := f.stock.Stock(context.Background(), "p1", "")
	if lvl.Available != 3 || lvl.Reserved != 2 {
		t.Fatalf("stock after begin = %+v", lvl)
	}
}

func TestBeginSnapshotsPrices(t *testing.T) {
	f := newFixture(t)
	f.seed("p1", "20.00", 5)

	h, err := f.orch.Begin(context.Background(), beginReq(pricing.CartLine{ProductID: "p1", Qty: 1}))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	// catalog price change after checkout must not touch the stored order
	f.cat.PutProduct(catalog.Product{ID: "p1", Name: "Tee p1", Active: true, BasePrice: decimal.NewFromInt(99)})

	o, _ := f.store.GetByID(context.Background(), h.OrderID)
	if len(o.Items) != 1 || o.Items[0].UnitPriceCents != 2000 {
		t.Fatalf("snapshot items = %+v", o.Items)
	}
}

func TestConcurrentBeginLastUnit(t *testing.T) {
	f := newFixture(t)
	f.seed("p1", "20.00", 1)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.Begin(context.Background(), beginReq(pricing.CartLine{ProductID: "p1", Qty: 1}))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var oks, shortfalls int
	for err := range results {
		if err == nil {
			oks++
			continue
		}
		// the loser fails either at reservation time or, if the winner was
		// fast enough, already at the pricing stock check
		var ise *inventory.InsufficientStockError
		var ve *pricing.ValidationError
		switch {
		case errors.As(err, &ise):
			if ise.Available != 0 {
				t.Fatalf("loser saw available=%d", ise.Available)
			}
			shortfalls++
		case errors.As(err, &ve):
			shortfalls++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if oks != 1 || shortfalls != 1 {
		t.Fatalf("got %d successes, %d shortfalls", oks, shortfalls)
	}
}

// racingLedger drains a product's stock just before its reservation, standing
// in for a competing checkout that lands between the quote and the reserve.
type racingLedger struct {
	inventory.Ledger
	drain string
}

func (l *racingLedger) TryReserve(ctx context.Context, orderID, productID, variantID string, qty int) (inventory.Reservation, error) {
	if productID == l.drain {
		return inventory.Reservation{}, &inventory.InsufficientStockError{
			ProductID: productID, VariantID: variantID, Requested: qty, Available: 0,
		}
	}
	return l.Ledger.TryReserve(ctx, orderID, productID, variantID, qty)
}

func TestBeginRollsBackPartialReservation(t *testing.T) {
	f := newFixture(t)
	f.seed("p1", "10.00", 5)
	f.seed("p2", "10.00", 3)
	f.orch.Ledger = &racingLedger{Ledger: f.stock, drain: "p2"}

	_, err := f.orch.Begin(context.Background(), beginReq(
		pricing.CartLine{ProductID: "p1", Qty: 2},
		pricing.CartLine{ProductID: "p2", Qty: 3},
	))
	var ise *inventory.InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("want shortfall, got %v", err)
	}

	lvl, _ := f.stock.Stock(context.Background(), "p1", "")
	if lvl.Available != 5 || lvl.Reserved != 0 {
		t.Fatalf("p1 not rolled back: %+v", lvl)
	}
}

type downGateway struct{}

func (downGateway) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (PaymentIntent, error) {
	return PaymentIntent{}, errors.New("connection refused")
}

func TestGatewayFailureKeepsReservation(t *testing.T) {
	f := newFixture(t)
	f.seed("p1", "20.00", 5)
	f.orch.Gateway = downGateway{}

	_, err := f.orch.Begin(context.Background(), beginReq(pricing.CartLine{ProductID: "p1", Qty: 2}))
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("want gateway error, got %v", err)
	}

	// reservation stays so retry-payment can reuse the same pending order
	lvl, _ := f.stock.Stock(context.Background(), "p1", "")
	if lvl.Available != 3 || lvl.Reserved != 2 {
		t.Fatalf("reservation lost: %+v", lvl)
	}

	pending, _ := f.store.ListExpiredPending(context.Background(), time.Now().Add(time.Minute), 10)
	if len(pending) != 1 {
		t.Fatalf("expected one pending order, got %d", len(pending))
	}

	f.orch.Gateway = FakeGateway{}
	h, err := f.orch.RetryPayment(context.Background(), pending[0].ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h.PaymentIntentRef == "" {
		t.Fatalf("retry produced no intent")
	}
}

func TestRetryPaymentRejectsSettledOrder(t *testing.T) {
	f := newFixture(t)
	f.seed("p1", "20.00", 5)

	h, err := f.orch.Begin(context.Background(), beginReq(pricing.CartLine{ProductID: "p1", Qty: 1}))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, _ = f.store.Update(context.Background(), h.OrderID, func(cur *orders.Order) error {
		return cur.Apply(orders.Transition{
			Status:        orders.ToStatus(orders.StatusConfirmed),
			PaymentStatus: orders.ToPayment(orders.PayPaid),
		}, time.Now())
	})

	var ite *orders.InvalidTransitionError
	if _, err := f.orch.RetryPayment(context.Background(), h.OrderID); !errors.As(err, &ite) {
		t.Fatalf("want invalid transition, got %v", err)
	}
}

func TestExternalIDReplaysWithoutReservingTwice(t *testing.T) {
	f := newFixture(t)
	f.seed("p1", "20.00", 5)

	req := beginReq(pricing.CartLine{ProductID: "p1", Qty: 2})
	req.ExternalID = "cart-42"

	first, err := f.orch.Begin(context.Background(), req)
	if err != nil {
		t.Fatalf("first begin: %v", err)
	}
	second, err := f.orch.Begin(context.Background(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Idempotent || second.OrderID != first.OrderID {
		t.Fatalf("replay produced new order: %+v vs %+v", second, first)
	}

	lvl, _ := f.stock.Stock(context.Background(), "p1", "")
	if lvl.Reserved != 2 {
		t.Fatalf("replay reserved again: %+v", lvl)
	}
}

func TestBeginRequiresEmail(t *testing.T) {
	f := newFixture(t)
	f.seed("p1", "20.00", 5)

	req := beginReq(pricing.CartLine{ProductID: "p1", Qty: 1})
	req.Customer.Email = ""

	var ve *pricing.ValidationError
	if _, err := f.orch.Begin(context.Background(), req); !errors.As(err, &ve) {
		t.Fatalf("want validation error, got %v", err)
	}
}
