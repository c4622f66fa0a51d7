package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mtaufanr/go-merch-checkout/internal/inventory"
	"github.com/mtaufanr/go-merch-checkout/internal/money"
	"github.com/mtaufanr/go-merch-checkout/internal/orders"
	"github.com/mtaufanr/go-merch-checkout/internal/pricing"
	"github.com/mtaufanr/go-merch-checkout/internal/redisx"
)

type BeginRequest struct {
	// ExternalID makes Begin idempotent: a repeat with the same id returns
	// the already-created order instead of reserving twice.
	ExternalID      string             `json:"external_id,omitempty"`
	Lines           []pricing.CartLine `json:"lines"`
	Customer        orders.Customer    `json:"customer"`
	ShippingAddress orders.Address     `json:"shipping_address"`
	ShippingMethod  string             `json:"shipping_method"`
	PromoCode       string             `json:"promo_code,omitempty"`
}

// Handle is what the caller needs to complete authorization client-side.
// Completion is asynchronous; the payment event processor finishes the job.
type Handle struct {
	OrderID          string `json:"order_id"`
	OrderNumber      string `json:"order_number"`
	PaymentIntentRef string `json:"payment_intent_ref"`
	ClientSecret     string `json:"client_secret,omitempty"`
	TotalCents       int64  `json:"total_cents"`
	Idempotent       bool   `json:"idempotent"`
}

type Orchestrator struct {
	Calc           *pricing.Calculator
	Ledger         inventory.Ledger
	Orders         orders.Store
	Gateway        Gateway
	Redis          *redis.Client // optional: idempotency shortcut + handle cache
	GatewayTimeout time.Duration
	Currency       string
}

// Quote prices the cart without touching inventory or creating anything.
func (x *Orchestrator) Quote(ctx context.Context, lines []pricing.CartLine, dest pricing.Destination, method, promoCode string) (pricing.Totals, error) {
	return x.Calc.Calculate(ctx, lines, dest, method, promoCode)
}

// Begin turns a cart into a pending order: price, reserve all-or-nothing,
// snapshot the order, request a payment intent. Any failure between reserving
// and reaching the gateway releases the reservation before returning; a
// gateway failure keeps it, since the attempt can be retried against the
// same order until the expiry sweep.
func (x *Orchestrator) Begin(ctx context.Context, req BeginRequest) (Handle, error) {
	if req.Customer.Email == "" {
		return Handle{}, &pricing.ValidationError{Line: -1, Msg: "customer email is required"}
	}

	if h, ok := x.replayByExternalID(ctx, req.ExternalID); ok {
		return h, nil
	}

	dest := pricing.Destination{Country: req.ShippingAddress.Country, Region: req.ShippingAddress.Region}
	totals, err := x.Calc.Calculate(ctx, req.Lines, dest, req.ShippingMethod, req.PromoCode)
	if err != nil {
		return Handle{}, err
	}

	orderID := uuid.NewString()

	// all-or-nothing reservation: on any shortfall, everything reserved so
	// far in this attempt goes straight back
	reserved := make([]pricing.PricedLine, 0, len(totals.Lines))
	for _, ln := range totals.Lines {
		if _, err := x.Ledger.TryReserve(ctx, orderID, ln.ProductID, ln.VariantID, ln.Qty); err != nil {
			x.releaseLines(ctx, orderID, reserved)
			return Handle{}, err
		}
		reserved = append(reserved, ln)
	}

	now := time.Now().UTC()
	o := &orders.Order{
		ID:              orderID,
		Number:          orders.NewNumber(now),
		ExternalID:      req.ExternalID,
		Customer:        req.Customer,
		ShippingAddress: req.ShippingAddress,
		ShippingMethod:  req.ShippingMethod,
		Status:          orders.StatusPending,
		PaymentStatus:   orders.PayPending,
		SubtotalCents:   money.Cents(totals.Subtotal),
		TaxCents:        money.Cents(totals.Tax),
		ShippingCents:   money.Cents(totals.Shipping),
		DiscountCents:   money.Cents(totals.Discount),
		TotalCents:      money.Cents(totals.Total),
		Currency:        totals.Currency,
		Items:           snapshotItems(totals.Lines),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := x.Orders.Create(ctx, o); err != nil {
		x.releaseLines(ctx, orderID, reserved)
		return Handle{}, fmt.Errorf("create order: %w", err)
	}

	intent, err := x.createIntent(ctx, o)
	if err != nil {
		// reservation stays; the order can be retried or swept
		return Handle{}, err
	}

	if _, err := x.Orders.Update(ctx, o.ID, func(cur *orders.Order) error {
		cur.PaymentIntentRef = intent.Ref
		cur.UpdatedAt = time.Now().UTC()
		return nil
	}); err != nil {
		slog.Error("store payment intent ref failed", "order_id", o.ID, "intent", intent.Ref, "error", err)
		return Handle{}, fmt.Errorf("store payment intent: %w", err)
	}

	h := Handle{
		OrderID:          o.ID,
		OrderNumber:      o.Number,
		PaymentIntentRef: intent.Ref,
		ClientSecret:     intent.ClientSecret,
		TotalCents:       o.TotalCents,
	}
	x.cacheHandle(ctx, req.ExternalID, h)
	x.cacheStatus(ctx, o)
	return h, nil
}

// RetryPayment requests a fresh payment intent for an order whose original
// gateway call failed. The order must still be awaiting payment.
func (x *Orchestrator) RetryPayment(ctx context.Context, orderID string) (Handle, error) {
	o, err := x.Orders.GetByID(ctx, orderID)
	if err != nil {
		return Handle{}, err
	}
	if o.Status != orders.StatusPending || o.PaymentStatus != orders.PayPending {
		return Handle{}, &orders.InvalidTransitionError{
			From: string(o.Status), To: string(orders.StatusPending),
			Allowed: []string{string(orders.StatusPending)},
		}
	}

	intent, err := x.createIntent(ctx, o)
	if err != nil {
		return Handle{}, err
	}
	if _, err := x.Orders.Update(ctx, o.ID, func(cur *orders.Order) error {
		cur.PaymentIntentRef = intent.Ref
		cur.UpdatedAt = time.Now().UTC()
		return nil
	}); err != nil {
		return Handle{}, fmt.Errorf("store payment intent: %w", err)
	}
	return Handle{
		OrderID:          o.ID,
		OrderNumber:      o.Number,
		PaymentIntentRef: intent.Ref,
		ClientSecret:     intent.ClientSecret,
		TotalCents:       o.TotalCents,
	}, nil
}

func (x *Orchestrator) createIntent(ctx context.Context, o *orders.Order) (PaymentIntent, error) {
	timeout := x.GatewayTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	intent, err := x.Gateway.CreatePaymentIntent(gctx, o.TotalCents, o.Currency, map[string]string{
		"order_id":     o.ID,
		"order_number": o.Number,
	})
	if err != nil {
		slog.Warn("payment gateway call failed", "order_id", o.ID, "error", err)
		return PaymentIntent{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return intent, nil
}

func (x *Orchestrator) releaseLines(ctx context.Context, orderID string, lines []pricing.PricedLine) {
	for _, ln := range lines {
		if err := x.Ledger.Release(ctx, orderID, ln.ProductID, ln.VariantID, ln.Qty); err != nil {
			slog.Error("rollback release failed", "order_id", orderID,
				"product_id", ln.ProductID, "variant_id", ln.VariantID, "error", err)
		}
	}
}

func snapshotItems(lines []pricing.PricedLine) []orders.OrderItem {
	items := make([]orders.OrderItem, 0, len(lines))
	for _, ln := range lines {
		items = append(items, orders.OrderItem{
			ProductID:      ln.ProductID,
			VariantID:      ln.VariantID,
			Name:           ln.Name,
			Attributes:     ln.Attributes,
			Qty:            ln.Qty,
			UnitPriceCents: money.Cents(ln.UnitPrice),
			LineTotalCents: money.Cents(ln.LineTotal),
		})
	}
	return items
}

// replayByExternalID serves the idempotency shortcut: redis first for the
// full handle, order store as the durable fallback (without a client secret,
// which is never persisted).
func (x *Orchestrator) replayByExternalID(ctx context.Context, externalID string) (Handle, bool) {
	if externalID == "" {
		return Handle{}, false
	}
	if x.Redis != nil {
		key := fmt.Sprintf(redisx.KeyIdemCheckout, externalID)
		if raw, err := x.Redis.Get(ctx, key).Result(); err == nil && raw != "" {
			var h Handle
			if json.Unmarshal([]byte(raw), &h) == nil {
				h.Idempotent = true
				return h, true
			}
		}
	}
	o, err := x.Orders.GetByExternalID(ctx, externalID)
	if err != nil {
		return Handle{}, false
	}
	return Handle{
		OrderID:          o.ID,
		OrderNumber:      o.Number,
		PaymentIntentRef: o.PaymentIntentRef,
		TotalCents:       o.TotalCents,
		Idempotent:       true,
	}, true
}

func (x *Orchestrator) cacheHandle(ctx context.Context, externalID string, h Handle) {
	if x.Redis == nil || externalID == "" {
		return
	}
	key := fmt.Sprintf(redisx.KeyIdemCheckout, externalID)
	b, _ := json.Marshal(h)
	_ = x.Redis.Set(ctx, key, b, redisx.TTLIdempotency).Err()
}

func (x *Orchestrator) cacheStatus(ctx context.Context, o *orders.Order) {
	if x.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	b, _ := json.Marshal(map[string]string{
		"status":         string(o.Status),
		"payment_status": string(o.PaymentStatus),
	})
	_ = x.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}
