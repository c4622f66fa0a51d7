package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtaufanr/go-merch-checkout/internal/inventory"
	"github.com/mtaufanr/go-merch-checkout/internal/metrics"
	"github.com/mtaufanr/go-merch-checkout/internal/orders"
)

// Sweeper bounds the "reserved but never paid" window: orders still
// (pending, pending-payment) past the expiry get their reservation released
// and move to (cancelled, failed). This is the only cleanup path for checkout
// attempts whose payment event never arrives.
type Sweeper struct {
	Orders    orders.Store
	Ledger    inventory.Ledger
	Expiry    time.Duration
	BatchSize int
	Metrics   *metrics.CoreMetrics // optional
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				slog.Error("expiry sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("expiry sweep released orders", "count", n)
			}
		}
	}
}

// SweepOnce expires one batch and reports how many orders it cancelled.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	batch := s.BatchSize
	if batch <= 0 {
		batch = 100
	}
	cutoff := time.Now().Add(-s.Expiry)
	expired, err := s.Orders.ListExpiredPending(ctx, cutoff, batch)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, o := range expired {
		expiredHere := false
		updated, err := s.Orders.Update(ctx, o.ID, func(cur *orders.Order) error {
			// the lock may reveal a payment landed since the listing
			if cur.Status != orders.StatusPending || cur.PaymentStatus != orders.PayPending {
				return nil
			}
			expiredHere = true
			return cur.Apply(orders.Transition{
				Status:        orders.ToStatus(orders.StatusCancelled),
				PaymentStatus: orders.ToPayment(orders.PayFailed),
			}, time.Now())
		})
		if err != nil {
			slog.Error("sweep transition failed", "order_id", o.ID, "error", err)
			continue
		}
		if !expiredHere {
			continue // raced with a payment event
		}
		for _, it := range updated.Items {
			if err := s.Ledger.Release(ctx, updated.ID, it.ProductID, it.VariantID, it.Qty); err != nil {
				slog.Error("sweep release failed", "order_id", updated.ID,
					"product_id", it.ProductID, "variant_id", it.VariantID, "error", err)
			}
		}
		swept++
		if s.Metrics != nil {
			s.Metrics.SweptOrders.Inc()
		}
	}
	return swept, nil
}
