package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/mtaufanr/go-merch-checkout/internal/inventory"
	kafkax "github.com/mtaufanr/go-merch-checkout/internal/kafka"
	"github.com/mtaufanr/go-merch-checkout/internal/metrics"
	"github.com/mtaufanr/go-merch-checkout/internal/notify"
	"github.com/mtaufanr/go-merch-checkout/internal/orders"
	"github.com/mtaufanr/go-merch-checkout/internal/redisx"
)

// Outcome of one event delivery. Everything except a malformed envelope is
// success to the sender: duplicates short-circuit, unknown correlations are
// dropped, and out-of-sequence events are rejected and logged for an
// operator, never retried.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeRejected  Outcome = "rejected"
	OutcomeLogged    Outcome = "logged"
)

// Processor is the single place allowed to finalize or roll back a
// reservation. Both intakes (HTTP webhook and the kafka consumer) feed it and
// share its idempotency record.
type Processor struct {
	Orders  orders.Store
	Ledger  inventory.Ledger
	Notify  notify.Dispatcher
	Redis   *redis.Client        // optional dedup fast path
	Metrics *metrics.CoreMetrics // optional
	Service string
}

func (p *Processor) HandleEvent(ctx context.Context, ev Event) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	out, err := p.handle(ctx, ev)
	if err == nil && p.Metrics != nil {
		p.Metrics.WebhookOutcomes.WithLabelValues(string(ev.Kind), string(out)).Inc()
	}
	return out, err
}

func (p *Processor) handle(ctx context.Context, ev Event) (Outcome, error) {
	o, err := p.Orders.GetByPaymentIntent(ctx, ev.PaymentIntentRef)
	if errors.Is(err, orders.ErrNotFound) {
		// may be a replay or another environment's intent
		slog.Warn("payment event with unknown correlation dropped",
			"event_id", ev.ID, "kind", ev.Kind, "payment_intent", ev.PaymentIntentRef)
		return OutcomeUnknown, nil
	}
	if err != nil {
		return "", err
	}

	if p.seenInRedis(ctx, ev.ID) {
		return OutcomeDuplicate, nil
	}

	switch ev.Kind {
	case KindSucceeded:
		return p.applySucceeded(ctx, o, ev)
	case KindFailed, KindCancelled:
		return p.applyFailed(ctx, o, ev)
	case KindRequiresAction:
		return p.applyRequiresAction(ctx, o, ev)
	case KindDisputeCreated:
		// handed to the operator workflow; no order mutation here
		slog.Warn("payment dispute opened, manual review required",
			"event_id", ev.ID, "order_id", o.ID, "order_number", o.Number,
			"payment_intent", ev.PaymentIntentRef)
		return OutcomeLogged, nil
	}
	return "", ErrMalformedEvent
}

func (p *Processor) applySucceeded(ctx context.Context, o *orders.Order, ev Event) (Outcome, error) {
	updated, applied, err := p.Orders.ApplyEvent(ctx, o.ID, ev.ID, func(cur *orders.Order) error {
		if cur.Status == orders.StatusCancelled {
			return &orders.InvalidTransitionError{
				From: string(cur.Status), To: string(orders.StatusConfirmed),
				Allowed: nil,
			}
		}
		tr := orders.Transition{PaymentStatus: orders.ToPayment(orders.PayPaid)}
		if cur.Status == orders.StatusPending {
			tr.Status = orders.ToStatus(orders.StatusConfirmed)
		}
		return cur.Apply(tr, time.Now())
	})
	if err != nil {
		return p.rejectIfInvalid(o, ev, err)
	}
	if !applied {
		// replayed event: the transition is already down, but the first
		// delivery may have died before the inventory commit went through
		if updated.PaymentStatus == orders.PayPaid {
			if err := p.commitItems(ctx, updated); err != nil {
				return "", err
			}
		}
		p.rememberInRedis(ctx, ev.ID)
		return OutcomeDuplicate, nil
	}

	if err := p.commitItems(ctx, updated); err != nil {
		return "", err
	}
	p.Notify.Dispatch(ctx, notify.Notification{
		Kind:        notify.KindConfirmation,
		OrderNumber: updated.Number,
		Recipient:   updated.Customer.Email,
		Payload:     map[string]any{"total_cents": updated.TotalCents, "currency": updated.Currency},
	})
	p.refreshStatusCache(ctx, updated)
	p.rememberInRedis(ctx, ev.ID)
	slog.Info("payment succeeded, order confirmed",
		"event_id", ev.ID, "order_id", updated.ID, "order_number", updated.Number)
	return OutcomeApplied, nil
}

func (p *Processor) applyFailed(ctx context.Context, o *orders.Order, ev Event) (Outcome, error) {
	updated, applied, err := p.Orders.ApplyEvent(ctx, o.ID, ev.ID, func(cur *orders.Order) error {
		tr := orders.Transition{}
		switch cur.PaymentStatus {
		case orders.PayPending, orders.PayRequiresAction:
			tr.PaymentStatus = orders.ToPayment(orders.PayFailed)
		case orders.PayFailed:
			// already terminal-failed, leave as is
		default:
			return &orders.InvalidTransitionError{
				From: string(cur.PaymentStatus), To: string(orders.PayFailed),
				Allowed: nil,
			}
		}
		if cur.Status == orders.StatusPending {
			tr.Status = orders.ToStatus(orders.StatusCancelled)
		}
		return cur.Apply(tr, time.Now())
	})
	if err != nil {
		return p.rejectIfInvalid(o, ev, err)
	}
	if !applied {
		if updated.PaymentStatus == orders.PayFailed {
			if err := p.releaseItems(ctx, updated); err != nil {
				return "", err
			}
		}
		p.rememberInRedis(ctx, ev.ID)
		return OutcomeDuplicate, nil
	}

	if err := p.releaseItems(ctx, updated); err != nil {
		return "", err
	}
	p.Notify.Dispatch(ctx, notify.Notification{
		Kind:        notify.KindFailure,
		OrderNumber: updated.Number,
		Recipient:   updated.Customer.Email,
		Payload:     map[string]any{"reason": string(ev.Kind)},
	})
	p.refreshStatusCache(ctx, updated)
	p.rememberInRedis(ctx, ev.ID)
	slog.Info("payment failed, reservation released",
		"event_id", ev.ID, "order_id", updated.ID, "order_number", updated.Number, "kind", ev.Kind)
	return OutcomeApplied, nil
}

func (p *Processor) applyRequiresAction(ctx context.Context, o *orders.Order, ev Event) (Outcome, error) {
	updated, applied, err := p.Orders.ApplyEvent(ctx, o.ID, ev.ID, func(cur *orders.Order) error {
		return cur.Apply(orders.Transition{
			PaymentStatus: orders.ToPayment(orders.PayRequiresAction),
		}, time.Now())
	})
	if err != nil {
		return p.rejectIfInvalid(o, ev, err)
	}
	if !applied {
		p.rememberInRedis(ctx, ev.ID)
		return OutcomeDuplicate, nil
	}
	p.refreshStatusCache(ctx, updated)
	p.rememberInRedis(ctx, ev.ID)
	slog.Info("payment requires customer action",
		"event_id", ev.ID, "order_id", o.ID, "order_number", o.Number)
	return OutcomeApplied, nil
}

func (p *Processor) commitItems(ctx context.Context, o *orders.Order) error {
	for _, it := range o.Items {
		if err := p.Ledger.Commit(ctx, o.ID, it.ProductID, it.VariantID, it.Qty); err != nil {
			return fmt.Errorf("commit inventory for order %s: %w", o.ID, err)
		}
	}
	return nil
}

func (p *Processor) releaseItems(ctx context.Context, o *orders.Order) error {
	for _, it := range o.Items {
		if err := p.Ledger.Release(ctx, o.ID, it.ProductID, it.VariantID, it.Qty); err != nil {
			return fmt.Errorf("release inventory for order %s: %w", o.ID, err)
		}
	}
	return nil
}

// refreshStatusCache overwrites the cached status entry so readers do not see
// the pre-event state for the remainder of the TTL.
func (p *Processor) refreshStatusCache(ctx context.Context, o *orders.Order) {
	if p.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	b, _ := json.Marshal(map[string]string{
		"status":         string(o.Status),
		"payment_status": string(o.PaymentStatus),
	})
	_ = p.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}

// rejectIfInvalid turns a state-machine violation into a logged rejection
// (success to the sender, never retried); anything else propagates.
func (p *Processor) rejectIfInvalid(o *orders.Order, ev Event, err error) (Outcome, error) {
	var ite *orders.InvalidTransitionError
	if errors.As(err, &ite) {
		slog.Error("payment event rejected by order state machine, operator follow-up needed",
			"event_id", ev.ID, "kind", ev.Kind, "order_id", o.ID, "order_number", o.Number,
			"error", err)
		return OutcomeRejected, nil
	}
	return "", err
}

func (p *Processor) seenInRedis(ctx context.Context, eventID string) bool {
	if p.Redis == nil {
		return false
	}
	key := fmt.Sprintf(redisx.KeyDedup, p.Service, eventID)
	ok, _ := redisx.Exists(ctx, p.Redis, key)
	return ok
}

func (p *Processor) rememberInRedis(ctx context.Context, eventID string) {
	if p.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyDedup, p.Service, eventID)
	_ = p.Redis.Set(ctx, key, "1", redisx.TTLDedup).Err()
}

// ConsumerHandler adapts the processor to the kafka intake: decode, handle,
// commit the offset on success. Malformed messages are logged and committed
// rather than redelivered forever.
func ConsumerHandler(p *Processor) kafkax.Handler {
	return func(ctx context.Context, m kafkago.Message) error {
		var ev Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			slog.Error("undecodable payment event dropped", "error", err)
			return nil
		}
		_, err := p.HandleEvent(ctx, ev)
		if errors.Is(err, ErrMalformedEvent) {
			slog.Error("malformed payment event dropped", "event_id", ev.ID)
			return nil
		}
		return err
	}
}
