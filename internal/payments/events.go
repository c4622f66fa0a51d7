package payments

import (
	"encoding/json"
	"errors"
	"time"
)

const TopicPaymentEvents = "payment.events"

type Kind string

const (
	KindSucceeded      Kind = "succeeded"
	KindFailed         Kind = "failed"
	KindCancelled      Kind = "cancelled"
	KindRequiresAction Kind = "requiresAction"
	KindDisputeCreated Kind = "disputeCreated"
)

// Event is one gateway callback. ID is provider-assigned and is the
// idempotency key; PaymentIntentRef correlates it to exactly one order.
// Delivery is at-least-once and unordered.
type Event struct {
	ID               string          `json:"event_id"`
	Kind             Kind            `json:"kind"`
	PaymentIntentRef string          `json:"payment_intent_ref"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Data             json.RawMessage `json:"data,omitempty"`
}

var ErrMalformedEvent = errors.New("malformed payment event")

func (e Event) Validate() error {
	if e.ID == "" || e.PaymentIntentRef == "" {
		return ErrMalformedEvent
	}
	switch e.Kind {
	case KindSucceeded, KindFailed, KindCancelled, KindRequiresAction, KindDisputeCreated:
		return nil
	}
	return ErrMalformedEvent
}
