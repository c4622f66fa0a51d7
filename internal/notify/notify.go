package notify

import (
	"context"
	"sync"
)

type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindFailure      Kind = "failure"
	KindStatusUpdate Kind = "statusUpdate"
)

type Notification struct {
	Kind        Kind           `json:"kind"`
	OrderNumber string         `json:"order_number"`
	Recipient   string         `json:"recipient_email"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Dispatcher hands notifications to the (external) mail pipeline. Dispatch is
// fire-and-forget: a delivery failure never rolls back an order or inventory
// transition, so implementations log and swallow.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}

// MemDispatcher records notifications for tests.
type MemDispatcher struct {
	mu   sync.Mutex
	sent []Notification
}

func NewMemDispatcher() *MemDispatcher { return &MemDispatcher{} }

func (d *MemDispatcher) Dispatch(ctx context.Context, n Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
}

func (d *MemDispatcher) Sent() []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Notification, len(d.sent))
	copy(out, d.sent)
	return out
}
