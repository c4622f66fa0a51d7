package orders

import (
	"fmt"
	"sort"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PayPending        PaymentStatus = "pending"
	PayPaid           PaymentStatus = "paid"
	PayFailed         PaymentStatus = "failed"
	PayRefunded       PaymentStatus = "refunded"
	PayRequiresAction PaymentStatus = "requires_action"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

var validNextPay = map[PaymentStatus]map[PaymentStatus]bool{
	PayPending:        {PayPaid: true, PayFailed: true, PayRequiresAction: true},
	PayRequiresAction: {PayPaid: true, PayFailed: true},
	PayPaid:           {PayRefunded: true},
	PayFailed:         {},
	PayRefunded:       {},
}

// InvalidTransitionError reports the current state and what it accepts.
type InvalidTransitionError struct {
	From    string
	To      string
	Allowed []string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s (allowed: %v)", e.From, e.To, e.Allowed)
}

func allowedFrom[S ~string](table map[S]map[S]bool, from S) []string {
	next := make([]string, 0, len(table[from]))
	for s := range table[from] {
		next = append(next, string(s))
	}
	sort.Strings(next)
	return next
}

// CheckStatus validates a status transition. Requesting the current state is
// accepted as a no-op so retried triggers stay safe.
func CheckStatus(from, to Status) error {
	if from == to {
		return nil
	}
	if !validNext[from][to] {
		return &InvalidTransitionError{From: string(from), To: string(to), Allowed: allowedFrom(validNext, from)}
	}
	return nil
}

// CheckPayment validates a payment-status transition, same-state no-op included.
func CheckPayment(from, to PaymentStatus) error {
	if from == to {
		return nil
	}
	if !validNextPay[from][to] {
		return &InvalidTransitionError{From: string(from), To: string(to), Allowed: allowedFrom(validNextPay, from)}
	}
	return nil
}
