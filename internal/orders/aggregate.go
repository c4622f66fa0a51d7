package orders

import (
	"fmt"
	"time"
)

// Transition is a requested change to the (status, paymentStatus) pair. Nil
// fields mean "leave unchanged". The pair is validated as a whole, never
// poked field by field.
type Transition struct {
	Status        *Status
	PaymentStatus *PaymentStatus

	// Override marks an authorized operator action, which may advance status
	// past confirmed without payment having landed.
	Override bool
}

func ToStatus(s Status) *Status                { return &s }
func ToPayment(p PaymentStatus) *PaymentStatus { return &p }

// Apply validates tr against the transition tables and the cross-state rule,
// then mutates the order. On error the order is untouched.
func (o *Order) Apply(tr Transition, now time.Time) error {
	nextStatus := o.Status
	if tr.Status != nil {
		nextStatus = *tr.Status
	}
	nextPay := o.PaymentStatus
	if tr.PaymentStatus != nil {
		nextPay = *tr.PaymentStatus
	}

	if err := CheckStatus(o.Status, nextStatus); err != nil {
		return err
	}
	if err := CheckPayment(o.PaymentStatus, nextPay); err != nil {
		return err
	}
	if !tr.Override && advancesPastConfirmed(o.Status, nextStatus) && blocksAdvance(nextPay) {
		return fmt.Errorf("order %s: cannot advance to %s with payment status %s: %w",
			o.Number, nextStatus, nextPay,
			&InvalidTransitionError{From: string(o.Status), To: string(nextStatus), Allowed: []string{string(StatusCancelled)}})
	}

	if o.Status == nextStatus && o.PaymentStatus == nextPay {
		return nil // retried trigger
	}
	o.Status = nextStatus
	o.PaymentStatus = nextPay
	o.UpdatedAt = now.UTC()
	return nil
}

func advancesPastConfirmed(from, to Status) bool {
	if from == to {
		return false
	}
	switch to {
	case StatusProcessing, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

// Only a settled payment lets fulfilment progress; everything else, pending
// authentication included, holds the order at confirmed until an operator
// overrides.
func blocksAdvance(p PaymentStatus) bool {
	return p != PayPaid
}
