package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seedOrder(t *testing.T, s *MemStore, id string) *Order {
	t.Helper()
	now := time.Now().UTC()
	o := &Order{
		ID:     id,
		Number: NewNumber(now),
		Customer: Customer{
			Name: "Dana", Email: "dana@example.com",
		},
		Status: StatusPending, PaymentStatus: PayPending,
		PaymentIntentRef: "pi_" + id,
		TotalCents:       1000,
		CreatedAt:        now, UpdatedAt: now,
		Items: []OrderItem{{ProductID: "p1", Qty: 2, UnitPriceCents: 500, LineTotalCents: 1000}},
	}
	if err := s.Create(context.Background(), o); err != nil {
		t.Fatalf("create: %v", err)
	}
	return o
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	o := seedOrder(t, s, "o1")

	if got, err := s.GetByID(ctx, o.ID); err != nil || got.Number != o.Number {
		t.Fatalf("by id: %v %v", got, err)
	}
	if got, err := s.GetByNumber(ctx, o.Number); err != nil || got.ID != o.ID {
		t.Fatalf("by number: %v %v", got, err)
	}
	if got, err := s.GetByPaymentIntent(ctx, "pi_o1"); err != nil || got.ID != o.ID {
		t.Fatalf("by intent: %v %v", got, err)
	}
	if _, err := s.GetByID(ctx, "ghost"); err != ErrNotFound {
		t.Fatalf("missing order: %v", err)
	}
}

func TestUpdateLinearizesPerOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	o := seedOrder(t, s, "o1")

	// two racing "webhook" updates: exactly one may be the pending->confirmed
	// transition, the other must observe confirmed and no-op
	var wg sync.WaitGroup
	wins := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won := false
			_, err := s.Update(ctx, o.ID, func(cur *Order) error {
				if cur.Status == StatusPending {
					won = true
					return cur.Apply(Transition{
						Status:        ToStatus(StatusConfirmed),
						PaymentStatus: ToPayment(PayPaid),
					}, time.Now())
				}
				return nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for w := range wins {
		if w {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("%d goroutines believed they transitioned the order", winners)
	}
}

func TestUpdateAbortsOnMutateError(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	o := seedOrder(t, s, "o1")

	_, err := s.Update(ctx, o.ID, func(cur *Order) error {
		cur.Status = StatusDelivered // would be visible if the abort leaked
		return ErrNotFound
	})
	if err == nil {
		t.Fatalf("expected mutate error to propagate")
	}
	got, _ := s.GetByID(ctx, o.ID)
	if got.Status != StatusPending {
		t.Fatalf("aborted update leaked: %s", got.Status)
	}
}

func TestApplyEventRecordsIdWithMutation(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	o := seedOrder(t, s, "o1")

	confirm := func(cur *Order) error {
		return cur.Apply(Transition{
			Status:        ToStatus(StatusConfirmed),
			PaymentStatus: ToPayment(PayPaid),
		}, time.Now())
	}
	updated, applied, err := s.ApplyEvent(ctx, o.ID, "evt_1", confirm)
	if err != nil || !applied {
		t.Fatalf("first delivery: applied=%v err=%v", applied, err)
	}
	if updated.Status != StatusConfirmed {
		t.Fatalf("mutation not persisted: %s", updated.Status)
	}

	cur, applied, err := s.ApplyEvent(ctx, o.ID, "evt_1", func(*Order) error {
		t.Fatal("mutate ran for a recorded event id")
		return nil
	})
	if err != nil || applied {
		t.Fatalf("duplicate delivery: applied=%v err=%v", applied, err)
	}
	if cur.Status != StatusConfirmed {
		t.Fatalf("duplicate did not return current state: %s", cur.Status)
	}

	if _, applied, err := s.ApplyEvent(ctx, o.ID, "evt_2", func(*Order) error { return nil }); err != nil || !applied {
		t.Fatalf("distinct event treated as duplicate: applied=%v err=%v", applied, err)
	}
}

func TestApplyEventRollsBackMarkerOnMutateError(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	o := seedOrder(t, s, "o1")

	boom := errors.New("db connection reset")
	if _, _, err := s.ApplyEvent(ctx, o.ID, "evt_1", func(*Order) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("mutate error not propagated: %v", err)
	}

	// the failed delivery must not consume the event id
	updated, applied, err := s.ApplyEvent(ctx, o.ID, "evt_1", func(cur *Order) error {
		return cur.Apply(Transition{
			Status:        ToStatus(StatusConfirmed),
			PaymentStatus: ToPayment(PayPaid),
		}, time.Now())
	})
	if err != nil || !applied {
		t.Fatalf("retried delivery not applied: applied=%v err=%v", applied, err)
	}
	if updated.Status != StatusConfirmed {
		t.Fatalf("retried delivery state: %s", updated.Status)
	}
}

func TestListExpiredPending(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	old := seedOrder(t, s, "old")
	_, _ = s.Update(ctx, old.ID, func(cur *Order) error {
		cur.CreatedAt = time.Now().Add(-time.Hour)
		return nil
	})
	seedOrder(t, s, "fresh")

	paid := seedOrder(t, s, "paid")
	_, _ = s.Update(ctx, paid.ID, func(cur *Order) error {
		cur.CreatedAt = time.Now().Add(-time.Hour)
		return cur.Apply(Transition{
			Status:        ToStatus(StatusConfirmed),
			PaymentStatus: ToPayment(PayPaid),
		}, time.Now())
	})

	expired, err := s.ListExpiredPending(ctx, time.Now().Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "old" {
		t.Fatalf("expired = %v", expired)
	}
}
