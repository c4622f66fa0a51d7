package orders

import (
	"context"
	"sync"
	"time"
)

// MemStore keeps orders in maps guarded by one RWMutex for lookups plus a
// per-order mutex for Update, matching the linearization the pg store gets
// from row locks.
type MemStore struct {
	mu        sync.RWMutex
	byID      map[string]*Order
	byNumber  map[string]string // number -> id
	byExtID   map[string]string
	byIntent  map[string]string
	processed map[string]map[string]bool // orderID -> event ids
	locks     map[string]*sync.Mutex
}

func NewMemStore() *MemStore {
	return &MemStore{
		byID:      map[string]*Order{},
		byNumber:  map[string]string{},
		byExtID:   map[string]string{},
		byIntent:  map[string]string{},
		processed: map[string]map[string]bool{},
		locks:     map[string]*sync.Mutex{},
	}
}

func (s *MemStore) Create(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.byNumber[o.Number] != "" {
		o.Number = NewNumber(time.Now())
	}
	cp := cloneOrder(o)
	s.byID[o.ID] = cp
	s.byNumber[o.Number] = o.ID
	if o.ExternalID != "" {
		s.byExtID[o.ExternalID] = o.ID
	}
	if o.PaymentIntentRef != "" {
		s.byIntent[o.PaymentIntentRef] = o.ID
	}
	s.locks[o.ID] = &sync.Mutex{}
	return nil
}

func (s *MemStore) GetByID(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemStore) GetByNumber(ctx context.Context, number string) (*Order, error) {
	s.mu.RLock()
	id, ok := s.byNumber[number]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *MemStore) GetByExternalID(ctx context.Context, externalID string) (*Order, error) {
	s.mu.RLock()
	id, ok := s.byExtID[externalID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *MemStore) GetByPaymentIntent(ctx context.Context, ref string) (*Order, error) {
	s.mu.RLock()
	id, ok := s.byIntent[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *MemStore) Update(ctx context.Context, id string, mutate func(o *Order) error) (*Order, error) {
	s.mu.RLock()
	lock, ok := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	cur := s.byID[id]
	s.mu.RUnlock()
	if cur == nil {
		return nil, ErrNotFound
	}

	work := cloneOrder(cur)
	if err := mutate(work); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.byID[id] = work
	if work.PaymentIntentRef != "" {
		s.byIntent[work.PaymentIntentRef] = id
	}
	s.mu.Unlock()
	return cloneOrder(work), nil
}

func (s *MemStore) ApplyEvent(ctx context.Context, orderID, eventID string, mutate func(o *Order) error) (*Order, bool, error) {
	s.mu.RLock()
	lock, ok := s.locks[orderID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, ErrNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	cur := s.byID[orderID]
	seen := s.processed[orderID][eventID]
	s.mu.RUnlock()
	if cur == nil {
		return nil, false, ErrNotFound
	}
	if seen {
		return cloneOrder(cur), false, nil
	}

	work := cloneOrder(cur)
	if err := mutate(work); err != nil {
		// no marker: the delivery must stay retryable
		return nil, false, err
	}

	s.mu.Lock()
	if s.processed[orderID] == nil {
		s.processed[orderID] = map[string]bool{}
	}
	s.processed[orderID][eventID] = true
	s.byID[orderID] = work
	if work.PaymentIntentRef != "" {
		s.byIntent[work.PaymentIntentRef] = orderID
	}
	s.mu.Unlock()
	return cloneOrder(work), true, nil
}

func (s *MemStore) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Order
	for _, o := range s.byID {
		if o.Status == StatusPending && o.PaymentStatus == PayPending && o.CreatedAt.Before(cutoff) {
			out = append(out, cloneOrder(o))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = make([]OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}
