package catalog

import (
	"context"
	"sync"
)

// MemReader is an in-memory catalog used by tests and local development.
type MemReader struct {
	mu       sync.RWMutex
	products map[string]Product
	variants map[string]Variant
}

func NewMemReader() *MemReader {
	return &MemReader{
		products: map[string]Product{},
		variants: map[string]Variant{},
	}
}

func (m *MemReader) PutProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *MemReader) PutVariant(v Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[v.ID] = v
}

func (m *MemReader) GetProduct(ctx context.Context, id string) (Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (m *MemReader) GetVariant(ctx context.Context, id string) (Variant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.variants[id]
	if !ok {
		return Variant{}, ErrVariantNotFound
	}
	return v, nil
}

// MemPromos is an in-memory promotion table.
type MemPromos struct {
	mu    sync.RWMutex
	codes map[string]Promotion
}

func NewMemPromos() *MemPromos {
	return &MemPromos{codes: map[string]Promotion{}}
}

func (m *MemPromos) Put(p Promotion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[p.Code] = p
}

func (m *MemPromos) ResolveCode(ctx context.Context, code string) (Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.codes[code]
	if !ok {
		return Promotion{}, ErrCodeNotFound
	}
	return p, nil
}
