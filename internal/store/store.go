package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a record id does not exist in a collection.
var ErrNotFound = errors.New("record not found")

// Record is one JSON-encoded entry of a collection.
type Record struct {
	ID   string
	Data []byte
}

// Store is a keyed collection store. It offers no transactions and no locking.
type Store interface {
	GetCollection(ctx context.Context, name string) ([]Record, error)
	Upsert(ctx context.Context, name string, rec Record) error
	Delete(ctx context.Context, name, id string) error
}

// BatchUpserter is implemented by backends that can write several records
// of one collection all-or-nothing.
type BatchUpserter interface {
	UpsertMany(ctx context.Context, name string, recs []Record) error
}

type memCollection struct {
	order []string
	data  map[string][]byte
}

// MemoryStore keeps collections in process memory, in insertion order.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

// GetCollection returns a copy of every record in name
func (m *MemoryStore) GetCollection(ctx context.Context, name string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[name]
	if !ok {
		return []Record{}, nil
	}

	out := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, Record{ID: id, Data: append([]byte(nil), c.data[id]...)})
	}
	return out, nil
}

// Upsert inserts or replaces a record
func (m *MemoryStore) Upsert(ctx context.Context, name string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upsertLocked(name, rec)
	return nil
}

// UpsertMany writes all records under one lock
func (m *MemoryStore) UpsertMany(ctx context.Context, name string, recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range recs {
		m.upsertLocked(name, rec)
	}
	return nil
}

func (m *MemoryStore) upsertLocked(name string, rec Record) {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{data: make(map[string][]byte)}
		m.collections[name] = c
	}
	if _, exists := c.data[rec.ID]; !exists {
		c.order = append(c.order, rec.ID)
	}
	c.data[rec.ID] = append([]byte(nil), rec.Data...)
}

// Delete removes a record. Deleting a missing record is not an error.
func (m *MemoryStore) Delete(ctx context.Context, name, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[name]
	if !ok {
		return nil
	}
	if _, exists := c.data[id]; !exists {
		return nil
	}
	delete(c.data, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}
