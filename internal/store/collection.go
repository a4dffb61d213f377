package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Identifiable is implemented by every record type kept in a Collection.
type Identifiable interface {
	RecordID() string
}

// Collection is a typed view over one named collection. All writes go
// through its mutex, making it the single writer for that collection in
// this process.
type Collection[T Identifiable] struct {
	name  string
	store Store
	mu    sync.Mutex
}

// NewCollection binds a typed collection to a store
func NewCollection[T Identifiable](s Store, name string) *Collection[T] {
	return &Collection[T]{name: name, store: s}
}

// Name returns the collection name
func (c *Collection[T]) Name() string {
	return c.name
}

// All decodes every record in the collection
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	recs, err := c.store.GetCollection(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.name, err)
	}
	return decodeAll[T](c.name, recs)
}

// Get returns the record with id, or ErrNotFound
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	items, err := c.All(ctx)
	if err != nil {
		return zero, err
	}
	for _, item := range items {
		if item.RecordID() == id {
			return item, nil
		}
	}
	return zero, fmt.Errorf("%s %q: %w", c.name, id, ErrNotFound)
}

// Put inserts or replaces one record
func (c *Collection[T]) Put(ctx context.Context, item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := encode(item)
	if err != nil {
		return err
	}
	if err := c.store.Upsert(ctx, c.name, rec); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.name, err)
	}
	return nil
}

// Delete removes one record
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(ctx, c.name, id); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", c.name, err)
	}
	return nil
}

// Update runs a read-modify-write cycle under the collection lock. fn
// receives the current records and returns the ones to write. If fn
// returns an error nothing is written.
func (c *Collection[T]) Update(ctx context.Context, fn func(items []T) ([]T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	recs, err := c.store.GetCollection(ctx, c.name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.name, err)
	}
	items, err := decodeAll[T](c.name, recs)
	if err != nil {
		return err
	}

	changed, err := fn(items)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	out := make([]Record, 0, len(changed))
	for _, item := range changed {
		rec, err := encode(item)
		if err != nil {
			return err
		}
		out = append(out, rec)
	}

	return c.writeAll(ctx, recs, out)
}

// writeAll writes out atomically when the backend supports it. Otherwise
// it writes one by one and restores earlier writes if a later one fails.
func (c *Collection[T]) writeAll(ctx context.Context, before, out []Record) error {
	if len(out) == 1 {
		if err := c.store.Upsert(ctx, c.name, out[0]); err != nil {
			return fmt.Errorf("failed to write %s: %w", c.name, err)
		}
		return nil
	}

	if b, ok := c.store.(BatchUpserter); ok {
		if err := b.UpsertMany(ctx, c.name, out); err != nil {
			return fmt.Errorf("failed to write %s: %w", c.name, err)
		}
		return nil
	}

	previous := make(map[string]Record, len(before))
	for _, rec := range before {
		previous[rec.ID] = rec
	}

	for i, rec := range out {
		if err := c.store.Upsert(ctx, c.name, rec); err != nil {
			for _, done := range out[:i] {
				if old, ok := previous[done.ID]; ok {
					_ = c.store.Upsert(ctx, c.name, old)
				} else {
					_ = c.store.Delete(ctx, c.name, done.ID)
				}
			}
			return fmt.Errorf("failed to write %s: %w", c.name, err)
		}
	}
	return nil
}

func encode[T Identifiable](item T) (Record, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode record %q: %w", item.RecordID(), err)
	}
	return Record{ID: item.RecordID(), Data: data}, nil
}

func decodeAll[T Identifiable](name string, recs []Record) ([]T, error) {
	items := make([]T, 0, len(recs))
	for _, rec := range recs {
		var item T
		if err := json.Unmarshal(rec.Data, &item); err != nil {
			return nil, fmt.Errorf("failed to decode %s record %q: %w", name, rec.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}
