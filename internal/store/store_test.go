package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func (w widget) RecordID() string { return w.ID }

func TestMemoryStoreKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Upsert(ctx, "w", Record{ID: "b", Data: []byte("1")}))
	require.NoError(t, s.Upsert(ctx, "w", Record{ID: "a", Data: []byte("2")}))
	require.NoError(t, s.Upsert(ctx, "w", Record{ID: "b", Data: []byte("3")}))

	recs, err := s.GetCollection(ctx, "w")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID)
	assert.Equal(t, []byte("3"), recs[0].Data)
	assert.Equal(t, "a", recs[1].ID)

	require.NoError(t, s.Delete(ctx, "w", "b"))
	require.NoError(t, s.Delete(ctx, "w", "missing"))
	require.NoError(t, s.Delete(ctx, "nope", "x"))

	recs, err = s.GetCollection(ctx, "w")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	empty, err := s.GetCollection(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCollectionGetPut(t *testing.T) {
	ctx := context.Background()
	c := NewCollection[widget](NewMemoryStore(), "widgets")

	require.NoError(t, c.Put(ctx, widget{ID: "w1", Count: 1}))

	got, err := c.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)

	_, err = c.Get(ctx, "w2")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Delete(ctx, "w1"))
	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCollectionUpdateAbortWritesNothing(t *testing.T) {
	ctx := context.Background()
	c := NewCollection[widget](NewMemoryStore(), "widgets")
	require.NoError(t, c.Put(ctx, widget{ID: "w1", Count: 1}))

	errStop := errors.New("stop")
	err := c.Update(ctx, func(items []widget) ([]widget, error) {
		items[0].Count = 100
		return items, errStop
	})
	assert.ErrorIs(t, err, errStop)

	got, err := c.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
}

func TestCollectionUpdateSerializesWriters(t *testing.T) {
	ctx := context.Background()
	c := NewCollection[widget](NewMemoryStore(), "widgets")
	require.NoError(t, c.Put(ctx, widget{ID: "w1"}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Update(ctx, func(items []widget) ([]widget, error) {
				items[0].Count++
				return items[:1], nil
			})
		}()
	}
	wg.Wait()

	got, err := c.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Count)
}

// flakyStore fails the nth Upsert and has no batch support.
type flakyStore struct {
	inner   *MemoryStore
	failAt  int
	upserts int
}

func (f *flakyStore) GetCollection(ctx context.Context, name string) ([]Record, error) {
	return f.inner.GetCollection(ctx, name)
}

func (f *flakyStore) Upsert(ctx context.Context, name string, rec Record) error {
	f.upserts++
	if f.upserts == f.failAt {
		return fmt.Errorf("write %d failed", f.upserts)
	}
	return f.inner.Upsert(ctx, name, rec)
}

func (f *flakyStore) Delete(ctx context.Context, name, id string) error {
	return f.inner.Delete(ctx, name, id)
}

func TestCollectionUpdateRestoresOnPartialWrite(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	seed := NewCollection[widget](inner, "widgets")
	require.NoError(t, seed.Put(ctx, widget{ID: "a", Count: 1}))
	require.NoError(t, seed.Put(ctx, widget{ID: "b", Count: 1}))

	fs := &flakyStore{inner: inner, failAt: 3}
	c := NewCollection[widget](fs, "widgets")

	err := c.Update(ctx, func(items []widget) ([]widget, error) {
		for i := range items {
			items[i].Count = 0
		}
		return append(items, widget{ID: "c"}), nil
	})
	require.Error(t, err)

	all, err := seed.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, w := range all {
		assert.Equal(t, 1, w.Count, w.ID)
	}
}
