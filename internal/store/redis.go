package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps each collection in one Redis hash keyed by record id.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(rdb), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "collection:"}
}

// GetClient returns the underlying Redis client
func (s *RedisStore) GetClient() *redis.Client {
	return s.rdb
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// GetCollection returns every record in name ordered by id.
// Hashes carry no insertion order.
func (s *RedisStore) GetCollection(ctx context.Context, name string) ([]Record, error) {
	result, err := s.rdb.HGetAll(ctx, s.key(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", name, err)
	}

	recs := make([]Record, 0, len(result))
	for id, data := range result {
		recs = append(recs, Record{ID: id, Data: []byte(data)})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

// Upsert inserts or replaces a record
func (s *RedisStore) Upsert(ctx context.Context, name string, rec Record) error {
	if err := s.rdb.HSet(ctx, s.key(name), rec.ID, rec.Data).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", name, err)
	}
	return nil
}

// UpsertMany writes all records in one MULTI/EXEC transaction
func (s *RedisStore) UpsertMany(ctx context.Context, name string, recs []Record) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range recs {
			pipe.HSet(ctx, s.key(name), rec.ID, rec.Data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("batch hset %s: %w", name, err)
	}
	return nil
}

// Delete removes a record
func (s *RedisStore) Delete(ctx context.Context, name, id string) error {
	if err := s.rdb.HDel(ctx, s.key(name), id).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", name, err)
	}
	return nil
}
