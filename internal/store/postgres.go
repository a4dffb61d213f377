package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
)`

const upsertQuery = `
	INSERT INTO records (collection, id, data)
	VALUES ($1, $2, $3)
	ON CONFLICT (collection, id)
	DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`

type recordRow struct {
	ID   string `db:"id"`
	Data []byte `db:"data"`
}

// PostgresStore keeps every collection in a single records table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to Postgres and creates the records table
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := NewPostgresStoreFromDB(db)
	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromDB wraps an existing connection
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the records table if missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *PostgresStore) GetDB() *sqlx.DB {
	return s.db
}

// GetCollection returns every record in name in insertion order
func (s *PostgresStore) GetCollection(ctx context.Context, name string) ([]Record, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, data FROM records WHERE collection = $1 ORDER BY created_at, id", name)
	if err != nil {
		return nil, err
	}

	recs := make([]Record, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, Record{ID: r.ID, Data: r.Data})
	}
	return recs, nil
}

// Upsert inserts or replaces a record
func (s *PostgresStore) Upsert(ctx context.Context, name string, rec Record) error {
	_, err := s.db.ExecContext(ctx, upsertQuery, name, rec.ID, rec.Data)
	return err
}

// UpsertMany writes all records inside one transaction
func (s *PostgresStore) UpsertMany(ctx context.Context, name string, recs []Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, upsertQuery, name, rec.ID, rec.Data); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", name, rec.ID, err)
		}
	}

	return tx.Commit()
}

// Delete removes a record
func (s *PostgresStore) Delete(ctx context.Context, name, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE collection = $1 AND id = $2", name, id)
	return err
}
