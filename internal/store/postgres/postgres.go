// Package postgres is the remote meeting store on PostgreSQL. Reports are
// kept as JSONB and summary embeddings in a pgvector column, which backs
// semantic recall across an owner's meetings.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/store"
)

// schema returns the DDL with the embedding dimension substituted. The
// dimension is fixed when the table is first created.
func schema(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS meetings (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    title       TEXT         NOT NULL,
    transcript  TEXT         NOT NULL DEFAULT '',
    analysis    JSONB,
    date        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    embedding   vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_meetings_user_created
    ON meetings (user_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_meetings_embedding
    ON meetings USING hnsw (embedding vector_cosine_ops);
`, dims)
}

// DB is the subset of pgx used by [Store]. *pgxpool.Pool and *pgx.Conn
// satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var (
	_ meeting.Store           = (*Store)(nil)
	_ meeting.SimilarityStore = (*Store)(nil)
)

// Store implements meeting.Store and meeting.SimilarityStore.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// New wraps an existing connection. The schema must already exist; see
// [Store.Migrate].
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, registers the pgvector types on every connection
// and migrates the schema. dims must match the embedding model.
func Open(ctx context.Context, dsn string, dims int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx, dims); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the meetings table and its indexes if missing.
func (s *Store) Migrate(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("postgres: embedding dimensions must be positive, got %d", dims)
	}
	if _, err := s.db.Exec(ctx, schema(dims)); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close releases the pool opened by [Open]. It is a no-op for stores made
// with [New].
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const selectColumns = `id, user_id, title, transcript, analysis, date`

// List implements meeting.Store.
func (s *Store) List(ctx context.Context, owner string) ([]meeting.Record, error) {
	const q = `SELECT ` + selectColumns + `
		FROM meetings
		WHERE user_id = $1
		ORDER BY created_at DESC`
	rows, err := s.db.Query(ctx, q, owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	return collect(rows)
}

// Insert implements meeting.Store. A record without an embedding stores
// NULL in the vector column.
func (s *Store) Insert(ctx context.Context, rec meeting.Record) error {
	var analysis []byte
	if rec.Analysis != nil {
		b, err := json.Marshal(rec.Analysis)
		if err != nil {
			return fmt.Errorf("postgres: marshal analysis: %w", err)
		}
		analysis = b
	}
	var embedding any
	if len(rec.Embedding) > 0 {
		embedding = pgvector.NewVector(rec.Embedding)
	}

	const q = `
		INSERT INTO meetings (id, user_id, title, transcript, analysis, date, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.Exec(ctx, q, rec.ID, rec.OwnerID, rec.Title, rec.Transcript, analysis, rec.Date, embedding)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("postgres: insert %q: %w", rec.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("postgres: insert %q: %w", rec.ID, err)
	}
	return nil
}

// Delete implements meeting.Store.
func (s *Store) Delete(ctx context.Context, owner, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM meetings WHERE id = $1 AND user_id = $2`, id, owner)
	if err != nil {
		return fmt.Errorf("postgres: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete %q: %w", id, store.ErrNotFound)
	}
	return nil
}

// Similar implements meeting.SimilarityStore. Results are ordered by
// ascending cosine distance; records without an embedding are skipped.
func (s *Store) Similar(ctx context.Context, owner string, vec []float32, k int) ([]meeting.Record, error) {
	const q = `SELECT ` + selectColumns + `
		FROM meetings
		WHERE user_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3`
	rows, err := s.db.Query(ctx, q, owner, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: similar: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]meeting.Record, error) {
	defer rows.Close()

	out := make([]meeting.Record, 0)
	for rows.Next() {
		var (
			rec      meeting.Record
			analysis []byte
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Title, &rec.Transcript, &analysis, &rec.Date); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		if len(analysis) > 0 {
			rec.Analysis = new(meeting.Analysis)
			if err := json.Unmarshal(analysis, rec.Analysis); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal analysis of %q: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return out, nil
}

// isDuplicateKeyError reports a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
