// Package sqlite is the on-disk local cache of meetings and chat histories.
// It runs on the pure-Go modernc.org/sqlite driver in WAL mode and creates
// its schema on open.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/store"
)

const ddl = `
CREATE TABLE IF NOT EXISTS meetings (
    id          TEXT PRIMARY KEY,
    owner_id    TEXT NOT NULL,
    title       TEXT NOT NULL,
    date        TEXT NOT NULL,
    transcript  TEXT NOT NULL DEFAULT '',
    analysis    TEXT,
    embedding   TEXT
);
CREATE INDEX IF NOT EXISTS idx_meetings_owner ON meetings(owner_id);
CREATE TABLE IF NOT EXISTS chats (
    meeting_id  TEXT PRIMARY KEY,
    messages    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pending (
    owner_id    TEXT NOT NULL,
    meeting_id  TEXT NOT NULL,
    op          TEXT NOT NULL,
    UNIQUE (owner_id, meeting_id)
);
`

var (
	_ meeting.Store           = (*Store)(nil)
	_ meeting.ChatStore       = (*Store)(nil)
	_ meeting.SimilarityStore = (*Store)(nil)
)

// Store is a SQLite-backed meeting.Store and meeting.ChatStore.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// List implements meeting.Store.
func (s *Store) List(ctx context.Context, owner string) ([]meeting.Record, error) {
	recs, err := s.query(ctx, owner)
	if err != nil {
		return nil, err
	}
	meeting.SortNewestFirst(recs)
	return recs, nil
}

func (s *Store) query(ctx context.Context, owner string) ([]meeting.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, date, transcript, analysis, embedding FROM meetings WHERE owner_id = ?`, owner)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	out := make([]meeting.Record, 0)
	for rows.Next() {
		var (
			rec                 meeting.Record
			analysis, embedding sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Title, &rec.Date, &rec.Transcript, &analysis, &embedding); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		if analysis.Valid {
			rec.Analysis = new(meeting.Analysis)
			if err := json.Unmarshal([]byte(analysis.String), rec.Analysis); err != nil {
				return nil, fmt.Errorf("sqlite: decode analysis of %q: %w", rec.ID, err)
			}
		}
		if embedding.Valid {
			if err := json.Unmarshal([]byte(embedding.String), &rec.Embedding); err != nil {
				return nil, fmt.Errorf("sqlite: decode embedding of %q: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	return out, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert implements meeting.Store.
func (s *Store) Insert(ctx context.Context, rec meeting.Record) error {
	return insert(ctx, s.db, rec)
}

func insert(ctx context.Context, db execer, rec meeting.Record) error {
	var analysis, embedding sql.NullString
	if rec.Analysis != nil {
		b, err := json.Marshal(rec.Analysis)
		if err != nil {
			return fmt.Errorf("sqlite: encode analysis: %w", err)
		}
		analysis = sql.NullString{String: string(b), Valid: true}
	}
	if len(rec.Embedding) > 0 {
		b, err := json.Marshal(rec.Embedding)
		if err != nil {
			return fmt.Errorf("sqlite: encode embedding: %w", err)
		}
		embedding = sql.NullString{String: string(b), Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO meetings (id, owner_id, title, date, transcript, analysis, embedding) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Title, rec.Date, rec.Transcript, analysis, embedding)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("sqlite: insert %q: %w", rec.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("sqlite: insert %q: %w", rec.ID, err)
	}
	return nil
}

// Delete implements meeting.Store. The meeting's chat history goes with it.
func (s *Store) Delete(ctx context.Context, owner, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: delete %q: %w", id, err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM meetings WHERE id = ? AND owner_id = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("sqlite: delete %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: delete %q: %w", id, store.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE meeting_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete chat %q: %w", id, err)
	}
	return tx.Commit()
}

// Replace swaps the owner's cached records for recs in one transaction.
func (s *Store) Replace(ctx context.Context, owner string, recs []meeting.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM meetings WHERE owner_id = ?`, owner); err != nil {
		return fmt.Errorf("sqlite: replace: %w", err)
	}
	for _, r := range recs {
		r.OwnerID = owner
		if err := insert(ctx, tx, r); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: replace: %w", err)
	}
	return nil
}

// MarkPending records an unmirrored write. REPLACE drops any earlier row for
// the meeting, so the new one sorts last.
func (s *Store) MarkPending(ctx context.Context, owner string, p store.Pending) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pending (owner_id, meeting_id, op) VALUES (?, ?, ?)`,
		owner, p.ID, string(p.Op))
	if err != nil {
		return fmt.Errorf("sqlite: mark pending %q: %w", p.ID, err)
	}
	return nil
}

// Pending returns the owner's unmirrored writes, oldest first.
func (s *Store) Pending(ctx context.Context, owner string) ([]store.Pending, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT meeting_id, op FROM pending WHERE owner_id = ? ORDER BY rowid`, owner)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pending: %w", err)
	}
	defer rows.Close()

	var out []store.Pending
	for rows.Next() {
		var (
			p  store.Pending
			op string
		)
		if err := rows.Scan(&p.ID, &op); err != nil {
			return nil, fmt.Errorf("sqlite: scan pending: %w", err)
		}
		p.Op = store.Op(op)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: pending: %w", err)
	}
	return out, nil
}

// ClearPending forgets the unmirrored write on id, if any.
func (s *Store) ClearPending(ctx context.Context, owner, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending WHERE owner_id = ? AND meeting_id = ?`, owner, id); err != nil {
		return fmt.Errorf("sqlite: clear pending %q: %w", id, err)
	}
	return nil
}

// LoadChat implements meeting.ChatStore.
func (s *Store) LoadChat(ctx context.Context, meetingID string) ([]meeting.ChatMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT messages FROM chats WHERE meeting_id = ?`, meetingID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load chat %q: %w", meetingID, err)
	}
	var msgs []meeting.ChatMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("sqlite: decode chat %q: %w", meetingID, err)
	}
	return msgs, nil
}

// SaveChat implements meeting.ChatStore.
func (s *Store) SaveChat(ctx context.Context, meetingID string, msgs []meeting.ChatMessage) error {
	b, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("sqlite: encode chat: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (meeting_id, messages) VALUES (?, ?)
		 ON CONFLICT(meeting_id) DO UPDATE SET messages = excluded.messages`,
		meetingID, string(b))
	if err != nil {
		return fmt.Errorf("sqlite: save chat %q: %w", meetingID, err)
	}
	return nil
}

// DeleteChat implements meeting.ChatStore.
func (s *Store) DeleteChat(ctx context.Context, meetingID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE meeting_id = ?`, meetingID); err != nil {
		return fmt.Errorf("sqlite: delete chat %q: %w", meetingID, err)
	}
	return nil
}

// Similar implements meeting.SimilarityStore with a linear cosine scan over
// the owner's cached records.
func (s *Store) Similar(ctx context.Context, owner string, vec []float32, k int) ([]meeting.Record, error) {
	recs, err := s.query(ctx, owner)
	if err != nil {
		return nil, err
	}
	recs = slices.DeleteFunc(recs, func(r meeting.Record) bool { return len(r.Embedding) != len(vec) })
	slices.SortStableFunc(recs, func(a, b meeting.Record) int {
		sa, sb := store.Cosine(vec, a.Embedding), store.Cosine(vec, b.Embedding)
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return 0
	})
	if len(recs) > k {
		recs = recs[:k]
	}
	return recs, nil
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
