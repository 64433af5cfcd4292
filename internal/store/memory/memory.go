// Package memory is an in-memory meeting store. It backs tests and runs
// without a configured database.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/store"
)

var (
	_ meeting.Store           = (*Store)(nil)
	_ meeting.ChatStore       = (*Store)(nil)
	_ meeting.SimilarityStore = (*Store)(nil)
)

// Store keeps records and chats in maps. The zero value is ready to use.
type Store struct {
	mu      sync.RWMutex
	records map[string]meeting.Record // by ID
	chats   map[string][]meeting.ChatMessage
	pending map[string][]store.Pending // by owner, oldest first
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]meeting.Record),
		chats:   make(map[string][]meeting.ChatMessage),
	}
}

// List implements meeting.Store.
func (s *Store) List(_ context.Context, owner string) ([]meeting.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]meeting.Record, 0)
	for _, r := range s.records {
		if r.OwnerID == owner {
			out = append(out, r)
		}
	}
	meeting.SortNewestFirst(out)
	return out, nil
}

// Insert implements meeting.Store.
func (s *Store) Insert(_ context.Context, rec meeting.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records == nil {
		s.records = make(map[string]meeting.Record)
	}
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("memory: insert %q: %w", rec.ID, store.ErrDuplicate)
	}
	rec.Embedding = slices.Clone(rec.Embedding)
	s.records[rec.ID] = rec
	return nil
}

// Delete implements meeting.Store.
func (s *Store) Delete(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok || r.OwnerID != owner {
		return fmt.Errorf("memory: delete %q: %w", id, store.ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

// Replace swaps the owner's records for recs. The local-first store uses it
// to refresh its cache from the remote.
func (s *Store) Replace(_ context.Context, owner string, recs []meeting.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records == nil {
		s.records = make(map[string]meeting.Record)
	}
	for id, r := range s.records {
		if r.OwnerID == owner {
			delete(s.records, id)
		}
	}
	for _, r := range recs {
		r.OwnerID = owner
		s.records[r.ID] = r
	}
	return nil
}

// MarkPending records an unmirrored write, replacing any earlier one for the
// same meeting.
func (s *Store) MarkPending(_ context.Context, owner string, p store.Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = make(map[string][]store.Pending)
	}
	ops := slices.DeleteFunc(s.pending[owner], func(q store.Pending) bool { return q.ID == p.ID })
	s.pending[owner] = append(ops, p)
	return nil
}

// Pending returns the owner's unmirrored writes, oldest first.
func (s *Store) Pending(_ context.Context, owner string) ([]store.Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.pending[owner]), nil
}

// ClearPending forgets the unmirrored write on id, if any.
func (s *Store) ClearPending(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := slices.DeleteFunc(s.pending[owner], func(q store.Pending) bool { return q.ID == id })
	if len(ops) == 0 {
		delete(s.pending, owner)
		return nil
	}
	s.pending[owner] = ops
	return nil
}

// LoadChat implements meeting.ChatStore.
func (s *Store) LoadChat(_ context.Context, meetingID string) ([]meeting.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chats[meetingID]), nil
}

// SaveChat implements meeting.ChatStore.
func (s *Store) SaveChat(_ context.Context, meetingID string, msgs []meeting.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chats == nil {
		s.chats = make(map[string][]meeting.ChatMessage)
	}
	s.chats[meetingID] = slices.Clone(msgs)
	return nil
}

// DeleteChat implements meeting.ChatStore.
func (s *Store) DeleteChat(_ context.Context, meetingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, meetingID)
	return nil
}

// Similar implements meeting.SimilarityStore with a linear cosine scan.
func (s *Store) Similar(_ context.Context, owner string, vec []float32, k int) ([]meeting.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		rec   meeting.Record
		score float64
	}
	var hits []scored
	for _, r := range s.records {
		if r.OwnerID != owner || len(r.Embedding) != len(vec) {
			continue
		}
		hits = append(hits, scored{r, store.Cosine(vec, r.Embedding)})
	}
	slices.SortFunc(hits, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]meeting.Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out, nil
}
