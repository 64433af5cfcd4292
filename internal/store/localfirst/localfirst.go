// Package localfirst combines a local cache with an optional remote store.
// Writes always land locally and are mirrored to the remote best-effort. A
// write the remote missed is kept in the cache's pending outbox and replayed
// before the next list; reads prefer the remote and refresh the cache from
// it. A remote failure never fails an operation that the local cache can
// serve.
package localfirst

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/observe"
	"github.com/MrWong99/minutas/internal/resilience"
	"github.com/MrWong99/minutas/internal/store"
)

// Local is the cache side. Both the memory and sqlite stores satisfy it.
type Local interface {
	meeting.Store
	meeting.ChatStore
	Replace(ctx context.Context, owner string, recs []meeting.Record) error

	MarkPending(ctx context.Context, owner string, p store.Pending) error
	Pending(ctx context.Context, owner string) ([]store.Pending, error)
	ClearPending(ctx context.Context, owner, id string) error
}

var (
	_ meeting.Store           = (*Store)(nil)
	_ meeting.ChatStore       = (*Store)(nil)
	_ meeting.SimilarityStore = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithRemote sets the remote mirror. Without it the Store is local-only.
func WithRemote(r meeting.Store) Option { return func(s *Store) { s.remote = r } }

// WithBreaker overrides the remote circuit breaker settings.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Store) { s.breakerCfg = cfg }
}

// WithMetrics counts degraded operations on m.
func WithMetrics(m *observe.Metrics) Option { return func(s *Store) { s.metrics = m } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

// Store is the local-first meeting store.
type Store struct {
	local      Local
	remote     meeting.Store
	breaker    *resilience.CircuitBreaker
	breakerCfg resilience.CircuitBreakerConfig
	metrics    *observe.Metrics
	log        *slog.Logger
}

// New returns a Store over local.
func New(local Local, opts ...Option) *Store {
	s := &Store{local: local, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.remote != nil {
		cfg := s.breakerCfg
		if cfg.Name == "" {
			cfg.Name = "remote-store"
		}
		s.breaker = resilience.NewCircuitBreaker(cfg)
	}
	return s
}

// HasRemote reports whether a remote mirror is configured.
func (s *Store) HasRemote() bool { return s.remote != nil }

// RemoteState reports the remote breaker state. A local-only store reports
// closed.
func (s *Store) RemoteState() resilience.State {
	if s.breaker == nil {
		return resilience.StateClosed
	}
	return s.breaker.State()
}

// List implements meeting.Store. Pending writes are replayed first, then
// local and remote are read concurrently. The remote set wins and replaces
// the owner's cache, except for writes the remote still has not seen.
func (s *Store) List(ctx context.Context, owner string) ([]meeting.Record, error) {
	if s.remote == nil {
		return s.local.List(ctx, owner)
	}

	s.flush(ctx, owner)

	var (
		g                   errgroup.Group
		local, remote       []meeting.Record
		localErr, remoteErr error
	)
	g.Go(func() error {
		local, localErr = s.local.List(ctx, owner)
		return nil
	})
	g.Go(func() error {
		remoteErr = s.breaker.Execute(func() error {
			var err error
			remote, err = s.remote.List(ctx, owner)
			return err
		})
		return nil
	})
	_ = g.Wait()

	if remoteErr != nil {
		s.degraded(ctx, "list", remoteErr)
		return local, localErr
	}
	if localErr != nil {
		s.log.Warn("local cache read failed", "owner", owner, "err", localErr)
		return remote, nil
	}

	pending, err := s.local.Pending(ctx, owner)
	if err != nil {
		s.log.Warn("pending writes unreadable, keeping cache", "owner", owner, "err", err)
		return remote, nil
	}
	merged := merge(remote, local, pending)
	if err := s.local.Replace(ctx, owner, merged); err != nil {
		s.log.Warn("local cache refresh failed", "owner", owner, "err", err)
	}
	return merged, nil
}

// flush replays the owner's pending writes on the remote in order. It stops
// at the first failure; the rest stay queued for the next call.
func (s *Store) flush(ctx context.Context, owner string) {
	pending, err := s.local.Pending(ctx, owner)
	if err != nil {
		s.log.Warn("pending writes unreadable", "owner", owner, "err", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	var byID map[string]meeting.Record
	for _, p := range pending {
		var push func() error
		switch p.Op {
		case store.OpInsert:
			if byID == nil {
				local, err := s.local.List(ctx, owner)
				if err != nil {
					s.log.Warn("pending writes not replayed", "owner", owner, "err", err)
					return
				}
				byID = make(map[string]meeting.Record, len(local))
				for _, r := range local {
					byID[r.ID] = r
				}
			}
			rec, ok := byID[p.ID]
			if !ok {
				// Gone locally without a pending delete: nothing to mirror.
				break
			}
			push = func() error { return s.remoteInsert(ctx, rec) }
		case store.OpDelete:
			push = func() error {
				_, err := s.remoteDelete(ctx, owner, p.ID)
				return err
			}
		}
		if push != nil {
			if err := s.breaker.Execute(push); err != nil {
				s.degraded(ctx, "sync", err)
				return
			}
		}
		if err := s.local.ClearPending(ctx, owner, p.ID); err != nil {
			s.log.Warn("pending write not cleared", "owner", owner, "id", p.ID, "err", err)
		}
	}
	s.log.Info("pending writes replayed", "owner", owner, "count", len(pending))
}

// merge overlays the writes the remote has not seen onto its record set.
func merge(remote, local []meeting.Record, pending []store.Pending) []meeting.Record {
	if len(pending) == 0 {
		return remote
	}
	ops := make(map[string]store.Op, len(pending))
	for _, p := range pending {
		ops[p.ID] = p.Op
	}
	out := make([]meeting.Record, 0, len(remote)+len(pending))
	seen := make(map[string]bool, len(remote))
	for _, r := range remote {
		seen[r.ID] = true
		if ops[r.ID] != store.OpDelete {
			out = append(out, r)
		}
	}
	for _, r := range local {
		if ops[r.ID] == store.OpInsert && !seen[r.ID] {
			out = append(out, r)
		}
	}
	meeting.SortNewestFirst(out)
	return out
}

// Insert implements meeting.Store. A local failure is returned; a remote
// failure queues the record for the next list.
func (s *Store) Insert(ctx context.Context, rec meeting.Record) error {
	if err := s.local.Insert(ctx, rec); err != nil {
		return err
	}
	if s.remote == nil {
		return nil
	}
	err := s.breaker.Execute(func() error { return s.remoteInsert(ctx, rec) })
	if err != nil {
		s.degraded(ctx, "insert", err)
		s.queue(ctx, rec.OwnerID, store.Pending{ID: rec.ID, Op: store.OpInsert})
	}
	return nil
}

// Delete implements meeting.Store. A record missing locally is still
// deleted remotely; ErrNotFound is returned only when neither side had it.
// A remote failure queues the delete for the next list.
func (s *Store) Delete(ctx context.Context, owner, id string) error {
	localErr := s.local.Delete(ctx, owner, id)
	if localErr != nil && !errors.Is(localErr, store.ErrNotFound) {
		return localErr
	}
	if s.remote == nil {
		return localErr
	}

	var remoteMissing bool
	err := s.breaker.Execute(func() error {
		var err error
		remoteMissing, err = s.remoteDelete(ctx, owner, id)
		return err
	})
	switch {
	case err != nil:
		s.degraded(ctx, "delete", err)
		if localErr == nil {
			s.queue(ctx, owner, store.Pending{ID: id, Op: store.OpDelete})
		}
		return localErr
	case remoteMissing:
		s.unqueue(ctx, owner, id)
		return localErr
	}
	s.unqueue(ctx, owner, id)
	return nil
}

func (s *Store) remoteInsert(ctx context.Context, rec meeting.Record) error {
	err := s.remote.Insert(ctx, rec)
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	return err
}

// remoteDelete reports a record the remote never had as missing, not failed.
func (s *Store) remoteDelete(ctx context.Context, owner, id string) (missing bool, err error) {
	err = s.remote.Delete(ctx, owner, id)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	return false, err
}

func (s *Store) queue(ctx context.Context, owner string, p store.Pending) {
	if err := s.local.MarkPending(ctx, owner, p); err != nil {
		s.log.Error("unmirrored write not queued", "owner", owner, "id", p.ID, "op", p.Op, "err", err)
	}
}

func (s *Store) unqueue(ctx context.Context, owner, id string) {
	if err := s.local.ClearPending(ctx, owner, id); err != nil {
		s.log.Warn("pending write not cleared", "owner", owner, "id", id, "err", err)
	}
}

// LoadChat implements meeting.ChatStore. Chats live only in the local cache.
func (s *Store) LoadChat(ctx context.Context, meetingID string) ([]meeting.ChatMessage, error) {
	return s.local.LoadChat(ctx, meetingID)
}

// SaveChat implements meeting.ChatStore.
func (s *Store) SaveChat(ctx context.Context, meetingID string, msgs []meeting.ChatMessage) error {
	return s.local.SaveChat(ctx, meetingID, msgs)
}

// DeleteChat implements meeting.ChatStore.
func (s *Store) DeleteChat(ctx context.Context, meetingID string) error {
	return s.local.DeleteChat(ctx, meetingID)
}

// Similar implements meeting.SimilarityStore. It prefers the remote index
// and falls back to a local scan.
func (s *Store) Similar(ctx context.Context, owner string, vec []float32, k int) ([]meeting.Record, error) {
	if rs, ok := s.remote.(meeting.SimilarityStore); ok {
		var recs []meeting.Record
		err := s.breaker.Execute(func() error {
			var err error
			recs, err = rs.Similar(ctx, owner, vec, k)
			return err
		})
		if err == nil {
			return recs, nil
		}
		s.degraded(ctx, "similar", err)
	}
	if ls, ok := s.local.(meeting.SimilarityStore); ok {
		return ls.Similar(ctx, owner, vec, k)
	}
	return nil, meeting.ErrSearchUnavailable
}

func (s *Store) degraded(ctx context.Context, op string, err error) {
	s.log.Warn("remote store degraded, serving local cache", "op", op, "err", err)
	if s.metrics != nil {
		s.metrics.RecordStoreDegraded(ctx, op)
	}
}
