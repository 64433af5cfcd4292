package localfirst_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/observe"
	"github.com/MrWong99/minutas/internal/resilience"
	"github.com/MrWong99/minutas/internal/store"
	"github.com/MrWong99/minutas/internal/store/localfirst"
	"github.com/MrWong99/minutas/internal/store/memory"
)

var errOffline = errors.New("remote offline")

// flakyRemote is a memory store that can be switched offline.
type flakyRemote struct {
	*memory.Store

	mu      sync.Mutex
	offline bool
	calls   int
}

func newRemote() *flakyRemote { return &flakyRemote{Store: memory.New()} }

func (r *flakyRemote) setOffline(v bool) {
	r.mu.Lock()
	r.offline = v
	r.mu.Unlock()
}

func (r *flakyRemote) check() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.offline {
		return errOffline
	}
	return nil
}

func (r *flakyRemote) List(ctx context.Context, owner string) ([]meeting.Record, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return r.Store.List(ctx, owner)
}

func (r *flakyRemote) Insert(ctx context.Context, rec meeting.Record) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.Store.Insert(ctx, rec)
}

func (r *flakyRemote) Delete(ctx context.Context, owner, id string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.Store.Delete(ctx, owner, id)
}

func (r *flakyRemote) Similar(ctx context.Context, owner string, vec []float32, k int) ([]meeting.Record, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return r.Store.Similar(ctx, owner, vec, k)
}

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func degradedCount(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "minutas.store.degraded" {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func rec(id, owner string) meeting.Record {
	return meeting.Record{ID: id, OwnerID: owner, Title: "m" + id}
}

func TestLocalOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := localfirst.New(memory.New())
	if s.HasRemote() || s.RemoteState() != resilience.StateClosed {
		t.Fatal("local-only store reports a remote")
	}
	if err := s.Insert(ctx, rec("1", "ana")); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.List(ctx, "ana"); len(got) != 1 {
		t.Errorf("List = %+v", got)
	}
	if err := s.Delete(ctx, "ana", "9"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Delete missing = %v, want ErrNotFound", err)
	}
}

func TestInsert_MirrorsToRemote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local, remote := memory.New(), newRemote()
	s := localfirst.New(local, localfirst.WithRemote(remote))

	if err := s.Insert(ctx, rec("1", "ana")); err != nil {
		t.Fatal(err)
	}
	if got, _ := remote.Store.List(ctx, "ana"); len(got) != 1 {
		t.Errorf("remote = %+v, want mirrored record", got)
	}
	if err := s.Insert(ctx, rec("1", "ana")); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate = %v, want local ErrDuplicate", err)
	}
}

func TestInsert_RemoteFailureIsSilent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, reader := newMetrics(t)
	local, remote := memory.New(), newRemote()
	remote.setOffline(true)
	s := localfirst.New(local, localfirst.WithRemote(remote), localfirst.WithMetrics(m))

	if err := s.Insert(ctx, rec("1", "ana")); err != nil {
		t.Fatalf("Insert = %v, want nil despite remote failure", err)
	}
	if got, _ := local.List(ctx, "ana"); len(got) != 1 {
		t.Errorf("local = %+v", got)
	}
	if n := degradedCount(t, reader); n != 1 {
		t.Errorf("degraded = %d, want 1", n)
	}
}

func TestList_PrefersRemoteAndRefreshesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local, remote := memory.New(), newRemote()
	_ = local.Insert(ctx, rec("1", "ana")) // stale
	_ = remote.Store.Insert(ctx, rec("2", "ana"))
	_ = remote.Store.Insert(ctx, rec("3", "ana"))
	s := localfirst.New(local, localfirst.WithRemote(remote))

	got, err := s.List(ctx, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "3" {
		t.Fatalf("List = %+v, want remote set", got)
	}
	cached, _ := local.List(ctx, "ana")
	if len(cached) != 2 || cached[1].ID != "2" {
		t.Errorf("cache = %+v, want replaced by remote set", cached)
	}

	remote.setOffline(true)
	got, err = s.List(ctx, "ana")
	if err != nil || len(got) != 2 {
		t.Errorf("offline List = %+v, %v; want cached set", got, err)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local, remote := memory.New(), newRemote()
	s := localfirst.New(local, localfirst.WithRemote(remote))
	_ = s.Insert(ctx, rec("1", "ana"))
	_ = remote.Store.Insert(ctx, rec("2", "ana")) // remote only

	if err := s.Delete(ctx, "ana", "1"); err != nil {
		t.Fatalf("Delete both = %v", err)
	}
	if err := s.Delete(ctx, "ana", "2"); err != nil {
		t.Fatalf("Delete remote-only = %v", err)
	}
	if got, _ := remote.Store.List(ctx, "ana"); len(got) != 0 {
		t.Errorf("remote = %+v", got)
	}
	if err := s.Delete(ctx, "ana", "3"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Delete missing = %v, want ErrNotFound", err)
	}

	_ = s.Insert(ctx, rec("4", "ana"))
	remote.setOffline(true)
	if err := s.Delete(ctx, "ana", "4"); err != nil {
		t.Errorf("Delete with remote offline = %v, want nil", err)
	}
}

func TestBreakerStopsCallingRemote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	remote := newRemote()
	remote.setOffline(true)
	s := localfirst.New(memory.New(), localfirst.WithRemote(remote),
		localfirst.WithBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}))

	for range 5 {
		_, _ = s.List(ctx, "ana")
	}
	if s.RemoteState() != resilience.StateOpen {
		t.Fatalf("state = %v, want open", s.RemoteState())
	}
	remote.mu.Lock()
	calls := remote.calls
	remote.mu.Unlock()
	if calls != 2 {
		t.Errorf("remote calls = %d, want 2", calls)
	}
}

func TestSimilar_FallsBackToLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local, remote := memory.New(), newRemote()
	s := localfirst.New(local, localfirst.WithRemote(remote))
	r := rec("1", "ana")
	r.Embedding = []float32{1, 0}
	_ = s.Insert(ctx, r)

	remote.setOffline(true)
	got, err := s.Similar(ctx, "ana", []float32{1, 0}, 3)
	if err != nil || len(got) != 1 {
		t.Fatalf("Similar = %+v, %v", got, err)
	}
}

func TestChatsStayLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := localfirst.New(memory.New(), localfirst.WithRemote(newRemote()))
	msgs := []meeting.ChatMessage{{ID: "1", Role: meeting.RoleModel, Text: "hi"}}
	if err := s.SaveChat(ctx, "m", msgs); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.LoadChat(ctx, "m"); len(got) != 1 {
		t.Errorf("LoadChat = %+v", got)
	}
	if err := s.DeleteChat(ctx, "m"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.LoadChat(ctx, "m"); got != nil {
		t.Errorf("after delete = %+v", got)
	}
}

func TestList_ReplaysInsertMadeOffline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local, remote := memory.New(), newRemote()
	_ = remote.Store.Insert(ctx, rec("1", "ana"))
	s := localfirst.New(local, localfirst.WithRemote(remote))

	remote.setOffline(true)
	if err := s.Insert(ctx, rec("2", "ana")); err != nil {
		t.Fatal(err)
	}
	// Still offline: the cache serves the write and keeps it queued.
	if got, _ := s.List(ctx, "ana"); len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("offline List = %+v", got)
	}
	if p, _ := local.Pending(ctx, "ana"); len(p) != 1 || p[0].Op != store.OpInsert {
		t.Fatalf("pending = %+v, want queued insert", p)
	}

	remote.setOffline(false)
	got, err := s.List(ctx, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "2" {
		t.Errorf("List = %+v, want remote set plus offline write", got)
	}
	if cached, _ := local.List(ctx, "ana"); len(cached) != 2 {
		t.Errorf("cache = %+v, want offline write kept", cached)
	}
	if mirrored, _ := remote.Store.List(ctx, "ana"); len(mirrored) != 2 {
		t.Errorf("remote = %+v, want offline write mirrored", mirrored)
	}
	if p, _ := local.Pending(ctx, "ana"); len(p) != 0 {
		t.Errorf("pending = %+v, want drained", p)
	}
}

func TestList_ReplaysDeleteMadeOffline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local, remote := memory.New(), newRemote()
	s := localfirst.New(local, localfirst.WithRemote(remote))
	_ = s.Insert(ctx, rec("1", "ana"))
	_ = s.Insert(ctx, rec("2", "ana"))

	remote.setOffline(true)
	if err := s.Delete(ctx, "ana", "1"); err != nil {
		t.Fatal(err)
	}
	remote.setOffline(false)

	got, err := s.List(ctx, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "2" {
		t.Errorf("List = %+v, want deleted record gone", got)
	}
	if mirrored, _ := remote.Store.List(ctx, "ana"); len(mirrored) != 1 {
		t.Errorf("remote = %+v, want delete mirrored", mirrored)
	}
	if cached, _ := local.List(ctx, "ana"); len(cached) != 1 {
		t.Errorf("cache = %+v, want delete not resurrected", cached)
	}
}

// failingReplay accepts reads but rejects inserts, so queued writes stay
// queued while the remote list succeeds.
type failingReplay struct{ *flakyRemote }

func (r failingReplay) Insert(context.Context, meeting.Record) error { return errOffline }

func TestList_MergesWritesStillQueued(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local, remote := memory.New(), newRemote()
	_ = remote.Store.Insert(ctx, rec("1", "ana"))
	_ = remote.Store.Insert(ctx, rec("3", "ana"))
	_ = local.Insert(ctx, rec("3", "ana"))
	s := localfirst.New(local, localfirst.WithRemote(failingReplay{remote}),
		localfirst.WithBreaker(resilience.CircuitBreakerConfig{MaxFailures: 100}))

	_ = s.Insert(ctx, rec("2", "ana"))
	remote.setOffline(true)
	_ = s.Delete(ctx, "ana", "3")
	remote.setOffline(false)

	got, err := s.List(ctx, "ana")
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	if len(ids) != 2 || ids[0] != "2" || ids[1] != "1" {
		t.Errorf("List ids = %v, want [2 1]", ids)
	}
	if p, _ := local.Pending(ctx, "ana"); len(p) != 2 {
		t.Errorf("pending = %+v, want both writes still queued", p)
	}
}
