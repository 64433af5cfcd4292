package memory_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/minutas/internal/meeting"
	"github.com/MrWong99/minutas/internal/store"
	"github.com/MrWong99/minutas/internal/store/memory"
)

func rec(id, owner string, emb ...float32) meeting.Record {
	return meeting.Record{ID: id, OwnerID: owner, Title: "m" + id, Embedding: emb}
}

func TestStore_ListNewestFirstPerOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	for _, r := range []meeting.Record{rec("1000", "ana"), rec("3000", "ana"), rec("2000", "ana"), rec("4000", "bob")} {
		if err := s.Insert(ctx, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	got, err := s.List(ctx, "ana")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"3000", "2000", "1000"}
	if len(got) != len(want) {
		t.Fatalf("List = %d records, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("List[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
	if got, _ := s.List(ctx, "nobody"); got == nil || len(got) != 0 {
		t.Errorf("List(nobody) = %v, want empty non-nil", got)
	}
}

func TestStore_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var s memory.Store // zero value is usable
	if err := s.Insert(ctx, rec("1", "ana")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate insert", s.Insert(ctx, rec("1", "ana")), store.ErrDuplicate},
		{"delete unknown", s.Delete(ctx, "ana", "2"), store.ErrNotFound},
		{"delete other owner", s.Delete(ctx, "bob", "1"), store.ErrNotFound},
	}
	for _, tc := range tests {
		if !errors.Is(tc.err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, tc.err, tc.want)
		}
	}
	if err := s.Delete(ctx, "ana", "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestStore_Replace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	_ = s.Insert(ctx, rec("1", "ana"))
	_ = s.Insert(ctx, rec("2", "bob"))

	if err := s.Replace(ctx, "ana", []meeting.Record{rec("5", ""), rec("6", "")}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.List(ctx, "ana")
	if len(got) != 2 || got[0].ID != "6" || got[0].OwnerID != "ana" {
		t.Errorf("List after Replace = %+v", got)
	}
	if bob, _ := s.List(ctx, "bob"); len(bob) != 1 {
		t.Errorf("other owners must be untouched, got %+v", bob)
	}
}

func TestStore_Chats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	if msgs, err := s.LoadChat(ctx, "m1"); err != nil || len(msgs) != 0 {
		t.Fatalf("LoadChat(empty) = %v, %v", msgs, err)
	}
	in := []meeting.ChatMessage{{ID: "1", Role: meeting.RoleUser, Text: "hi"}}
	_ = s.SaveChat(ctx, "m1", in)
	in[0].Text = "mutated"
	got, _ := s.LoadChat(ctx, "m1")
	if len(got) != 1 || got[0].Text != "hi" {
		t.Errorf("LoadChat = %+v, want stored copy", got)
	}
	_ = s.DeleteChat(ctx, "m1")
	if got, _ := s.LoadChat(ctx, "m1"); len(got) != 0 {
		t.Errorf("LoadChat after delete = %+v", got)
	}
}

func TestStore_Similar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	_ = s.Insert(ctx, rec("1", "ana", 1, 0))
	_ = s.Insert(ctx, rec("2", "ana", 0, 1))
	_ = s.Insert(ctx, rec("3", "ana", 0.9, 0.1))
	_ = s.Insert(ctx, rec("4", "bob", 1, 0))
	_ = s.Insert(ctx, rec("5", "ana")) // no embedding

	got, err := s.Similar(ctx, "ana", []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Errorf("Similar = %+v, want records 1 and 3", got)
	}
}

func TestStore_Pending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	_ = s.MarkPending(ctx, "ana", store.Pending{ID: "1", Op: store.OpInsert})
	_ = s.MarkPending(ctx, "ana", store.Pending{ID: "2", Op: store.OpInsert})
	_ = s.MarkPending(ctx, "bob", store.Pending{ID: "3", Op: store.OpDelete})
	// A later write on the same meeting replaces the earlier one and moves last.
	if err := s.MarkPending(ctx, "ana", store.Pending{ID: "1", Op: store.OpDelete}); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}

	got, err := s.Pending(ctx, "ana")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	want := []store.Pending{{ID: "2", Op: store.OpInsert}, {ID: "1", Op: store.OpDelete}}
	if !slices.Equal(got, want) {
		t.Errorf("Pending(ana) = %+v, want %+v", got, want)
	}

	if err := s.ClearPending(ctx, "ana", "2"); err != nil {
		t.Fatalf("ClearPending: %v", err)
	}
	_ = s.ClearPending(ctx, "ana", "missing")
	if got, _ := s.Pending(ctx, "ana"); !slices.Equal(got, want[1:]) {
		t.Errorf("Pending(ana) after clear = %+v", got)
	}
	if got, _ := s.Pending(ctx, "bob"); len(got) != 1 || got[0].ID != "3" {
		t.Errorf("Pending(bob) = %+v, want untouched", got)
	}
}
