package memory

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

func TestGetOrCreate(t *testing.T) {
	s := New()
	ctx := context.Background()

	l1, err := s.GetOrCreate(ctx, "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l1.Status != store.StatusPending {
		t.Errorf("new link status = %s, want pending", l1.Status)
	}
	if l1.LastEventSeq != 0 {
		t.Errorf("new link seq = %d, want 0", l1.LastEventSeq)
	}

	// Upsert: same identity, same row.
	l2, err := s.GetOrCreate(ctx, "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l1.ID != l2.ID {
		t.Errorf("upsert created a new row")
	}
}

func TestGetNotFound(t *testing.T) {
	s := New()
	if _, err := s.Get(context.Background(), "nope"); err != store.ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestApplyEventSeq(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.GetOrCreate(ctx, "1")

	tests := []struct {
		seq  int64
		want bool
	}{
		{10, true},
		{10, false}, // duplicate
		{5, false},  // out of order
		{11, true},
	}
	for _, tt := range tests {
		got, err := s.ApplyEventSeq(ctx, "1", tt.seq)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tt.want {
			t.Errorf("ApplyEventSeq(%d) = %v, want %v", tt.seq, got, tt.want)
		}
	}
	l, _ := s.Get(ctx, "1")
	if l.LastEventSeq != 11 {
		t.Errorf("final seq = %d, want 11", l.LastEventSeq)
	}
}

func TestTransitionStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.GetOrCreate(ctx, "1")

	ok, err := s.TransitionStatus(ctx, "1", store.StatusProcessing, store.StatusPending)
	if err != nil || !ok {
		t.Fatalf("claim failed: ok=%v err=%v", ok, err)
	}

	// Compare-and-set: the second claim must lose.
	ok, err = s.TransitionStatus(ctx, "1", store.StatusProcessing, store.StatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("second claim won against a held claim")
	}

	// Multiple from-states.
	ok, _ = s.TransitionStatus(ctx, "1", store.StatusResolved, store.StatusPending, store.StatusProcessing)
	if !ok {
		t.Error("transition with multiple from-states failed")
	}
}

func TestBindSessionRef(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.GetOrCreate(ctx, "1")

	ok, err := s.BindSessionRef(ctx, "1", "sess-a")
	if err != nil || !ok {
		t.Fatalf("bind failed: ok=%v err=%v", ok, err)
	}
	// Write-once.
	ok, err = s.BindSessionRef(ctx, "1", "sess-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("second bind succeeded")
	}
	l, _ := s.Get(ctx, "1")
	if l.AISessionRef != "sess-a" {
		t.Errorf("session ref = %q, want sess-a", l.AISessionRef)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.GetOrCreate(ctx, "1")
	s.SetLabels(ctx, "1", []string{"a"})
	s.SetCustomAttributes(ctx, "1", map[string]any{"k": "v"})

	l, _ := s.Get(ctx, "1")
	l.Labels[0] = "mutated"
	l.CustomAttributes["k"] = "mutated"

	fresh, _ := s.Get(ctx, "1")
	if fresh.Labels[0] != "a" || fresh.CustomAttributes["k"] != "v" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestList(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		s.GetOrCreate(ctx, id)
	}
	s.SetStatus(ctx, "2", store.StatusResolved)

	all, err := s.List(ctx, store.ListOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if all.Total != 3 || len(all.Links) != 3 {
		t.Errorf("total = %d, links = %d", all.Total, len(all.Links))
	}

	resolved, _ := s.List(ctx, store.ListOpts{Status: store.StatusResolved})
	if resolved.Total != 1 || resolved.Links[0].InboxConversationID != "2" {
		t.Errorf("status filter returned %+v", resolved)
	}

	paged, _ := s.List(ctx, store.ListOpts{Limit: 2, Offset: 2})
	if paged.Total != 3 || len(paged.Links) != 1 {
		t.Errorf("pagination: total = %d, links = %d", paged.Total, len(paged.Links))
	}
}

func TestReleaseStale(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.GetOrCreate(ctx, "stuck")
	s.GetOrCreate(ctx, "fresh")
	s.TransitionStatus(ctx, "stuck", store.StatusProcessing, store.StatusPending)
	s.TransitionStatus(ctx, "fresh", store.StatusProcessing, store.StatusPending)

	// Age the stuck claim past the cutoff.
	s.mu.Lock()
	s.links["stuck"].UpdatedAt = time.Now().UTC().Add(-time.Hour)
	s.mu.Unlock()

	released, err := s.ReleaseStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}
	stuck, _ := s.Get(ctx, "stuck")
	if stuck.Status != store.StatusPending {
		t.Errorf("stuck status = %s, want pending", stuck.Status)
	}
	fresh, _ := s.Get(ctx, "fresh")
	if fresh.Status != store.StatusProcessing {
		t.Errorf("fresh claim was released")
	}
}
