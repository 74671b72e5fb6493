package absorber

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatbridge/internal/inbox"
	"github.com/nextlevelbuilder/chatbridge/internal/retry"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
	"github.com/nextlevelbuilder/chatbridge/internal/store/memory"
)

// fakeInbox records every upstream mutation so tests can assert exactly
// which calls reached the platform.
type fakeInbox struct {
	calls []string
	teams map[string]int64

	conv      *inbox.Conversation // returned by GetConversation / AssignTeam
	getErr    error
	mutateErr error
}

func (f *fakeInbox) ToggleStatus(ctx context.Context, id, status string) error {
	f.calls = append(f.calls, "toggle_status:"+status)
	return f.mutateErr
}

func (f *fakeInbox) TogglePriority(ctx context.Context, id, priority string) error {
	f.calls = append(f.calls, "toggle_priority:"+priority)
	return f.mutateErr
}

func (f *fakeInbox) AddLabels(ctx context.Context, id string, labels []string) error {
	f.calls = append(f.calls, "labels")
	return f.mutateErr
}

func (f *fakeInbox) UpdateCustomAttributes(ctx context.Context, id string, attrs map[string]any) error {
	f.calls = append(f.calls, "custom_attributes")
	return f.mutateErr
}

func (f *fakeInbox) AssignTeam(ctx context.Context, id string, teamID int64) (*inbox.Conversation, error) {
	f.calls = append(f.calls, "assign_team")
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	return f.conv, nil
}

func (f *fakeInbox) LookupTeam(ctx context.Context, name string) (int64, error) {
	if id, ok := f.teams[name]; ok {
		return id, nil
	}
	return 0, errors.New("no such team")
}

func (f *fakeInbox) GetConversation(ctx context.Context, id string) (*inbox.Conversation, error) {
	f.calls = append(f.calls, "get_conversation")
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.conv, nil
}

func newService(t *testing.T, fi *fakeInbox) (*Service, store.ConversationStore) {
	t.Helper()
	links := memory.New()
	svc := New(links, fi)
	svc.retry = retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return svc, links
}

func TestApplyStatusNoopSentinels(t *testing.T) {
	fi := &fakeInbox{}
	svc, _ := newService(t, fi)

	for _, v := range []string{"", "null", "None", "NIL", "  "} {
		if err := svc.ApplyStatus(context.Background(), "1", v); err != nil {
			t.Errorf("sentinel %q returned error: %v", v, err)
		}
	}
	if len(fi.calls) != 0 {
		t.Errorf("sentinels reached upstream: %v", fi.calls)
	}
}

func TestApplyStatusInvalid(t *testing.T) {
	svc, _ := newService(t, &fakeInbox{})
	err := svc.ApplyStatus(context.Background(), "1", "escalated")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestApplyStatusResolved(t *testing.T) {
	fi := &fakeInbox{}
	svc, links := newService(t, fi)
	ctx := context.Background()

	if err := svc.ApplyStatus(ctx, "1", "resolved"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fi.calls) != 1 || fi.calls[0] != "toggle_status:resolved" {
		t.Errorf("calls = %v", fi.calls)
	}
	link, _ := links.Get(ctx, "1")
	if link.Status != store.StatusResolved {
		t.Errorf("status = %s, want resolved", link.Status)
	}

	// Second resolve is idempotent: no second upstream call.
	if err := svc.ApplyStatus(ctx, "1", "resolved"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fi.calls) != 1 {
		t.Errorf("idempotent resolve reached upstream again: %v", fi.calls)
	}
}

func TestApplyStatusUpstreamFailureAbsorbed(t *testing.T) {
	fi := &fakeInbox{mutateErr: &inbox.APIError{StatusCode: 422}}
	svc, links := newService(t, fi)
	ctx := context.Background()

	// A permanent upstream failure is logged and absorbed: the engine must
	// never be told to retry.
	if err := svc.ApplyStatus(ctx, "1", "resolved"); err != nil {
		t.Fatalf("upstream failure surfaced: %v", err)
	}
	link, _ := links.Get(ctx, "1")
	if link.Status != store.StatusPending {
		t.Errorf("failed mutation still persisted status %s", link.Status)
	}
}

func TestApplyStatusOpenLeavesBridgeStatus(t *testing.T) {
	fi := &fakeInbox{}
	svc, links := newService(t, fi)
	ctx := context.Background()

	if err := svc.ApplyStatus(ctx, "1", "open"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fi.calls) != 1 {
		t.Errorf("open was not forwarded: %v", fi.calls)
	}
	link, _ := links.Get(ctx, "1")
	if link.Status != store.StatusPending {
		t.Errorf("open changed bridge status to %s", link.Status)
	}
}

func TestApplyPriority(t *testing.T) {
	fi := &fakeInbox{}
	svc, links := newService(t, fi)
	ctx := context.Background()

	if err := svc.ApplyPriority(ctx, "1", "High"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	link, _ := links.Get(ctx, "1")
	if link.Priority != "high" {
		t.Errorf("cached priority = %q", link.Priority)
	}

	// Same value again: no upstream call.
	if err := svc.ApplyPriority(ctx, "1", "high"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fi.calls) != 1 {
		t.Errorf("idempotent priority reached upstream again: %v", fi.calls)
	}

	if err := svc.ApplyPriority(ctx, "1", "critical"); !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestApplyLabels(t *testing.T) {
	fi := &fakeInbox{}
	svc, links := newService(t, fi)
	ctx := context.Background()

	if err := svc.ApplyLabels(ctx, "1", []string{"billing", "null", "urgent", "billing"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	link, _ := links.Get(ctx, "1")
	want := []string{"billing", "urgent"}
	if len(link.Labels) != 2 || link.Labels[0] != want[0] || link.Labels[1] != want[1] {
		t.Errorf("labels = %v, want %v", link.Labels, want)
	}

	// Same set in different order: idempotent.
	if err := svc.ApplyLabels(ctx, "1", []string{"urgent", "billing"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fi.calls) != 1 {
		t.Errorf("idempotent labels reached upstream again: %v", fi.calls)
	}

	// All-sentinel list is a no-op, not an error.
	if err := svc.ApplyLabels(ctx, "1", []string{"null", ""}); err != nil {
		t.Errorf("sentinel-only labels errored: %v", err)
	}
	if len(fi.calls) != 1 {
		t.Errorf("sentinel-only labels reached upstream: %v", fi.calls)
	}
}

func TestApplyCustomAttributesMergeFromUpstream(t *testing.T) {
	fi := &fakeInbox{conv: &inbox.Conversation{
		CustomAttributes: map[string]any{"plan": "pro", "region": "eu"},
	}}
	svc, links := newService(t, fi)
	ctx := context.Background()

	if err := svc.ApplyCustomAttributes(ctx, "1", map[string]any{"region": "us", "vip": true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	link, _ := links.Get(ctx, "1")
	if link.CustomAttributes["plan"] != "pro" {
		t.Errorf("upstream base lost: %v", link.CustomAttributes)
	}
	if link.CustomAttributes["region"] != "us" {
		t.Errorf("merge did not apply: %v", link.CustomAttributes)
	}
	if link.CustomAttributes["vip"] != true {
		t.Errorf("new key missing: %v", link.CustomAttributes)
	}
}

func TestApplyCustomAttributesSentinelsDropped(t *testing.T) {
	fi := &fakeInbox{teams: map[string]int64{"support": 9}}
	svc, _ := newService(t, fi)
	ctx := context.Background()

	if err := svc.ApplyTeam(ctx, "1", "support"); err != nil {
		t.Fatalf("team assignment failed: %v", err)
	}
	before := len(fi.calls)

	// Every value is null-ish. Even with a team assigned and no cached
	// attributes this must succeed without touching the platform.
	err := svc.ApplyCustomAttributes(ctx, "1", map[string]any{
		"tier": nil, "note": "null", "flag": "None",
	})
	if err != nil {
		t.Fatalf("all-sentinel attributes errored: %v", err)
	}
	if len(fi.calls) != before {
		t.Errorf("sentinel attributes reached upstream: %v", fi.calls[before:])
	}
}

func TestApplyCustomAttributesPermission(t *testing.T) {
	fi := &fakeInbox{teams: map[string]int64{"support": 9}}
	svc, _ := newService(t, fi)
	ctx := context.Background()

	if err := svc.ApplyTeam(ctx, "1", "support"); err != nil {
		t.Fatalf("team assignment failed: %v", err)
	}

	// Team owns the conversation and the bridge never cached attributes:
	// the merge base is unreadable.
	err := svc.ApplyCustomAttributes(ctx, "1", map[string]any{"tier": "gold"})
	if !errors.Is(err, ErrPermission) {
		t.Errorf("error = %v, want ErrPermission", err)
	}
	for _, call := range fi.calls {
		if call == "get_conversation" {
			t.Errorf("team-owned conversation was read upstream")
		}
	}
}

func TestApplyCustomAttributesTeamUsesCache(t *testing.T) {
	fi := &fakeInbox{
		teams: map[string]int64{"support": 9},
		conv:  &inbox.Conversation{CustomAttributes: map[string]any{"plan": "pro"}},
	}
	svc, links := newService(t, fi)
	ctx := context.Background()

	// Build a cache before the handoff, then assign the team.
	if err := svc.ApplyCustomAttributes(ctx, "1", map[string]any{"source": "chat"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.ApplyTeam(ctx, "1", "support"); err != nil {
		t.Fatalf("team assignment failed: %v", err)
	}
	before := len(fi.calls)

	if err := svc.ApplyCustomAttributes(ctx, "1", map[string]any{"tier": "gold"}); err != nil {
		t.Fatalf("cached merge failed: %v", err)
	}
	for _, call := range fi.calls[before:] {
		if call == "get_conversation" {
			t.Errorf("cached merge read upstream after handoff")
		}
	}
	link, _ := links.Get(ctx, "1")
	if link.CustomAttributes["source"] != "chat" || link.CustomAttributes["tier"] != "gold" {
		t.Errorf("merged attributes = %v", link.CustomAttributes)
	}
}

func TestApplyTeam(t *testing.T) {
	fi := &fakeInbox{teams: map[string]int64{"escalations": 4}}
	svc, links := newService(t, fi)
	ctx := context.Background()

	if err := svc.ApplyTeam(ctx, "1", "escalations"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	link, _ := links.Get(ctx, "1")
	if link.AssignedTeam != "escalations" {
		t.Errorf("assigned team = %q", link.AssignedTeam)
	}

	// Case-insensitive idempotency.
	before := len(fi.calls)
	if err := svc.ApplyTeam(ctx, "1", "Escalations"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fi.calls) != before {
		t.Errorf("idempotent assignment reached upstream: %v", fi.calls[before:])
	}

	if err := svc.ApplyTeam(ctx, "1", "no-such-team"); !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestApplyTeamResolvedConversation(t *testing.T) {
	fi := &fakeInbox{
		teams: map[string]int64{"support": 9},
		conv:  &inbox.Conversation{Status: "resolved"},
	}
	svc, links := newService(t, fi)
	ctx := context.Background()

	if err := svc.ApplyTeam(ctx, "1", "support"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	link, _ := links.Get(ctx, "1")
	if link.Status != store.StatusResolved {
		t.Errorf("status = %s, want resolved after platform reported resolution", link.Status)
	}
}
