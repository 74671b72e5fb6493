// Package absorber handles state-mutation callbacks originating from the AI
// engine. The contract: missing/null/sentinel values never reach the inbox
// platform and still report success; recognized mutations are idempotent; and
// once a human team owns a conversation, operations needing a full upstream
// read are forbidden and must be serviced from last-known local data.
package absorber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/nextlevelbuilder/chatbridge/internal/gate"
	"github.com/nextlevelbuilder/chatbridge/internal/inbox"
	"github.com/nextlevelbuilder/chatbridge/internal/retry"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

var (
	// ErrValidation marks a malformed or unrecognized callback value.
	ErrValidation = errors.New("invalid callback value")
	// ErrPermission marks an operation that needs upstream read access after
	// a team took ownership. Distinct from validation so the AI engine can
	// tell "can't do that" from "bad input".
	ErrPermission = errors.New("operation requires forbidden read access")
)

// InboxAPI is the slice of the inbox-platform client the absorber consumes.
type InboxAPI interface {
	ToggleStatus(ctx context.Context, conversationID, status string) error
	TogglePriority(ctx context.Context, conversationID, priority string) error
	AddLabels(ctx context.Context, conversationID string, labels []string) error
	UpdateCustomAttributes(ctx context.Context, conversationID string, attrs map[string]any) error
	AssignTeam(ctx context.Context, conversationID string, teamID int64) (*inbox.Conversation, error)
	LookupTeam(ctx context.Context, name string) (int64, error)
	GetConversation(ctx context.Context, conversationID string) (*inbox.Conversation, error)
}

// Service applies AI-originated attribute mutations.
type Service struct {
	links store.ConversationStore
	inbox InboxAPI
	retry retry.Config
}

func New(links store.ConversationStore, inboxAPI InboxAPI) *Service {
	return &Service{
		links: links,
		inbox: inboxAPI,
		retry: retry.DefaultConfig(),
	}
}

var validStatuses = []string{"open", "resolved", "pending", "snoozed"}

var validPriorities = []string{"urgent", "high", "medium", "low"}

// isNoopString reports whether the value is a recognized "do nothing"
// sentinel. Skipping meaningless updates is the bridge's job, not the
// caller's.
func isNoopString(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "null", "none", "nil":
		return true
	}
	return false
}

// upstream runs one inbox mutation with bounded retry. Exhaustion is logged
// and reported to the caller as success: the AI engine must never be told to
// retry a callback the bridge has already recorded.
func (s *Service) upstream(ctx context.Context, conversationID, op string, fn func() error) bool {
	_, err := retry.Do(ctx, s.retry, func() (struct{}, error) {
		err := fn()
		var apiErr *inbox.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return struct{}{}, &retry.Permanent{Err: apiErr}
		}
		return struct{}{}, err
	})
	if err != nil {
		slog.Error("inbox mutation failed", "op", op, "conversation", conversationID, "error", err)
		return false
	}
	return true
}

// ApplyStatus forwards a status change to the inbox platform and persists the
// intended status on the link. The engine's input snapshot cannot read back
// bridge-applied changes, so the bridge-side value is authoritative for
// future classifier decisions.
func (s *Service) ApplyStatus(ctx context.Context, conversationID, status string) error {
	if isNoopString(status) {
		return nil
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if !slices.Contains(validStatuses, status) {
		return fmt.Errorf("%w: status %q", ErrValidation, status)
	}

	link, err := s.links.GetOrCreate(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}

	target, hasLocal := bridgeStatus(status)
	if hasLocal && link.Status == target {
		return nil // already applied
	}

	if !s.upstream(ctx, conversationID, "toggle_status", func() error {
		return s.inbox.ToggleStatus(ctx, conversationID, status)
	}) {
		return nil
	}

	if hasLocal && gate.Allowed(link.Status, target, gate.CauseResolveCallback) {
		if err := s.links.SetStatus(ctx, conversationID, target); err != nil {
			return fmt.Errorf("persist status: %w", err)
		}
	} else if hasLocal && target == store.StatusPending && link.Status != store.StatusProcessing {
		// Pending re-opens the conversation for dispatch unless a claim is
		// already in flight.
		if err := s.links.SetStatus(ctx, conversationID, target); err != nil {
			return fmt.Errorf("persist status: %w", err)
		}
	}
	return nil
}

// bridgeStatus maps an inbox status to its bridge-local representation.
// "open" and "snoozed" have none: a human owns the pace and the bridge status
// is left untouched.
func bridgeStatus(status string) (store.Status, bool) {
	switch status {
	case "resolved":
		return store.StatusResolved, true
	case "pending":
		return store.StatusPending, true
	}
	return "", false
}

// ApplyPriority forwards a priority change and caches the last-known value.
func (s *Service) ApplyPriority(ctx context.Context, conversationID, priority string) error {
	if isNoopString(priority) {
		return nil
	}
	priority = strings.ToLower(strings.TrimSpace(priority))
	if !slices.Contains(validPriorities, priority) {
		return fmt.Errorf("%w: priority %q", ErrValidation, priority)
	}

	link, err := s.links.GetOrCreate(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}
	if link.Priority == priority {
		return nil
	}

	if !s.upstream(ctx, conversationID, "toggle_priority", func() error {
		return s.inbox.TogglePriority(ctx, conversationID, priority)
	}) {
		return nil
	}
	if err := s.links.SetPriority(ctx, conversationID, priority); err != nil {
		return fmt.Errorf("cache priority: %w", err)
	}
	return nil
}

// ApplyLabels replaces the conversation's label set.
func (s *Service) ApplyLabels(ctx context.Context, conversationID string, labels []string) error {
	cleaned := make([]string, 0, len(labels))
	for _, l := range labels {
		if !isNoopString(l) {
			cleaned = append(cleaned, strings.TrimSpace(l))
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	slices.Sort(cleaned)
	cleaned = slices.Compact(cleaned)

	link, err := s.links.GetOrCreate(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}
	stored := slices.Clone(link.Labels)
	slices.Sort(stored)
	if slices.Equal(stored, cleaned) {
		return nil
	}

	if !s.upstream(ctx, conversationID, "labels", func() error {
		return s.inbox.AddLabels(ctx, conversationID, cleaned)
	}) {
		return nil
	}
	if err := s.links.SetLabels(ctx, conversationID, cleaned); err != nil {
		return fmt.Errorf("cache labels: %w", err)
	}
	return nil
}

// ApplyCustomAttributes merges attributes into the conversation. While the
// bridge still owns the conversation the merge base is read back from the
// inbox platform; once a team owns it, read access is gone and the merge is
// serviced from the locally cached copy only. With a team assigned and no
// local copy the operation cannot be fulfilled at all.
func (s *Service) ApplyCustomAttributes(ctx context.Context, conversationID string, attrs map[string]any) error {
	for k, v := range attrs {
		if v == nil {
			delete(attrs, k)
			continue
		}
		if sv, ok := v.(string); ok && isNoopString(sv) {
			delete(attrs, k)
		}
	}
	if len(attrs) == 0 {
		return nil
	}

	link, err := s.links.GetOrCreate(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}

	var base map[string]any
	if link.AssignedTeam == "" {
		conv, err := s.inbox.GetConversation(ctx, conversationID)
		if err != nil {
			slog.Error("conversation read failed, falling back to cached attributes",
				"conversation", conversationID, "error", err)
			base = link.CustomAttributes
		} else {
			base = conv.CustomAttributes
		}
	} else {
		if link.CustomAttributes == nil {
			return fmt.Errorf("%w: custom attribute merge for team-owned conversation %s",
				ErrPermission, conversationID)
		}
		base = link.CustomAttributes
	}

	merged := make(map[string]any, len(base)+len(attrs))
	maps.Copy(merged, base)
	changed := false
	for k, v := range attrs {
		if cur, ok := merged[k]; !ok || fmt.Sprint(cur) != fmt.Sprint(v) {
			changed = true
		}
		merged[k] = v
	}
	if !changed {
		return nil
	}

	if !s.upstream(ctx, conversationID, "custom_attributes", func() error {
		return s.inbox.UpdateCustomAttributes(ctx, conversationID, merged)
	}) {
		return nil
	}
	if err := s.links.SetCustomAttributes(ctx, conversationID, merged); err != nil {
		return fmt.Errorf("cache custom attributes: %w", err)
	}
	return nil
}

// ApplyTeam assigns the conversation to a team by name, narrowing future
// permission checks. If the platform reports the conversation resolved after
// the assignment, the resolved transition is pushed through the state machine.
func (s *Service) ApplyTeam(ctx context.Context, conversationID, team string) error {
	if isNoopString(team) {
		return nil
	}
	team = strings.TrimSpace(team)

	link, err := s.links.GetOrCreate(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}
	if strings.EqualFold(link.AssignedTeam, team) {
		return nil
	}

	teamID, err := s.inbox.LookupTeam(ctx, team)
	if err != nil {
		return fmt.Errorf("%w: unknown team %q", ErrValidation, team)
	}

	var conv *inbox.Conversation
	if !s.upstream(ctx, conversationID, "assign_team", func() error {
		var aerr error
		conv, aerr = s.inbox.AssignTeam(ctx, conversationID, teamID)
		return aerr
	}) {
		return nil
	}

	if err := s.links.SetAssignedTeam(ctx, conversationID, team); err != nil {
		return fmt.Errorf("record team: %w", err)
	}

	if conv != nil && conv.Status == "resolved" &&
		gate.Allowed(link.Status, store.StatusResolved, gate.CauseResolveCallback) {
		if err := s.links.SetStatus(ctx, conversationID, store.StatusResolved); err != nil {
			return fmt.Errorf("persist resolved status: %w", err)
		}
	}
	return nil
}
