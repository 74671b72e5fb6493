package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the bridge-local view of a conversation's lifecycle.
// It is not necessarily identical to the inbox platform's own status field.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// ConversationLink correlates one inbox conversation with one AI session.
type ConversationLink struct {
	ID                  uuid.UUID      `json:"id"`
	InboxConversationID string         `json:"inbox_conversation_id"`
	AISessionRef        string         `json:"ai_session_ref,omitempty"` // write-once, empty = unbound
	Status              Status         `json:"status"`
	LastEventSeq        int64          `json:"last_event_seq"`
	AssignedTeam        string         `json:"assigned_team,omitempty"` // empty = no team owns the conversation
	Priority            string         `json:"priority,omitempty"`
	Labels              []string       `json:"labels,omitempty"`
	CustomAttributes    map[string]any `json:"custom_attributes,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// ListOpts holds pagination and filter options for List.
type ListOpts struct {
	Status Status // empty = all
	Limit  int
	Offset int
}

// ListResult is the paginated result of List.
type ListResult struct {
	Links []ConversationLink `json:"conversations"`
	Total int                `json:"total"`
}

// ConversationStore manages ConversationLink rows. Every read-modify-write
// (status transition, sequence check, session binding) is an atomic
// compare-and-set against the stored row.
type ConversationStore interface {
	// GetOrCreate upserts the link for an inbox conversation identifier.
	// New links start in StatusPending with LastEventSeq 0.
	GetOrCreate(ctx context.Context, inboxID string) (*ConversationLink, error)

	// Get returns the link or ErrNotFound.
	Get(ctx context.Context, inboxID string) (*ConversationLink, error)

	// ApplyEventSeq advances LastEventSeq to seq if seq is greater than the
	// stored value. Returns false when the event is a duplicate or arrived
	// out of order (seq <= stored).
	ApplyEventSeq(ctx context.Context, inboxID string, seq int64) (bool, error)

	// TransitionStatus moves the link to the target status only if the
	// current status is one of from. Returns false when another writer
	// already moved the row.
	TransitionStatus(ctx context.Context, inboxID string, to Status, from ...Status) (bool, error)

	// SetStatus writes the status unconditionally. Used for
	// callback-authoritative writes where the bridge value must win.
	SetStatus(ctx context.Context, inboxID string, status Status) error

	// BindSessionRef sets AISessionRef if and only if it is still unbound.
	// Returns false when a ref was already bound.
	BindSessionRef(ctx context.Context, inboxID, ref string) (bool, error)

	// SetAssignedTeam records the owning team. An empty team clears it.
	SetAssignedTeam(ctx context.Context, inboxID, team string) error

	// Cached last-known attribute values, kept so callback idempotency and
	// post-handoff servicing never require an upstream read.
	SetPriority(ctx context.Context, inboxID, priority string) error
	SetLabels(ctx context.Context, inboxID string, labels []string) error
	SetCustomAttributes(ctx context.Context, inboxID string, attrs map[string]any) error

	// List returns links with pagination and optional status filter.
	List(ctx context.Context, opts ListOpts) (ListResult, error)

	// ReleaseStale reverts links stuck in StatusProcessing for longer than
	// olderThan back to StatusPending. Returns the number released.
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// GenNewID returns a time-ordered UUID for new rows.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
