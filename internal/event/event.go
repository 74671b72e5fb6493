// Package event normalizes inbound inbox-platform webhook payloads into a
// closed set of event shapes. Decoding happens once at the boundary; the
// classifier never inspects raw payload fields.
package event

import "errors"

// ErrValidation marks a malformed inbound payload. Validation failures are
// reported to the caller and never retried.
var ErrValidation = errors.New("invalid event payload")

// Kind is the recognized set of inbox event types.
type Kind string

const (
	KindConversationCreated Kind = "conversation_created"
	KindConversationUpdated Kind = "conversation_updated"
	KindConversationDeleted Kind = "conversation_deleted"
	KindStatusChanged       Kind = "conversation_status_changed"
	KindMessageCreated      Kind = "message_created"
	// KindUnknown covers every event type outside the recognized set.
	// Unknown events are ignored with no side effects.
	KindUnknown Kind = "unknown"
)

// AuthorRole is the closed enumeration of message authors. Bot- and
// agent-originated messages are tagged here at ingestion so feedback-loop
// avoidance never depends on ad hoc string checks downstream.
type AuthorRole string

const (
	RoleContact AuthorRole = "contact"
	RoleAgent   AuthorRole = "agent"
	RoleBot     AuthorRole = "bot"
	RoleSystem  AuthorRole = "system"
)

// Event is the normalized inbound event handed to the classifier.
type Event struct {
	Kind           Kind
	ConversationID string
	// UpstreamStatus is the conversation status as reported by the inbox
	// platform ("pending", "open", "resolved", "snoozed").
	UpstreamStatus string
	Author         AuthorRole
	Content        string
	// Seq orders events per conversation. Message events carry the message
	// identifier; conversation lifecycle events carry 0, meaning "no
	// sequence" (applied unconditionally, never advances the counter).
	Seq int64
}

// IsMessage reports whether the event carries a message.
func (e Event) IsMessage() bool {
	return e.Kind == KindMessageCreated
}
