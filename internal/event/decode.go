package event

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// webhookSender mirrors the sender object of the inbox payload. The type
// field distinguishes contacts from agent users and from the bridge's own
// bot account ("agent_bot").
type webhookSender struct {
	ID   *int64 `json:"id"`
	Type string `json:"type"`
}

type webhookAssignee struct {
	ID *int64 `json:"id"`
}

type webhookMeta struct {
	Assignee *webhookAssignee `json:"assignee"`
	Team     *struct {
		Name string `json:"name"`
	} `json:"team"`
}

type webhookConversation struct {
	ID     *int64      `json:"id"`
	Status string      `json:"status"`
	Meta   webhookMeta `json:"meta"`
}

type webhookMessage struct {
	ID           *int64               `json:"id"`
	Content      string               `json:"content"`
	MessageType  string               `json:"message_type"` // "incoming" or "outgoing"
	Conversation *webhookConversation `json:"conversation"`
	Sender       *webhookSender       `json:"sender"`
}

// webhookPayload is the raw inbox webhook body. The same endpoint receives
// every event type, so most fields are optional; Decode collapses the
// variants into one normalized Event.
type webhookPayload struct {
	Event        string               `json:"event"`
	MessageType  string               `json:"message_type"`
	Sender       *webhookSender       `json:"sender"`
	Message      *webhookMessage      `json:"message"`
	Conversation *webhookConversation `json:"conversation"`
	Content      string               `json:"content"`
	// EchoID is set on messages the bridge itself posted back.
	EchoID string `json:"echo_id"`

	// message_created payloads put message fields at the top level.
	ID *int64 `json:"id"`
}

// Decode normalizes a raw webhook body. Unknown event types decode to an
// Event with KindUnknown and no error: the caller acknowledges and ignores
// them. A recognized event missing its conversation identifier is a
// validation failure.
func Decode(body []byte) (Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	kind := Kind(p.Event)
	switch kind {
	case KindConversationCreated, KindConversationUpdated, KindConversationDeleted,
		KindStatusChanged, KindMessageCreated:
	default:
		return Event{Kind: KindUnknown}, nil
	}

	ev := Event{Kind: kind}

	conv := p.conversation()
	if conv == nil || conv.ID == nil {
		return Event{}, fmt.Errorf("%w: event %q has no conversation id", ErrValidation, p.Event)
	}
	ev.ConversationID = strconv.FormatInt(*conv.ID, 10)
	ev.UpstreamStatus = conv.Status

	if kind == KindMessageCreated {
		ev.Content = p.content()
		ev.Seq = p.messageSeq()
		ev.Author = p.authorRole()
	}
	return ev, nil
}

// conversation returns the conversation object from whichever location the
// payload variant uses.
func (p *webhookPayload) conversation() *webhookConversation {
	if p.Message != nil && p.Message.Conversation != nil {
		return p.Message.Conversation
	}
	return p.Conversation
}

func (p *webhookPayload) content() string {
	if p.Content != "" {
		return p.Content
	}
	if p.Message != nil {
		return p.Message.Content
	}
	return ""
}

func (p *webhookPayload) messageSeq() int64 {
	if p.ID != nil {
		return *p.ID
	}
	if p.Message != nil && p.Message.ID != nil {
		return *p.Message.ID
	}
	return 0
}

// authorRole tags the message author. Outgoing messages and the bridge's own
// echoes are never contact-authored, which is what prevents feedback loops.
func (p *webhookPayload) authorRole() AuthorRole {
	if p.EchoID != "" {
		return RoleBot
	}
	sender := p.Sender
	if sender == nil && p.Message != nil {
		sender = p.Message.Sender
	}
	if sender != nil && sender.Type == "agent_bot" {
		return RoleBot
	}

	msgType := p.MessageType
	if msgType == "" && p.Message != nil {
		msgType = p.Message.MessageType
	}
	switch msgType {
	case "incoming":
		return RoleContact
	case "outgoing":
		return RoleAgent
	default:
		return RoleSystem
	}
}
