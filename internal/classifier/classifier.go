// Package classifier decides, for every inbound inbox event, whether it
// should be ignored, persisted for bookkeeping only, or trigger AI dispatch.
package classifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/chatbridge/internal/event"
	"github.com/nextlevelbuilder/chatbridge/internal/gate"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// Decision is the outcome of classifying one inbound event.
type Decision int

const (
	// DecisionIgnore: unrecognized event, no side effects.
	DecisionIgnore Decision = iota
	// DecisionPersist: link bookkeeping updated, no AI trigger.
	DecisionPersist
	// DecisionTrigger: eligible for AI dispatch.
	DecisionTrigger
)

func (d Decision) String() string {
	switch d {
	case DecisionIgnore:
		return "ignore"
	case DecisionPersist:
		return "persist"
	case DecisionTrigger:
		return "trigger"
	}
	return "unknown"
}

// upstreamPending is the inbox-platform status that permits AI handling.
const upstreamPending = "pending"

// Classifier evaluates the gating decision table over normalized events.
type Classifier struct {
	links store.ConversationStore
}

func New(links store.ConversationStore) *Classifier {
	return &Classifier{links: links}
}

// Classify runs the decision table in order, first match wins:
//
//  1. unrecognized event type            → ignore, no side effects
//  2. message authored by agent or bot   → persist-only (feedback-loop guard)
//  3. upstream conversation status not pending → persist-only
//  4. otherwise                          → trigger
//
// Every recognized event upserts the ConversationLink and applies its
// sequence number before the decision is returned, so duplicate and
// out-of-order deliveries converge to persist-only no-ops.
func (c *Classifier) Classify(ctx context.Context, ev event.Event) (Decision, error) {
	if ev.Kind == event.KindUnknown {
		return DecisionIgnore, nil
	}
	if ev.Kind == event.KindConversationDeleted {
		// Link deletion is deferred; the event is acknowledged and dropped.
		return DecisionIgnore, nil
	}

	link, err := c.links.GetOrCreate(ctx, ev.ConversationID)
	if err != nil {
		return DecisionIgnore, fmt.Errorf("upsert link: %w", err)
	}

	if ev.Kind == event.KindStatusChanged {
		if err := c.applyUpstreamStatus(ctx, link, ev.UpstreamStatus); err != nil {
			return DecisionIgnore, err
		}
		return DecisionPersist, nil
	}

	applied := true
	if ev.Seq > 0 {
		applied, err = c.links.ApplyEventSeq(ctx, ev.ConversationID, ev.Seq)
		if err != nil {
			return DecisionIgnore, fmt.Errorf("apply event seq: %w", err)
		}
	}

	if ev.IsMessage() && (ev.Author == event.RoleAgent || ev.Author == event.RoleBot) {
		return DecisionPersist, nil
	}
	if ev.UpstreamStatus != upstreamPending {
		return DecisionPersist, nil
	}
	if !applied {
		// Duplicate or out-of-order delivery: already accounted for.
		slog.Debug("dropping stale event", "conversation", ev.ConversationID, "seq", ev.Seq)
		return DecisionPersist, nil
	}
	if !ev.IsMessage() {
		// conversation_created / conversation_updated keep the link fresh
		// but carry nothing to dispatch.
		return DecisionPersist, nil
	}
	return DecisionTrigger, nil
}

// applyUpstreamStatus folds an inbox-side status change into the bridge
// status. Only edges the state machine allows for an upstream cause are
// applied; everything else is recorded as a no-op.
func (c *Classifier) applyUpstreamStatus(ctx context.Context, link *store.ConversationLink, upstream string) error {
	var target store.Status
	switch upstream {
	case "resolved":
		target = store.StatusResolved
	case upstreamPending:
		target = store.StatusPending
	default:
		// "open", "snoozed": a human owns the pace; bridge status unchanged.
		return nil
	}

	if !gate.Allowed(link.Status, target, gate.CauseUpstreamStatus) {
		return nil
	}
	ok, err := c.links.TransitionStatus(ctx, link.InboxConversationID, target, link.Status)
	if err != nil {
		return fmt.Errorf("apply upstream status: %w", err)
	}
	if ok {
		slog.Info("upstream status applied",
			"conversation", link.InboxConversationID,
			"from", link.Status, "to", target)
	}
	return nil
}
