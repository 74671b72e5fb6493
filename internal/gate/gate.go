// Package gate holds the conversation lifecycle state machine. It is the
// single source of truth for whether a status transition is permitted, and
// therefore for whether AI dispatch may be triggered.
package gate

import "github.com/nextlevelbuilder/chatbridge/internal/store"

// Cause identifies why a transition is being attempted. The same edge can be
// legal for one cause and illegal for another: a resolved conversation may
// only return to pending when the inbox platform itself reopens it, never
// because a message event happened to look eligible.
type Cause int

const (
	// CauseDispatchClaim is the atomic claim taken before enqueueing an AI call.
	CauseDispatchClaim Cause = iota
	// CauseAnswerDelivered marks a completed AI response relay.
	CauseAnswerDelivered
	// CauseRetryExhausted releases a claim after the retry ceiling.
	CauseRetryExhausted
	// CauseEligibleEvent refreshes a processed conversation on a new
	// trigger-eligible event (re-entrant retrigger).
	CauseEligibleEvent
	// CauseUpstreamStatus applies a status reported by the inbox platform.
	CauseUpstreamStatus
	// CauseResolveCallback applies a resolve initiated by the AI engine.
	CauseResolveCallback
)

// CanDispatch reports whether an AI dispatch claim may be attempted from the
// given stored status. Dispatch is only ever permitted from pending.
func CanDispatch(s store.Status) bool {
	return s == store.StatusPending
}

// Allowed reports whether the from→to edge is legal for the given cause.
// Closed is terminal: no transitions leave it.
func Allowed(from, to store.Status, cause Cause) bool {
	if from == store.StatusClosed {
		return false
	}
	if from == to {
		return false
	}

	switch cause {
	case CauseDispatchClaim:
		return from == store.StatusPending && to == store.StatusProcessing

	case CauseAnswerDelivered:
		return from == store.StatusProcessing && to == store.StatusProcessed

	case CauseRetryExhausted:
		return from == store.StatusProcessing && to == store.StatusPending

	case CauseEligibleEvent:
		// Re-entrant retrigger: a processed conversation goes back through
		// pending before the next claim. A resolved conversation must not be
		// silently resurrected by a message event.
		return from == store.StatusProcessed && to == store.StatusPending

	case CauseUpstreamStatus:
		switch to {
		case store.StatusResolved:
			return true
		case store.StatusPending:
			// The inbox platform reopening a conversation is the only path
			// out of resolved.
			return from == store.StatusResolved || from == store.StatusProcessed
		}
		return false

	case CauseResolveCallback:
		return to == store.StatusResolved
	}
	return false
}
