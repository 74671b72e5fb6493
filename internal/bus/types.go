package bus

import "time"

// DispatchJob is one unit of asynchronous AI work. It is enqueued by the
// webhook path after the dispatch claim succeeds and consumed by the
// coordinator's worker pool; ingestion never blocks on the AI call.
type DispatchJob struct {
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Seq            int64     `json:"seq,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}
