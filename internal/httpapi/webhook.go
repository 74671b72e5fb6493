package httpapi

import (
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/chatbridge/internal/classifier"
	"github.com/nextlevelbuilder/chatbridge/internal/event"
)

const maxWebhookBody = 1 << 20

// handleWebhook ingests one inbox event. The response is a fixed
// acknowledgement whenever the payload parses, regardless of whether the
// event produced any side effect: the classifier may legitimately ignore it.
// A storage failure is the one case where the sender should redeliver, since
// nothing was durably recorded.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimiter.Allow(sourceKey(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	ev, err := event.Decode(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "webhook.ingest",
		trace.WithAttributes(
			attribute.String("event.kind", string(ev.Kind)),
			attribute.String("conversation.id", ev.ConversationID),
		))
	defer span.End()

	decision, err := s.classifier.Classify(ctx, ev)
	if err != nil {
		slog.Error("event classification failed", "kind", ev.Kind, "conversation", ev.ConversationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event not recorded"})
		return
	}
	span.SetAttributes(attribute.String("event.decision", decision.String()))

	if decision == classifier.DecisionTrigger {
		enqueued, derr := s.dispatcher.TryDispatch(ctx, ev.ConversationID, ev.Content, ev.Seq)
		if derr != nil {
			slog.Error("dispatch enqueue failed", "conversation", ev.ConversationID, "error", derr)
		}
		slog.Info("webhook event",
			"kind", ev.Kind, "conversation", ev.ConversationID,
			"decision", decision.String(), "enqueued", enqueued)
	} else {
		slog.Debug("webhook event",
			"kind", ev.Kind, "conversation", ev.ConversationID, "decision", decision.String())
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
