// Package httpapi exposes the bridge's HTTP surface: the inbox webhook
// endpoint, the per-attribute callback endpoints for the AI engine, and
// read-only conversation listing.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/chatbridge/internal/absorber"
	"github.com/nextlevelbuilder/chatbridge/internal/classifier"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// Dispatcher enqueues asynchronous AI work for a trigger-eligible event.
type Dispatcher interface {
	TryDispatch(ctx context.Context, conversationID, content string, seq int64) (bool, error)
}

// Server bundles the HTTP handlers and their dependencies.
type Server struct {
	classifier  *classifier.Classifier
	dispatcher  Dispatcher
	absorber    *absorber.Service
	links       store.ConversationStore
	token       string
	rateLimiter *RateLimiter
	tracer      trace.Tracer
}

func NewServer(cls *classifier.Classifier, disp Dispatcher, abs *absorber.Service, links store.ConversationStore, token string, limiter *RateLimiter) *Server {
	return &Server{
		classifier:  cls,
		dispatcher:  disp,
		absorber:    abs,
		links:       links,
		token:       token,
		rateLimiter: limiter,
		tracer:      otel.Tracer("chatbridge/httpapi"),
	}
}

// RegisterRoutes registers all bridge routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/webhook", s.handleWebhook)

	mux.HandleFunc("POST /api/v1/callbacks/{id}/status", s.authMiddleware(s.handleCallbackStatus))
	mux.HandleFunc("POST /api/v1/callbacks/{id}/priority", s.authMiddleware(s.handleCallbackPriority))
	mux.HandleFunc("POST /api/v1/callbacks/{id}/labels", s.authMiddleware(s.handleCallbackLabels))
	mux.HandleFunc("POST /api/v1/callbacks/{id}/custom-attributes", s.authMiddleware(s.handleCallbackCustomAttributes))
	mux.HandleFunc("POST /api/v1/callbacks/{id}/team", s.authMiddleware(s.handleCallbackTeam))

	mux.HandleFunc("GET /api/v1/conversations", s.authMiddleware(s.handleListConversations))
	mux.HandleFunc("GET /api/v1/conversations/{id}", s.authMiddleware(s.handleGetConversation))

	mux.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && extractBearerToken(r) != s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
