// Package engine is the client for the AI pipeline engine (Dify-compatible
// chat-messages API). The engine snapshots conversation input state when a
// session is created; the returned session reference is correlated with the
// ConversationLink and bound write-once by the dispatch coordinator.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/chatbridge/internal/config"
	"github.com/nextlevelbuilder/chatbridge/internal/retry"
)

// APIError is a non-2xx response from the AI engine.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine API status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient (5xx, 429).
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ChatRequest is one conversation turn submitted to the engine.
type ChatRequest struct {
	Query string
	// SessionRef is the engine-side conversation reference. Empty requests a
	// new session; the engine's reply carries the ref to bind.
	SessionRef string
}

// ChatResponse is the engine's answer for one turn.
type ChatResponse struct {
	Answer     string `json:"answer"`
	SessionRef string `json:"conversation_id"`
	MessageID  string `json:"message_id"`
}

// HasAnswer reports whether the response carries usable answer text.
func (r *ChatResponse) HasAnswer() bool {
	return strings.TrimSpace(r.Answer) != ""
}

// Client talks to one AI-engine application.
type Client struct {
	apiURL       string
	apiKey       string
	responseMode string
	user         string
	client       *http.Client
}

func NewClient(cfg config.EngineConfig) *Client {
	mode := cfg.ResponseMode
	if mode == "" {
		mode = "blocking"
	}
	user := cfg.User
	if user == "" {
		user = "chatbridge"
	}
	return &Client{
		apiURL:       strings.TrimRight(cfg.APIURL, "/"),
		apiKey:       cfg.APIKey,
		responseMode: mode,
		user:         user,
		client:       &http.Client{Timeout: cfg.Timeout()},
	}
}

// ChatMessage submits one turn and returns the engine's answer. A 404 for a
// bound session ref is permanent: the session is gone and retrying the same
// ref cannot succeed.
func (c *Client) ChatMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := map[string]any{
		"query":         req.Query,
		"inputs":        map[string]any{},
		"response_mode": c.responseMode,
		"user":          c.user,
	}
	if req.SessionRef != "" {
		body["conversation_id"] = req.SessionRef
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat-messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	respData, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respData))}
		if !apiErr.Retryable() {
			return nil, &retry.Permanent{Err: apiErr}
		}
		return nil, apiErr
	}

	var out ChatResponse
	if err := json.Unmarshal(respData, &out); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	return &out, nil
}
