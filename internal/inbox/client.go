// Package inbox is the client for the inbox-platform REST API
// (Chatwoot-compatible). It covers the operations the bridge consumes:
// posting outgoing messages and mutating status, priority, labels, custom
// attributes, and team assignment on a conversation.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/chatbridge/internal/config"
)

// APIError is a non-2xx response from the inbox platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inbox API status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure is worth retrying (5xx, 429).
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client talks to one inbox-platform account.
type Client struct {
	apiURL      string
	accountID   string
	apiKey      string
	adminAPIKey string
	client      *http.Client
}

// Team is one entry of the account team listing.
type Team struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Conversation is the full conversation detail returned by the admin read.
type Conversation struct {
	ID               int64          `json:"id"`
	Status           string         `json:"status"`
	Priority         string         `json:"priority"`
	Labels           []string       `json:"labels"`
	CustomAttributes map[string]any `json:"custom_attributes"`
}

func NewClient(cfg config.InboxConfig) *Client {
	return &Client{
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		accountID:   cfg.AccountID,
		apiKey:      cfg.APIKey,
		adminAPIKey: cfg.AdminAPIKey,
		client:      &http.Client{Timeout: cfg.Timeout()},
	}
}

func (c *Client) conversationsURL(conversationID, suffix string) string {
	u := fmt.Sprintf("%s/accounts/%s/conversations/%s", c.apiURL, c.accountID, conversationID)
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

// do sends a JSON request and decodes the JSON response into out (if non-nil).
// Empty response bodies are tolerated: several mutation endpoints return
// nothing on success.
func (c *Client) do(ctx context.Context, method, url string, payload any, out any, admin bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	key := c.apiKey
	if admin {
		key = c.adminAPIKey
	}
	req.Header.Set("api_access_token", key)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("inbox request: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// SendMessage posts an outgoing message to a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, private bool) error {
	payload := map[string]any{
		"content":      content,
		"message_type": "outgoing",
		"private":      private,
	}
	return c.do(ctx, http.MethodPost, c.conversationsURL(conversationID, "messages"), payload, nil, false)
}

// ToggleStatus sets the conversation status
// ("open", "resolved", "pending", "snoozed").
func (c *Client) ToggleStatus(ctx context.Context, conversationID, status string) error {
	payload := map[string]string{"status": status}
	return c.do(ctx, http.MethodPost, c.conversationsURL(conversationID, "toggle_status"), payload, nil, false)
}

// TogglePriority sets the conversation priority
// ("urgent", "high", "medium", "low").
func (c *Client) TogglePriority(ctx context.Context, conversationID, priority string) error {
	payload := map[string]string{"priority": priority}
	return c.do(ctx, http.MethodPost, c.conversationsURL(conversationID, "toggle_priority"), payload, nil, false)
}

// AddLabels adds labels to a conversation.
func (c *Client) AddLabels(ctx context.Context, conversationID string, labels []string) error {
	payload := map[string]any{"labels": labels}
	return c.do(ctx, http.MethodPost, c.conversationsURL(conversationID, "labels"), payload, nil, false)
}

// UpdateCustomAttributes replaces the conversation's custom attributes.
func (c *Client) UpdateCustomAttributes(ctx context.Context, conversationID string, attrs map[string]any) error {
	payload := map[string]any{"custom_attributes": attrs}
	return c.do(ctx, http.MethodPost, c.conversationsURL(conversationID, "custom_attributes"), payload, nil, false)
}

// AssignTeam assigns the conversation to a team by identifier and returns the
// conversation state reported by the platform after the assignment.
func (c *Client) AssignTeam(ctx context.Context, conversationID string, teamID int64) (*Conversation, error) {
	payload := map[string]any{"team_id": teamID}
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, c.conversationsURL(conversationID, "assignments"), payload, &conv, false); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetTeams lists the account's teams. The payload nesting varies between
// platform versions, so both shapes are accepted.
func (c *Client) GetTeams(ctx context.Context) ([]Team, error) {
	url := fmt.Sprintf("%s/accounts/%s/teams", c.apiURL, c.accountID)

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, url, nil, &raw, false); err != nil {
		return nil, err
	}
	var teams []Team
	if err := json.Unmarshal(raw, &teams); err == nil {
		return teams, nil
	}
	var wrapped struct {
		Payload []Team `json:"payload"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode teams: %w", err)
	}
	return wrapped.Payload, nil
}

// LookupTeam resolves a team name (case-insensitive) to its identifier.
func (c *Client) LookupTeam(ctx context.Context, name string) (int64, error) {
	teams, err := c.GetTeams(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range teams {
		if strings.EqualFold(t.Name, name) {
			return t.ID, nil
		}
	}
	return 0, fmt.Errorf("team %q not found", name)
}

// GetConversation reads full conversation detail including custom attributes.
// Requires the admin key; the absorber refuses this call once a team owns the
// conversation.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, c.conversationsURL(conversationID, ""), nil, &conv, true); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Healthy probes the API with a cheap authenticated read.
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.GetTeams(ctx)
	return err
}
