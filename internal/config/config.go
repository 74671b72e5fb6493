package config

import "time"

// Config is the root configuration for the chatbridge service.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Inbox     InboxConfig     `json:"inbox"`
	Engine    EngineConfig    `json:"engine"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP listener for webhook and callback endpoints.
type ServerConfig struct {
	Host string `json:"host"`
	// Token protects the callback and conversation endpoints. From env
	// CHATBRIDGE_TOKEN only; empty disables auth (closed-network deploys).
	Token        string `json:"-"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm"` // webhook ingestion, per source; <=0 disables
}

// InboxConfig configures the inbox-platform (Chatwoot-compatible) client.
// API keys come from env only, never from the config file.
type InboxConfig struct {
	APIURL      string `json:"api_url"`
	AccountID   string `json:"account_id"`
	APIKey      string `json:"-"` // CHATBRIDGE_INBOX_API_KEY
	AdminAPIKey string `json:"-"` // CHATBRIDGE_INBOX_ADMIN_API_KEY
	TimeoutSecs int    `json:"timeout_secs,omitempty"`
}

// EngineConfig configures the AI-engine (Dify-compatible) client.
type EngineConfig struct {
	APIURL       string `json:"api_url"`
	APIKey       string `json:"-"` // CHATBRIDGE_ENGINE_API_KEY
	ResponseMode string `json:"response_mode,omitempty"`
	User         string `json:"user,omitempty"`
	TimeoutSecs  int    `json:"timeout_secs,omitempty"`
}

// DispatchConfig tunes the asynchronous AI worker pool.
type DispatchConfig struct {
	Workers     int `json:"workers"`
	QueueSize   int `json:"queue_size"`
	MaxAttempts int `json:"max_attempts"`
	// BackoffInitialMS is the first retry delay; doubles up to BackoffMaxMS.
	BackoffInitialMS int `json:"backoff_initial_ms,omitempty"`
	BackoffMaxMS     int `json:"backoff_max_ms,omitempty"`
	// ApologyMessage is posted to the conversation when the retry ceiling is
	// exhausted and the conversation is handed back to human operators.
	ApologyMessage string `json:"apology_message,omitempty"`
	// ReaperCron schedules the stale-claim sweep; StaleAfterMins is how long
	// a conversation may sit in processing before it is released.
	ReaperCron     string `json:"reaper_cron,omitempty"`
	StaleAfterMins int    `json:"stale_after_mins,omitempty"`
}

// DatabaseConfig selects the ConversationLink backing store.
// PostgresDSN is NEVER read from the config file (secret) — only from env
// CHATBRIDGE_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"`        // "standalone" (default, sqlite) or "managed" (postgres)
	SQLitePath  string `json:"sqlite_path,omitempty"` // standalone mode database file
}

// IsManagedMode reports whether the bridge runs against Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// TelemetryConfig configures OpenTelemetry OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // e.g. "localhost:4318"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Timeout returns the configured inbox client timeout.
func (c *InboxConfig) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Timeout returns the per-attempt AI call timeout.
func (c *EngineConfig) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c *DispatchConfig) BackoffInitial() time.Duration {
	if c.BackoffInitialMS <= 0 {
		return time.Second
	}
	return time.Duration(c.BackoffInitialMS) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c *DispatchConfig) BackoffMax() time.Duration {
	if c.BackoffMaxMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// StaleAfter returns how long a processing claim may live before the reaper
// releases it.
func (c *DispatchConfig) StaleAfter() time.Duration {
	if c.StaleAfterMins <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.StaleAfterMins) * time.Minute
}
