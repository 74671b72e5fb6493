package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8090,
			RateLimitRPM: 120,
		},
		Inbox: InboxConfig{
			APIURL:    "https://app.chatwoot.com/api/v1",
			AccountID: "1",
		},
		Engine: EngineConfig{
			APIURL:       "https://api.dify.ai/v1",
			ResponseMode: "blocking",
			User:         "chatbridge",
		},
		Dispatch: DispatchConfig{
			Workers:     4,
			QueueSize:   256,
			MaxAttempts: 3,
			ApologyMessage: "I apologize, but I'm temporarily unavailable. " +
				"Please try again later or wait for a human operator to respond.",
			ReaperCron:     "*/5 * * * *",
			StaleAfterMins: 15,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.chatbridge/chatbridge.db",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "chatbridge",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("CHATBRIDGE_TOKEN", &c.Server.Token)
	envStr("CHATBRIDGE_HOST", &c.Server.Host)
	envInt("CHATBRIDGE_PORT", &c.Server.Port)

	envStr("CHATBRIDGE_INBOX_API_URL", &c.Inbox.APIURL)
	envStr("CHATBRIDGE_INBOX_ACCOUNT_ID", &c.Inbox.AccountID)
	envStr("CHATBRIDGE_INBOX_API_KEY", &c.Inbox.APIKey)
	envStr("CHATBRIDGE_INBOX_ADMIN_API_KEY", &c.Inbox.AdminAPIKey)

	envStr("CHATBRIDGE_ENGINE_API_URL", &c.Engine.APIURL)
	envStr("CHATBRIDGE_ENGINE_API_KEY", &c.Engine.APIKey)
	envStr("CHATBRIDGE_ENGINE_RESPONSE_MODE", &c.Engine.ResponseMode)

	envStr("CHATBRIDGE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CHATBRIDGE_DB_MODE", &c.Database.Mode)
	envStr("CHATBRIDGE_SQLITE_PATH", &c.Database.SQLitePath)

	envStr("CHATBRIDGE_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("CHATBRIDGE_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
	}

	// Providing a DSN selects managed mode unless the mode is pinned via env.
	if c.Database.PostgresDSN != "" && os.Getenv("CHATBRIDGE_DB_MODE") == "" {
		c.Database.Mode = "managed"
	}
}

// ExpandHome expands a leading ~ in a path.
func ExpandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
