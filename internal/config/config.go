// Package config defines the worker configuration: a JSON5 file overlaid
// with LEADFLOW_* environment variables. Secrets (tokens, DSNs) should come
// from the environment; the file carries the rest.
package config

import "time"

// Config is the root configuration for the leadflow worker.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Analysis  AnalysisConfig  `json:"analysis"`
	Channels  ChannelsConfig  `json:"channels"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Assets    AssetsConfig    `json:"assets"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Verbose   bool            `json:"verbose,omitempty"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	PostgresDSN  string `json:"postgres_dsn"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
	MaxIdleConns int    `json:"max_idle_conns,omitempty"`
}

// AnalysisConfig points at the inference service.
type AnalysisConfig struct {
	BaseURL       string `json:"base_url"`
	Token         string `json:"token,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`
	ContextWindow int    `json:"context_window,omitempty"`
}

// ChannelsConfig groups per-platform channel settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// TelegramConfig configures the Telegram Bot API channel.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	Proxy   string `json:"proxy,omitempty"`
}

// WhatsAppConfig configures the WebSocket bridge channel.
type WhatsAppConfig struct {
	Enabled   bool   `json:"enabled"`
	BridgeURL string `json:"bridge_url,omitempty"`
	Token     string `json:"token,omitempty"`
}

// PipelineConfig tunes the analysis worker pool and outbound delivery.
type PipelineConfig struct {
	Workers           int     `json:"workers,omitempty"`
	ClaimInterval     Seconds `json:"claim_interval_sec,omitempty"`
	SendsPerSecond    float64 `json:"sends_per_second,omitempty"`
	SendBurst         int     `json:"send_burst,omitempty"`
	DedupeTTL         Seconds `json:"dedupe_ttl_sec,omitempty"`
	DedupeMaxEntries  int     `json:"dedupe_max_entries,omitempty"`
	VisibilityTimeout Seconds `json:"visibility_timeout_sec,omitempty"`
	MaxJobAttempts    int     `json:"max_job_attempts,omitempty"`
}

// AssetsConfig configures the photo template image store.
type AssetsConfig struct {
	Dir      string `json:"dir,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	Watch    bool   `json:"watch,omitempty"`
	MaxWidth int    `json:"max_width,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Seconds is a duration expressed as integer seconds in the config file.
type Seconds int

// Duration converts the config value, falling back to def when unset.
func (s Seconds) Duration(def time.Duration) time.Duration {
	if s <= 0 {
		return def
	}
	return time.Duration(s) * time.Second
}
