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
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Analysis: AnalysisConfig{
			ContextWindow: 20,
		},
		Pipeline: PipelineConfig{
			Workers:        5,
			SendsPerSecond: 1,
			SendBurst:      3,
			MaxJobAttempts: 5,
		},
		Assets: AssetsConfig{
			Dir:      "./assets/templates",
			MaxWidth: 1280,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "leadflow",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
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
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("LEADFLOW_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("LEADFLOW_ANALYSIS_URL", &c.Analysis.BaseURL)
	envStr("LEADFLOW_ANALYSIS_TOKEN", &c.Analysis.Token)
	envStr("LEADFLOW_PROMPT_VERSION", &c.Analysis.PromptVersion)
	envStr("LEADFLOW_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("LEADFLOW_TELEGRAM_PROXY", &c.Channels.Telegram.Proxy)
	envStr("LEADFLOW_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)
	envStr("LEADFLOW_WHATSAPP_TOKEN", &c.Channels.WhatsApp.Token)
	envStr("LEADFLOW_ASSETS_DIR", &c.Assets.Dir)
	envStr("LEADFLOW_ASSETS_BASE_URL", &c.Assets.BaseURL)

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.WhatsApp.BridgeURL != "" {
		c.Channels.WhatsApp.Enabled = true
	}

	if v := os.Getenv("LEADFLOW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.Workers = n
		}
	}

	// Telemetry
	envStr("LEADFLOW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("LEADFLOW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("LEADFLOW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("LEADFLOW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("LEADFLOW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	if v := os.Getenv("LEADFLOW_VERBOSE"); v != "" {
		c.Verbose = v == "true" || v == "1"
	}
}

// Validate checks that required settings for a worker run are present.
func (c *Config) Validate() error {
	if c.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required (or LEADFLOW_POSTGRES_DSN)")
	}
	if c.Analysis.BaseURL == "" {
		return fmt.Errorf("analysis.base_url is required (or LEADFLOW_ANALYSIS_URL)")
	}
	if !c.Channels.Telegram.Enabled && !c.Channels.WhatsApp.Enabled {
		return fmt.Errorf("at least one channel must be enabled")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return fmt.Errorf("channels.telegram.token is required when telegram is enabled")
	}
	if c.Channels.WhatsApp.Enabled && c.Channels.WhatsApp.BridgeURL == "" {
		return fmt.Errorf("channels.whatsapp.bridge_url is required when whatsapp is enabled")
	}
	return nil
}
