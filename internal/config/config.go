package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Supported model providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config represents the main scribe configuration
type Config struct {
	// Model session
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Streaming responder
	Responder ResponderConfig `json:"responder" mapstructure:"responder"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Telegram
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Agent lifecycle
	Supervisor SupervisorConfig `json:"supervisor" mapstructure:"supervisor"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ModelConfig selects the model behind every agent.
type ModelConfig struct {
	Provider        string  `json:"provider" mapstructure:"provider"` // gemini, openai, anthropic
	Name            string  `json:"name" mapstructure:"name"`
	APIKey          string  `json:"api_key" mapstructure:"api_key"`
	MaxOutputTokens int     `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	Temperature     float64 `json:"temperature" mapstructure:"temperature"`
}

// APIKeyEnv returns the environment variable holding the provider's credential.
func (m ModelConfig) APIKeyEnv() string {
	switch m.Provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}

// ResponderConfig tunes how replies are streamed into the placeholder.
type ResponderConfig struct {
	MinUpdateIntervalMs int  `json:"min_update_interval_ms" mapstructure:"min_update_interval_ms"`
	ClearOnFailure      bool `json:"clear_on_failure" mapstructure:"clear_on_failure"`
}

// MinUpdateInterval returns the debounce window between message updates.
func (r ResponderConfig) MinUpdateInterval() time.Duration {
	return time.Duration(r.MinUpdateIntervalMs) * time.Millisecond
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port                int    `json:"port" mapstructure:"port"`
	Host                string `json:"host" mapstructure:"host"`
	SharedSecret        string `json:"shared_secret" mapstructure:"shared_secret"`
	StorePath           string `json:"store_path" mapstructure:"store_path"`
	TickIntervalSeconds int    `json:"tick_interval_seconds" mapstructure:"tick_interval_seconds"`
	RequestsPerMinute   int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent       int    `json:"max_concurrent" mapstructure:"max_concurrent"`
	// Channels started when the server boots.
	Channels []string `json:"channels" mapstructure:"channels"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Enabled   bool    `json:"enabled" mapstructure:"enabled"`
	BotToken  string  `json:"bot_token" mapstructure:"bot_token"`
	Allowlist []int64 `json:"allowlist" mapstructure:"allowlist"` // empty allows every chat
}

// SupervisorConfig controls idle agent reaping.
type SupervisorConfig struct {
	IdleTimeoutSeconds int    `json:"idle_timeout_seconds" mapstructure:"idle_timeout_seconds"`
	ReapSchedule       string `json:"reap_schedule" mapstructure:"reap_schedule"`
}

// IdleTimeout returns how long an agent may go without interaction.
func (s SupervisorConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`

	// AuditFile receives agent lifecycle and config reload events as JSON
	// lines. Empty disables the audit log.
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`

	// Exporter is none, stdout or otlp; Endpoint is the OTLP gRPC address.
	Exporter string `json:"exporter" mapstructure:"exporter"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:        ProviderGemini,
			Name:            "gemini-2.0-flash",
			MaxOutputTokens: 2048,
			Temperature:     0.7,
		},
		Responder: ResponderConfig{
			MinUpdateIntervalMs: 0,
			ClearOnFailure:      true,
		},
		Gateway: GatewayConfig{
			Port:                8080,
			Host:                "127.0.0.1",
			TickIntervalSeconds: 30,
			RequestsPerMinute:   60,
			MaxConcurrent:       10,
		},
		Telegram: TelegramConfig{
			Enabled: false,
		},
		Supervisor: SupervisorConfig{
			IdleTimeoutSeconds: 300,
			ReapSchedule:       "@every 1m",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "scribe",
			SampleRatio: 1.0,
			Exporter:    "none",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the settings scribe cannot start without. A missing model
// credential is not checked here; agents refuse to start without one.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("invalid model provider %q (must be: gemini, openai, anthropic)", c.Model.Provider)
	}

	if c.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway shared_secret is required")
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required when telegram is enabled")
	}

	if c.Supervisor.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("supervisor idle_timeout_seconds must be >= 0")
	}

	if c.Responder.MinUpdateIntervalMs < 0 {
		return fmt.Errorf("responder min_update_interval_ms must be >= 0")
	}

	return nil
}
