package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

const maxOutputTokens = 65536

var (
	// <bot id>:<secret>
	telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

	keyPrefixes = map[string]string{
		ProviderGemini:    "AIza",
		ProviderAnthropic: "sk-ant-",
		ProviderOpenAI:    "sk-",
	}

	logLevels = []string{"debug", "info", "warn", "error"}
)

// Warnings lists settings that are probably wrong but do not stop scribe
// from starting. Validate covers the fatal ones.
func Warnings(cfg *Config) []error {
	var warnings []error
	note := func(section string, err error) {
		if err == nil {
			return
		}
		if section != "" {
			err = fmt.Errorf("%s: %w", section, err)
		}
		warnings = append(warnings, err)
	}

	note("model", checkAPIKey(cfg.Model.Provider, cfg.Model.APIKey))
	if cfg.Model.Temperature != 0 {
		note("model", checkTemperature(cfg.Model.Temperature))
	}
	if cfg.Model.MaxOutputTokens != 0 {
		note("model", checkMaxTokens(cfg.Model.MaxOutputTokens))
	}

	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		note("", checkTelegramToken(cfg.Telegram.BotToken))
	}

	note("supervisor", checkSchedule(cfg.Supervisor.ReapSchedule))

	for name, value := range map[string]int{
		"requests_per_minute":   cfg.Gateway.RequestsPerMinute,
		"max_concurrent":        cfg.Gateway.MaxConcurrent,
		"tick_interval_seconds": cfg.Gateway.TickIntervalSeconds,
	} {
		if value < 0 {
			note("gateway", fmt.Errorf("%s must be >= 0, got %d", name, value))
		}
	}

	if cfg.Tracing.Enabled {
		note("tracing", checkSampleRatio(cfg.Tracing.SampleRatio))
		note("tracing", checkExporter(cfg.Tracing.Exporter, cfg.Tracing.Endpoint))
	}

	note("logging", checkLogLevel(cfg.Logging.Level))
	return warnings
}

func checkAPIKey(provider, key string) error {
	if key == "" {
		return fmt.Errorf("%s API key is not set (export %s)", provider, ModelConfig{Provider: provider}.APIKeyEnv())
	}
	prefix, known := keyPrefixes[provider]
	if known && !strings.HasPrefix(key, prefix) {
		return fmt.Errorf("%s API key should start with %s", provider, prefix)
	}
	return nil
}

func checkTelegramToken(token string) error {
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("telegram bot token is malformed")
	}
	return nil
}

func checkTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be within [0, 2], got %g", temp)
	}
	return nil
}

func checkMaxTokens(tokens int) error {
	if tokens <= 0 || tokens > maxOutputTokens {
		return fmt.Errorf("max_output_tokens must be within [1, %d], got %d", maxOutputTokens, tokens)
	}
	return nil
}

func checkLogLevel(level string) error {
	for _, known := range logLevels {
		if level == known {
			return nil
		}
	}
	return fmt.Errorf("unknown log level %q (want %s)", level, strings.Join(logLevels, ", "))
}

// checkSchedule accepts five-field cron specs and descriptors like "@every 1m".
func checkSchedule(spec string) error {
	if spec == "" {
		return fmt.Errorf("reap_schedule is empty")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("reap_schedule %q: %w", spec, err)
	}
	return nil
}

func checkSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("sample_ratio must be within [0, 1], got %g", ratio)
	}
	return nil
}

func checkExporter(exporter, endpoint string) error {
	switch exporter {
	case "", "none", "stdout":
		return nil
	case "otlp":
		if endpoint == "" && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
			return fmt.Errorf("otlp exporter needs tracing.endpoint or OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		return nil
	default:
		return fmt.Errorf("unknown exporter %q (want none, stdout or otlp)", exporter)
	}
}
