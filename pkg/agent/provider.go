package agent

import (
	"fmt"
)

// Supported model providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderGemini:
		return "gemini-2.0-flash"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-3-5-sonnet-20241022"
	default:
		return ""
	}
}

// ProviderFactory creates model clients by provider name.
type ProviderFactory struct{}

// NewClient returns the ModelClient for provider.
func (f *ProviderFactory) NewClient(provider string) (ModelClient, error) {
	switch provider {
	case ProviderGemini, "":
		return NewGeminiProvider(), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func modelOrDefault(provider, model string) string {
	if model != "" {
		return model
	}
	return DefaultModel(provider)
}
