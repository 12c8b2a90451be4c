package llm

import (
	"fmt"
	"strings"

	"github.com/samsaffron/codereview-chat/internal/config"
	"github.com/samsaffron/codereview-chat/internal/ollama"
)

// ParseProviderModel splits "provider:model" and checks the provider is
// configured (or is a built-in type name).
func ParseProviderModel(s string, cfg *config.Config) (string, string, error) {
	name, model, _ := strings.Cut(strings.TrimSpace(s), ":")
	if name == "" {
		return "", "", fmt.Errorf("empty provider")
	}
	if _, ok := cfg.Providers[name]; !ok && config.InferProviderType(name, config.ProviderConfig{}) == "" {
		return "", "", fmt.Errorf("unknown provider: %s", name)
	}
	return name, model, nil
}

// NewProvider builds the named provider from configuration.
func NewProvider(cfg *config.Config, name string) (Provider, error) {
	pc := cfg.Providers[name]
	switch config.InferProviderType(name, pc) {
	case config.ProviderTypeOpenAI:
		if pc.APIKey == "" {
			return nil, fmt.Errorf("%s: OPENAI_API_KEY not configured", name)
		}
		return NewOpenAIProvider(pc.APIKey, pc.Model).WithSampling(pc.Temperature, pc.TopP), nil
	case config.ProviderTypeAnthropic:
		if pc.APIKey == "" {
			return nil, fmt.Errorf("%s: ANTHROPIC_API_KEY not configured", name)
		}
		return NewAnthropicProvider(pc.APIKey, pc.Model).WithTemperature(pc.Temperature), nil
	case config.ProviderTypeGemini:
		if pc.APIKey == "" {
			return nil, fmt.Errorf("%s: GEMINI_API_KEY not configured", name)
		}
		return NewGeminiProvider(pc.APIKey, pc.Model).WithSampling(pc.Temperature, pc.TopP), nil
	case config.ProviderTypeOpenAICompat:
		if pc.BaseURL == "" {
			return nil, fmt.Errorf("%s: base_url is required for openai-compat providers", name)
		}
		return NewOpenAICompatProvider(name, pc.BaseURL, pc.APIKey, pc.Model).WithSampling(pc.Temperature, pc.TopP), nil
	case config.ProviderTypeOllama:
		runtime := NewOllamaRuntime(ollama.NewClient(pc.BaseURL), pc.Temperature, pc.TopP)
		return NewLocalProvider(name, runtime, pc.Model), nil
	case config.ProviderTypeRemote:
		if pc.BaseURL == "" {
			return nil, fmt.Errorf("%s: base_url is required for remote providers", name)
		}
		return NewRemoteProvider(pc.BaseURL, pc.APIKey, pc.Provider), nil
	case config.ProviderTypeDebug:
		return NewDebugProvider(pc.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}
