// Package llm provides language-model clients for the agent.
package llm

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/malbeclabs/copilot/pkg/agent"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int64
	// CacheSize bounds the completion cache; negative disables it.
	CacheSize  int64
	HTTPClient *http.Client
}

func (cfg *Config) Validate() error {
	switch cfg.Provider {
	case ProviderAnthropic, ProviderOllama:
	case "":
		return fmt.Errorf("provider is required")
	default:
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	return nil
}

// New builds the client for the configured provider, wrapped in a
// completion cache unless disabled.
func New(log *slog.Logger, cfg Config) (agent.LLMClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var client agent.LLMClient
	switch cfg.Provider {
	case ProviderAnthropic:
		client = NewAnthropicClient(log, cfg.APIKey, cfg.Model, cfg.MaxTokens)
	case ProviderOllama:
		client = NewOllamaClient(log, cfg.BaseURL, cfg.HTTPClient, cfg.Model, cfg.MaxTokens)
	}
	if cfg.CacheSize < 0 {
		return client, nil
	}
	return NewCachedClient(client, cfg.CacheSize)
}
