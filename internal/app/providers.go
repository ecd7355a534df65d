package app

import (
	"fmt"

	"github.com/mohammad-safakhou/agentrouter/config"
	"github.com/mohammad-safakhou/agentrouter/provider"
	"github.com/mohammad-safakhou/agentrouter/provider/hashembed"
	"github.com/mohammad-safakhou/agentrouter/provider/ollama"
	openai_provider "github.com/mohammad-safakhou/agentrouter/provider/openai"
)

const defaultLMStudioURL = "http://localhost:1234/v1"

// NewProviders builds the generator and embedder for cfg. The hash backend
// has no generator; LLM-backed workers then report themselves unavailable.
func NewProviders(cfg config.LLMConfig) (provider.Generator, provider.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, config.ProviderLMStudio:
		base := cfg.BaseURL
		apiKey := cfg.APIKey
		if cfg.Provider == config.ProviderLMStudio {
			if base == "" {
				base = defaultLMStudioURL
			}
			if apiKey == "" {
				apiKey = "lm-studio"
			}
		}
		c := openai_provider.NewClient(openai_provider.Options{
			APIKey:          apiKey,
			BaseURL:         base,
			CompletionModel: cfg.CompletionModel,
			EmbeddingModel:  cfg.EmbeddingModel,
			Temperature:     cfg.Temperature,
			MaxTokens:       cfg.MaxTokens,
			Timeout:         cfg.Timeout,
		})
		return c, c, nil
	case config.ProviderOllama:
		c := ollama.NewClient(cfg.BaseURL, cfg.CompletionModel, cfg.EmbeddingModel, cfg.Temperature, cfg.Timeout)
		return c, c, nil
	case config.ProviderHash:
		return nil, hashembed.New(cfg.EmbeddingDims), nil
	default:
		return nil, nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
