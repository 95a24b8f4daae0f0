package embedding

import (
	"net/http"

	"agentindex/internal/domain"
	"agentindex/internal/infra/config"
)

// New builds the configured embedding provider wrapped in the LRU cache.
// Provider "none" returns nil; discovery then degrades to lexical search.
func New(cfg config.EmbeddingConfig) domain.EmbeddingProvider {
	var inner domain.EmbeddingProvider

	switch cfg.Provider {
	case "openai":
		opts := []OpenAIOption{}
		if cfg.Model != "" {
			opts = append(opts, WithOpenAIModel(cfg.Model))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, WithOpenAIDimensions(cfg.Dimensions))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithOpenAIClient(&http.Client{Timeout: cfg.Timeout}))
		}
		inner = NewOpenAIProvider(cfg.APIKey, opts...)
	case "ollama":
		opts := []OllamaOption{}
		if cfg.Model != "" {
			opts = append(opts, WithOllamaModel(cfg.Model))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, WithOllamaDimensions(cfg.Dimensions))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOllamaBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithOllamaClient(&http.Client{Timeout: cfg.Timeout}))
		}
		inner = NewOllamaProvider(opts...)
	default: // "none"
		return nil
	}

	return NewCachedEmbedder(inner, cfg.CacheSize)
}
