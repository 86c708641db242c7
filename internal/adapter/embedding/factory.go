package embedding

import (
	"fmt"

	"threatfeed/config"
	"threatfeed/internal/port"
)

// New builds the embedder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig) (port.Embedder, error) {
	opts := RemoteOptions{
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		Dimension:         cfg.Dimension,
		MaxInputChars:     cfg.MaxInputChars,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}

	switch cfg.Provider {
	case "", "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	case "mock":
		return NewMockEmbedder(cfg.Dimension), nil
	case "ollama":
		return NewOllamaEmbedder(opts), nil
	case "openai":
		return NewOpenAIEmbedder(cfg.APIKeyEnv, opts)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// Fingerprint identifies the vector space an embedder produces. Vectors
// persisted under one fingerprint are never compared with another's.
func Fingerprint(e port.Embedder) string {
	return fmt.Sprintf("%s/%d", e.ModelName(), e.Dimension())
}
