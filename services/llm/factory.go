package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conversa-ai/conversa/services/assistant/config"
	"github.com/conversa-ai/conversa/services/assistant/faults"
)

// New constructs the single active provider for this process from
// configuration. An unknown provider name is a config fault, not a fallback:
// silently serving a different backend than the operator asked for would
// also silently change embedding dimensionality.
func New(ctx context.Context, cfg config.Config) (AIProvider, error) {
	var (
		provider AIProvider
		err      error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		provider, err = NewOpenAIProvider(cfg)
	case config.ProviderGemini:
		provider, err = NewGeminiProvider(ctx, cfg)
	case config.ProviderOllama:
		provider, err = NewOllamaProvider(cfg)
	default:
		return nil, &faults.ProviderConfigError{
			Reason: fmt.Sprintf("unknown provider %q (want openai, gemini or ollama)", cfg.Provider),
		}
	}
	if err != nil {
		return nil, err
	}
	slog.Info("llm: provider initialized",
		"provider", provider.Name(), "embedding_dimensions", provider.Dimensions())
	return provider, nil
}
