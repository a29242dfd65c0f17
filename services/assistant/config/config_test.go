package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversa-ai/conversa/services/assistant/faults"
)

func validConfig() Config {
	return Config{
		Provider:             ProviderOpenAI,
		OpenAIAPIKey:         "key",
		OpenAIModel:          "gpt-4o-mini",
		OpenAIEmbeddingModel: "text-embedding-3-small",
		ProviderTimeout:      time.Minute,
		DataDir:              "local/contexts",
		RetentionWindow:      24 * time.Hour,
		CleanupInterval:      time.Hour,
		ChunkSize:            500,
		ChunkOverlap:         50,
		TopK:                 5,
		MinSimilarity:        0.7,
		EmbedConcurrency:     4,
		MaxHistoryTurns:      20,
		MaxContextChars:      2400,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Provider = "bard"
	err := cfg.Validate()
	require.Error(t, err)

	var cfgErr *faults.ProviderConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestValidateRequiresCredentialsForSelectedProvider(t *testing.T) {
	cfg := validConfig()
	cfg.OpenAIAPIKey = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	cfg = validConfig()
	cfg.Provider = ProviderOllama
	cfg.OllamaBaseURL = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OLLAMA_BASE_URL")
}

func TestValidateRejectsOverlapNotSmallerThanChunk(t *testing.T) {
	cfg := validConfig()
	cfg.ChunkOverlap = 500
	assert.Error(t, cfg.Validate())
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.RetentionWindow)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, 0.7, cfg.MinSimilarity)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
}
