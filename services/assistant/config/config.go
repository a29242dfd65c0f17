// Package config loads and validates the process-wide assistant configuration.
//
// Configuration is read once at startup from environment variables and passed
// by value to the components that need it. Components never reach back into
// the environment, which keeps them testable with a substitute Config.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conversa-ai/conversa/services/assistant/faults"
)

// Provider names accepted for AI_PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Config is the process-wide configuration, constructed once in main.
type Config struct {
	Port string

	// Active AI provider and per-operation model names.
	Provider             string `validate:"required,oneof=openai gemini ollama"`
	OpenAIAPIKey         string
	OpenAIModel          string
	OpenAIVisionModel    string
	OpenAIEmbeddingModel string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiEmbeddingModel string
	OllamaBaseURL        string
	OllamaModel          string
	OllamaVisionModel    string
	OllamaEmbeddingModel string

	// EmbeddingDimensions overrides the provider's default dimensionality.
	// Zero means "use the model's known default".
	EmbeddingDimensions int `validate:"gte=0"`

	// ProviderTimeout bounds a single text/vision/embedding call.
	ProviderTimeout time.Duration `validate:"gt=0"`

	WeaviateURL string
	DataDir     string `validate:"required"`

	RetentionWindow time.Duration `validate:"gt=0"`
	CleanupInterval time.Duration `validate:"gt=0"`

	RAGEnabled       bool
	ChunkSize        int     `validate:"gt=0"`
	ChunkOverlap     int     `validate:"gte=0"`
	TopK             int     `validate:"gt=0"`
	MinSimilarity    float64 `validate:"gte=0,lte=1"`
	EmbedConcurrency int     `validate:"gt=0"`

	MaxHistoryTurns int `validate:"gt=0"`
	MaxContextChars int `validate:"gt=0"`

	StreamingEnabled   bool
	StreamEditInterval time.Duration

	TelegramToken       string
	WhatsAppToken       string
	WhatsAppPhoneID     string
	WhatsAppVerifyToken string

	OTLPEndpoint string
}

// Load reads configuration from the environment and validates it.
//
// Provider-related problems (unknown provider, missing credentials or model
// names for the selected backend) come back as *faults.ProviderConfigError so
// main can refuse to serve. Everything else gets sensible defaults matching
// the original deployment: 24h retention, 1h cleanup, 500/50 chunking, top-5
// retrieval at a 0.7 similarity floor.
func Load() (Config, error) {
	cfg := Config{
		Port: envOr("ASSISTANT_PORT", "8082"),

		Provider:             strings.ToLower(envOr("AI_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          envOr("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIVisionModel:    envOr("OPENAI_VISION_MODEL", "gpt-4o"),
		OpenAIEmbeddingModel: envOr("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiModel:          envOr("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiEmbeddingModel: envOr("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),
		OllamaBaseURL:        strings.TrimSuffix(os.Getenv("OLLAMA_BASE_URL"), "/"),
		OllamaModel:          envOr("OLLAMA_MODEL", "llama3.1"),
		OllamaVisionModel:    envOr("OLLAMA_VISION_MODEL", "llava"),
		OllamaEmbeddingModel: envOr("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),

		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 0),
		ProviderTimeout:     envDuration("PROVIDER_TIMEOUT", 60*time.Second),

		WeaviateURL: strings.Trim(os.Getenv("WEAVIATE_URL"), "\"' "),
		DataDir:     envOr("DATA_DIR", "local/contexts"),

		RetentionWindow: envDuration("CONTEXT_RETENTION_WINDOW", 24*time.Hour),
		CleanupInterval: envDuration("CONTEXT_CLEANUP_INTERVAL", time.Hour),

		RAGEnabled:       envBool("RAG_ENABLED", true),
		ChunkSize:        envInt("RAG_CHUNK_SIZE", 500),
		ChunkOverlap:     envInt("RAG_CHUNK_OVERLAP", 50),
		TopK:             envInt("RAG_TOP_K", 5),
		MinSimilarity:    envFloat("RAG_MIN_SIMILARITY", 0.7),
		EmbedConcurrency: envInt("RAG_EMBED_CONCURRENCY", 4),

		MaxHistoryTurns: envInt("MAX_HISTORY_TURNS", 20),
		MaxContextChars: envInt("MAX_CONTEXT_CHARS", 2400),

		StreamingEnabled:   envBool("STREAMING_ENABLED", false),
		StreamEditInterval: envDuration("STREAM_EDIT_INTERVAL", 900*time.Millisecond),

		TelegramToken:       os.Getenv("TELEGRAM_TOKEN"),
		WhatsAppToken:       os.Getenv("WHATSAPP_TOKEN"),
		WhatsAppPhoneID:     os.Getenv("WHATSAPP_PHONE_ID"),
		WhatsAppVerifyToken: os.Getenv("WHATSAPP_VERIFY_TOKEN"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints and the provider selection.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if strings.Contains(err.Error(), "Provider") {
			return &faults.ProviderConfigError{Reason: fmt.Sprintf("unknown provider %q (want openai, gemini or ollama)", c.Provider)}
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("invalid configuration: chunk overlap %d must be smaller than chunk size %d", c.ChunkOverlap, c.ChunkSize)
	}

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return &faults.ProviderConfigError{Reason: "OPENAI_API_KEY not set"}
		}
		if c.OpenAIModel == "" || c.OpenAIEmbeddingModel == "" {
			return &faults.ProviderConfigError{Reason: "openai text and embedding model names are required"}
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return &faults.ProviderConfigError{Reason: "GEMINI_API_KEY not set"}
		}
		if c.GeminiModel == "" || c.GeminiEmbeddingModel == "" {
			return &faults.ProviderConfigError{Reason: "gemini text and embedding model names are required"}
		}
	case ProviderOllama:
		if c.OllamaBaseURL == "" {
			return &faults.ProviderConfigError{Reason: "OLLAMA_BASE_URL not set"}
		}
		if c.OllamaModel == "" || c.OllamaEmbeddingModel == "" {
			return &faults.ProviderConfigError{Reason: "ollama text and embedding model names are required"}
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid float env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
