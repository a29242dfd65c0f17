// Package llm provides the provider abstraction layer: one capability
// interface implemented once per backend (OpenAI, Gemini, Ollama). Exactly
// one implementation is active per process, selected from configuration at
// startup; switching providers requires a restart so embedding dimensionality
// can be verified against the vector store before serving.
package llm

import (
	"context"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
)

// defaultSystemPrompt anchors the assistant's identity. Providers prepend it
// to every generation request.
const defaultSystemPrompt = "You are a helpful virtual AI assistant. Answer clearly and concisely, " +
	"in the language the user writes in. Never claim to be a real person; if asked who you are, " +
	"say you are a virtual assistant."

// GenerationParams tunes a single generation call. Nil fields fall back to
// per-provider defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// AIProvider is the capability contract every backend implements.
//
// Text and vision calls are retried internally with bounded exponential
// backoff on transient failures. Embedding calls are NOT silently retried
// into success: a persistent failure propagates so document ingestion can
// abort instead of leaving a partially embedded document queryable.
type AIProvider interface {
	// GenerateText produces a reply to prompt given prior conversation turns.
	GenerateText(ctx context.Context, prompt string, history []datatypes.Turn) (string, error)

	// GenerateWithVision produces a reply to prompt about a base64-encoded
	// image of the given MIME type.
	GenerateWithVision(ctx context.Context, prompt, imageB64, mimeType string) (string, error)

	// StreamText starts a generation and returns a finite, non-restartable
	// stream of text increments. The consumer may stop early via Cancel
	// without leaking the underlying connection.
	StreamText(ctx context.Context, prompt string, history []datatypes.Turn) (*Stream, error)

	// Embed returns the embedding vector for one text span.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in order; the result has one vector per input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed dimensionality of the active embedding model.
	Dimensions() int

	// Name identifies the backend ("openai", "gemini", "ollama").
	Name() string
}
