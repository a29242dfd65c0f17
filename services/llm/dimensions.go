package llm

import (
	"fmt"

	"github.com/conversa-ai/conversa/services/assistant/faults"
)

// knownDimensions maps embedding model names to their fixed output
// dimensionality. Models not listed here require an explicit
// EMBEDDING_DIMENSIONS setting.
var knownDimensions = map[string]int{
	// openai
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	// gemini
	"text-embedding-004": 768,
	"embedding-001":      768,
	// ollama
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
	"bge-m3":            1024,
}

// resolveDimensions picks the embedding dimensionality for a model: an
// explicit override wins, otherwise the model must be a known one. Returning
// a config fault here keeps the startup dimensionality check honest — we
// never guess.
func resolveDimensions(model string, override int) (int, error) {
	if override > 0 {
		return override, nil
	}
	if d, ok := knownDimensions[model]; ok {
		return d, nil
	}
	return 0, &faults.ProviderConfigError{
		Reason: fmt.Sprintf("unknown embedding model %q: set EMBEDDING_DIMENSIONS explicitly", model),
	}
}
