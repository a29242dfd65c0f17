package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversa-ai/conversa/services/assistant/config"
	"github.com/conversa-ai/conversa/services/assistant/datatypes"
)

func newOllamaForTest(t *testing.T, handler http.Handler) *OllamaProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{
		OllamaBaseURL:        srv.URL,
		OllamaModel:          "llama3.1",
		OllamaVisionModel:    "llava",
		OllamaEmbeddingModel: "nomic-embed-text",
	}
	p, err := NewOllamaProvider(cfg)
	require.NoError(t, err)
	return p
}

func TestOllamaGenerateText(t *testing.T) {
	p := newOllamaForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.1", req.Model)
		assert.False(t, req.Stream)
		require.NotEmpty(t, req.Messages)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "what is weaviate?", req.Messages[len(req.Messages)-1].Content)

		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "A vector database."},
			Done:    true,
		})
	}))

	history := []datatypes.Turn{
		{Role: datatypes.RoleUser, Text: "hi"},
		{Role: datatypes.RoleAssistant, Text: "hello!"},
	}
	out, err := p.GenerateText(context.Background(), "what is weaviate?", history)
	require.NoError(t, err)
	assert.Equal(t, "A vector database.", out)
}

func TestOllamaStreamText(t *testing.T) {
	p := newOllamaForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		enc := json.NewEncoder(w)
		enc.Encode(ollamaChatResponse{Message: ollamaMessage{Content: "Hel"}})
		enc.Encode(ollamaChatResponse{Message: ollamaMessage{Content: "lo"}})
		enc.Encode(ollamaChatResponse{Done: true})
	}))

	s, err := p.StreamText(context.Background(), "greet me", nil)
	require.NoError(t, err)

	var got string
	var sawDone bool
	for c := range s.Chunks() {
		got += c.Content
		if c.Done {
			sawDone = true
		}
	}
	require.NoError(t, s.Err())
	assert.Equal(t, "Hello", got)
	assert.True(t, sawDone, "stream must end with a done marker")
}

func TestOllamaEmbedBatchOrdering(t *testing.T) {
	p := newOllamaForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, []string{"first", "second"}, req.Input)

		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))

	vecs, err := p.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vecs[0])
	assert.Equal(t, []float32{0.3, 0.4}, vecs[1])
}

func TestOllamaMissingModelHint(t *testing.T) {
	p := newOllamaForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'llama3.1' not found"}`))
	}))

	_, err := p.GenerateText(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull")
}
