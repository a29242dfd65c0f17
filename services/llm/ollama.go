package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/conversa-ai/conversa/services/assistant/config"
	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/assistant/faults"
)

// OllamaProvider implements AIProvider against a local Ollama server over
// plain HTTP. Chat uses /api/chat (NDJSON when streaming), embeddings use
// /api/embed.
type OllamaProvider struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	visionModel string
	embedModel  string
	dims        int
	timeout     time.Duration
}

func NewOllamaProvider(cfg config.Config) (*OllamaProvider, error) {
	dims, err := resolveDimensions(cfg.OllamaEmbeddingModel, cfg.EmbeddingDimensions)
	if err != nil {
		return nil, err
	}
	return &OllamaProvider{
		// No client-level timeout: streamed responses can legitimately
		// outlive any fixed value. Non-streaming requests are bounded
		// per attempt by withRetry via context deadlines.
		httpClient:  &http.Client{Timeout: 0},
		baseURL:     strings.TrimSuffix(cfg.OllamaBaseURL, "/"),
		model:       cfg.OllamaModel,
		visionModel: cfg.OllamaVisionModel,
		embedModel:  cfg.OllamaEmbeddingModel,
		dims:        dims,
		timeout:     cfg.ProviderTimeout,
	}, nil
}

func (p *OllamaProvider) Name() string    { return config.ProviderOllama }
func (p *OllamaProvider) Dimensions() int { return p.dims }

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (p *OllamaProvider) chatMessages(prompt string, history []datatypes.Turn) []ollamaMessage {
	msgs := make([]ollamaMessage, 0, len(history)+2)
	msgs = append(msgs, ollamaMessage{Role: "system", Content: defaultSystemPrompt})
	for _, t := range history {
		role := "user"
		if t.Role == datatypes.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, ollamaMessage{Role: role, Content: t.Text})
	}
	return append(msgs, ollamaMessage{Role: "user", Content: prompt})
}

// post sends a JSON request. Connection failures and 5xx responses are
// transient; a missing model gets an actionable hint since that is by far
// the most common local setup mistake.
func (p *OllamaProvider) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &faults.TransientProviderError{Provider: config.ProviderOllama, Err: err}
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, &faults.TransientProviderError{
			Provider: config.ProviderOllama,
			Err:      fmt.Errorf("ollama %s returned status %d", path, resp.StatusCode),
		}
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		msg := strings.TrimSpace(string(raw))
		if resp.StatusCode == http.StatusNotFound && strings.Contains(msg, "model") {
			return nil, fmt.Errorf("ollama %s: %s (try `ollama pull <model>`)", path, msg)
		}
		return nil, fmt.Errorf("ollama %s returned status %d: %s", path, resp.StatusCode, msg)
	}
	return resp, nil
}

func (p *OllamaProvider) chat(ctx context.Context, model string, msgs []ollamaMessage) (string, error) {
	return withRetry(ctx, p.Name(), "generate_text", p.timeout, func(ctx context.Context) (string, error) {
		resp, err := p.post(ctx, "/api/chat", ollamaChatRequest{Model: model, Messages: msgs})
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		var out ollamaChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decoding ollama chat response: %w", err)
		}
		if out.Error != "" {
			return "", fmt.Errorf("ollama chat error: %s", out.Error)
		}
		return strings.TrimSpace(out.Message.Content), nil
	})
}

func (p *OllamaProvider) GenerateText(ctx context.Context, prompt string, history []datatypes.Turn) (string, error) {
	return p.chat(ctx, p.model, p.chatMessages(prompt, history))
}

func (p *OllamaProvider) GenerateWithVision(ctx context.Context, prompt, imageB64, mimeType string) (string, error) {
	msgs := []ollamaMessage{
		{Role: "system", Content: defaultSystemPrompt},
		{Role: "user", Content: prompt, Images: []string{imageB64}},
	}
	return p.chat(ctx, p.visionModel, msgs)
}

// StreamText reads the NDJSON chat stream line by line, one JSON object per
// generation increment.
func (p *OllamaProvider) StreamText(ctx context.Context, prompt string, history []datatypes.Turn) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := p.post(ctx, "/api/chat", ollamaChatRequest{
		Model:    p.model,
		Messages: p.chatMessages(prompt, history),
		Stream:   true,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	s := newStream(cancel)
	go func() {
		defer resp.Body.Close()
		defer cancel()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				s.finish(fmt.Errorf("decoding ollama stream line: %w", err))
				return
			}
			if chunk.Error != "" {
				s.finish(fmt.Errorf("ollama stream error: %s", chunk.Error))
				return
			}
			if chunk.Message.Content != "" {
				if !s.emit(ctx, StreamChunk{Content: chunk.Message.Content}) {
					s.finish(ctx.Err())
					return
				}
			}
			if chunk.Done {
				s.emit(ctx, StreamChunk{Done: true})
				s.finish(nil)
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			s.finish(&faults.TransientProviderError{Provider: config.ProviderOllama, Err: err})
			return
		}
		// Stream ended without a done marker; treat as complete.
		s.emit(ctx, StreamChunk{Done: true})
		s.finish(nil)
	}()
	return s, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return withRetry(ctx, p.Name(), "embed", p.timeout, func(ctx context.Context) ([][]float32, error) {
		resp, err := p.post(ctx, "/api/embed", ollamaEmbedRequest{Model: p.embedModel, Input: texts})
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var out ollamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decoding ollama embed response: %w", err)
		}
		if out.Error != "" {
			return nil, fmt.Errorf("ollama embed error: %s", out.Error)
		}
		if len(out.Embeddings) != len(texts) {
			return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(texts))
		}
		return out.Embeddings, nil
	})
}
