package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/conversa-ai/conversa/services/assistant/config"
	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/assistant/faults"
)

// GeminiProvider implements AIProvider against the Google Gemini API.
// Gemini models are multimodal, so the text model doubles as the vision one.
type GeminiProvider struct {
	client     *googleai.GoogleAI
	model      string
	embedModel string
	dims       int
	timeout    time.Duration
}

func NewGeminiProvider(ctx context.Context, cfg config.Config) (*GeminiProvider, error) {
	dims, err := resolveDimensions(cfg.GeminiEmbeddingModel, cfg.EmbeddingDimensions)
	if err != nil {
		return nil, err
	}
	client, err := googleai.New(ctx,
		googleai.WithAPIKey(cfg.GeminiAPIKey),
		googleai.WithDefaultModel(cfg.GeminiModel),
		googleai.WithDefaultEmbeddingModel(cfg.GeminiEmbeddingModel),
	)
	if err != nil {
		return nil, &faults.ProviderConfigError{Reason: fmt.Sprintf("gemini client init failed: %v", err)}
	}
	return &GeminiProvider{
		client:     client,
		model:      cfg.GeminiModel,
		embedModel: cfg.GeminiEmbeddingModel,
		dims:       dims,
		timeout:    cfg.ProviderTimeout,
	}, nil
}

func (p *GeminiProvider) Name() string    { return config.ProviderGemini }
func (p *GeminiProvider) Dimensions() int { return p.dims }

// classifyGeminiErr treats rate limiting and server-side errors as transient.
// The SDK does not expose typed errors, so this matches on the status text
// the API embeds in them.
func classifyGeminiErr(err error) error {
	msg := err.Error()
	for _, marker := range []string{"429", "RESOURCE_EXHAUSTED", "UNAVAILABLE", "500", "503", "DEADLINE_EXCEEDED"} {
		if strings.Contains(msg, marker) {
			return &faults.TransientProviderError{Provider: config.ProviderGemini, Err: err}
		}
	}
	return err
}

func (p *GeminiProvider) messages(prompt string, history []datatypes.Turn) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(history)+2)
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, defaultSystemPrompt))
	for _, t := range history {
		role := llms.ChatMessageTypeHuman
		if t.Role == datatypes.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, t.Text))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}

func firstChoice(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func (p *GeminiProvider) GenerateText(ctx context.Context, prompt string, history []datatypes.Turn) (string, error) {
	return withRetry(ctx, p.Name(), "generate_text", p.timeout, func(ctx context.Context) (string, error) {
		resp, err := p.client.GenerateContent(ctx, p.messages(prompt, history))
		if err != nil {
			return "", classifyGeminiErr(err)
		}
		return firstChoice(resp)
	})
}

func (p *GeminiProvider) GenerateWithVision(ctx context.Context, prompt, imageB64, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	raw, err := base64.StdEncoding.DecodeString(imageB64)
	if err != nil {
		return "", &faults.ValidationError{Field: "attachment.data", Reason: "not valid base64"}
	}
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, defaultSystemPrompt),
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt),
				llms.BinaryPart(mimeType, raw),
			},
		},
	}
	return withRetry(ctx, p.Name(), "generate_with_vision", p.timeout, func(ctx context.Context) (string, error) {
		resp, err := p.client.GenerateContent(ctx, msgs)
		if err != nil {
			return "", classifyGeminiErr(err)
		}
		return firstChoice(resp)
	})
}

// StreamText runs GenerateContent with a streaming callback feeding the
// returned Stream. The SDK surfaces increments via the callback, so the
// producer goroutine owns the whole call.
func (p *GeminiProvider) StreamText(ctx context.Context, prompt string, history []datatypes.Turn) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	msgs := p.messages(prompt, history)

	go func() {
		defer cancel()
		_, err := p.client.GenerateContent(ctx, msgs,
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				if !s.emit(ctx, StreamChunk{Content: string(chunk)}) {
					return ctx.Err()
				}
				return nil
			}),
		)
		if err != nil && ctx.Err() == nil {
			s.finish(classifyGeminiErr(err))
			return
		}
		s.emit(ctx, StreamChunk{Done: true})
		s.finish(nil)
	}()
	return s, nil
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return withRetry(ctx, p.Name(), "embed", p.timeout, func(ctx context.Context) ([][]float32, error) {
		vecs, err := p.client.CreateEmbedding(ctx, texts)
		if err != nil {
			return nil, classifyGeminiErr(err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(vecs), len(texts))
		}
		return vecs, nil
	})
}
