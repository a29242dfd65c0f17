package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/conversa-ai/conversa/services/assistant/config"
	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/assistant/faults"
)

// OpenAIProvider implements AIProvider against the OpenAI API. Separate model
// names cover text, vision and embeddings so a cheap text model can pair with
// a vision-capable one.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	visionModel string
	embedModel  string
	dims        int
	timeout     time.Duration
}

// NewOpenAIProvider builds the provider from configuration. Fails fast when
// the embedding dimensionality cannot be determined.
func NewOpenAIProvider(cfg config.Config) (*OpenAIProvider, error) {
	dims, err := resolveDimensions(cfg.OpenAIEmbeddingModel, cfg.EmbeddingDimensions)
	if err != nil {
		return nil, err
	}
	return &OpenAIProvider{
		client:      openai.NewClient(cfg.OpenAIAPIKey),
		model:       cfg.OpenAIModel,
		visionModel: cfg.OpenAIVisionModel,
		embedModel:  cfg.OpenAIEmbeddingModel,
		dims:        dims,
		timeout:     cfg.ProviderTimeout,
	}, nil
}

func (p *OpenAIProvider) Name() string    { return config.ProviderOpenAI }
func (p *OpenAIProvider) Dimensions() int { return p.dims }

// classifyOpenAIErr wraps rate limits, server-side failures and network
// errors as transient so withRetry backs off instead of bailing out.
func classifyOpenAIErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return &faults.TransientProviderError{Provider: config.ProviderOpenAI, Err: err}
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &faults.TransientProviderError{Provider: config.ProviderOpenAI, Err: err}
	}
	return err
}

func (p *OpenAIProvider) chatMessages(prompt string, history []datatypes.Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: defaultSystemPrompt,
	})
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == datatypes.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
}

func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string, history []datatypes.Turn) (string, error) {
	return withRetry(ctx, p.Name(), "generate_text", p.timeout, func(ctx context.Context) (string, error) {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    p.model,
			Messages: p.chatMessages(prompt, history),
		})
		if err != nil {
			return "", classifyOpenAIErr(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("openai returned no choices")
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
}

func (p *OpenAIProvider) GenerateWithVision(ctx context.Context, prompt, imageB64, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, imageB64)
	return withRetry(ctx, p.Name(), "generate_with_vision", p.timeout, func(ctx context.Context) (string, error) {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: p.visionModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: defaultSystemPrompt},
				{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{Type: openai.ChatMessagePartTypeText, Text: prompt},
						{
							Type:     openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
						},
					},
				},
			},
		})
		if err != nil {
			return "", classifyOpenAIErr(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("openai returned no choices")
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
}

// StreamText opens a streaming completion. Stream setup failures surface
// immediately; mid-stream failures end the stream with Err set.
func (p *OpenAIProvider) StreamText(ctx context.Context, prompt string, history []datatypes.Turn) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	sse, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: p.chatMessages(prompt, history),
		Stream:   true,
	})
	if err != nil {
		cancel()
		return nil, classifyOpenAIErr(err)
	}

	s := newStream(cancel)
	go func() {
		defer sse.Close()
		defer cancel()
		for {
			resp, err := sse.Recv()
			if errors.Is(err, io.EOF) {
				s.emit(ctx, StreamChunk{Done: true})
				s.finish(nil)
				return
			}
			if err != nil {
				s.finish(classifyOpenAIErr(err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !s.emit(ctx, StreamChunk{Content: delta}) {
				s.finish(ctx.Err())
				return
			}
		}
	}()
	return s, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return withRetry(ctx, p.Name(), "embed", p.timeout, func(ctx context.Context) ([][]float32, error) {
		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts,
			Model: openai.EmbeddingModel(p.embedModel),
		})
		if err != nil {
			return nil, classifyOpenAIErr(err)
		}
		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
		}
		vecs := make([][]float32, len(texts))
		for _, d := range resp.Data {
			vecs[d.Index] = d.Embedding
		}
		return vecs, nil
	})
}
