// Package chat orchestrates one inbound message end to end: validation, fast
// path, context load, retrieval augmentation, generation, persistence and
// delivery.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/conversa-ai/conversa/services/assistant/contextstore"
	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/assistant/faults"
	"github.com/conversa-ai/conversa/services/llm"
)

var tracer = otel.Tracer("github.com/conversa-ai/conversa/services/assistant/chat")

// State tracks how far a message got through the pipeline. Recorded on the
// result for logging and tracing; FAILED still delivers a fallback reply.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateValidated     State = "VALIDATED"
	StateContextLoaded State = "CONTEXT_LOADED"
	StateAugmented     State = "AUGMENTED"
	StateGenerated     State = "GENERATED"
	StatePersisted     State = "PERSISTED"
	StateDelivered     State = "DELIVERED"
	StateFailed        State = "FAILED"
)

// fallbackReply is delivered when generation is unrecoverable. The user gets
// an apology, never a stack trace.
const fallbackReply = "Lo siento, estoy teniendo problemas para responder en este momento. " +
	"Por favor, inténtalo de nuevo en unos minutos."

// Retriever is the retrieval-stage contract the responder depends on.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query string) ([]datatypes.ScoredChunk, error)
}

// Options tunes the responder.
type Options struct {
	MaxHistoryTurns int
	MaxContextChars int
}

// Responder runs the message pipeline. Retriever may be nil when retrieval
// is disabled; everything else is required.
type Responder struct {
	store     *contextstore.Store
	provider  llm.AIProvider
	retriever Retriever
	opts      Options
}

func NewResponder(store *contextstore.Store, provider llm.AIProvider, retriever Retriever, opts Options) *Responder {
	return &Responder{store: store, provider: provider, retriever: retriever, opts: opts}
}

// Result is the outcome of one orchestrated message.
type Result struct {
	Reply      datatypes.OutboundMessage `json:"reply"`
	State      State                     `json:"state"`
	FastPath   bool                      `json:"fast_path"`
	ChunksUsed int                       `json:"chunks_used"`
}

// Respond handles one inbound message.
//
// Degradation rules: a context-store failure downgrades to an empty history,
// a retrieval failure downgrades to an unaugmented prompt, and only an
// unrecoverable provider failure ends in FAILED with the apologetic fallback.
// The returned error is non-nil only for validation problems, which the
// caller maps to a 4xx instead of delivering anything.
func (r *Responder) Respond(ctx context.Context, msg datatypes.InboundMessage) (Result, error) {
	ctx, span := tracer.Start(ctx, "chat.Respond")
	defer span.End()
	span.SetAttributes(attribute.String("channel", string(msg.Channel)))

	res := Result{State: StateReceived}
	if err := msg.Validate(); err != nil {
		res.State = StateFailed
		return res, err
	}
	res.State = StateValidated

	// Trivial social messages skip the provider entirely but still count as
	// conversation activity.
	if msg.Attachment == nil {
		if reply, ok := fastPathReply(msg.Text); ok {
			res.FastPath = true
			r.persistExchange(ctx, msg, reply)
			res.State = StateDelivered
			res.Reply = datatypes.OutboundMessage{Text: reply}
			return res, nil
		}
	}

	history := r.loadHistory(ctx, msg.UserID)
	res.State = StateContextLoaded

	prompt, chunksUsed := r.augment(ctx, msg)
	res.ChunksUsed = chunksUsed
	res.State = StateAugmented

	reply, err := r.generate(ctx, msg, prompt, history)
	if err != nil {
		slog.Error("chat: generation failed, delivering fallback",
			"user_id", msg.UserID, "code", faults.CodeOf(err), "error", err)
		r.persistTurn(ctx, msg.UserID, userTurn(msg))
		res.State = StateFailed
		res.Reply = datatypes.OutboundMessage{Text: fallbackReply}
		return res, nil
	}
	res.State = StateGenerated

	r.persistExchange(ctx, msg, reply)
	res.State = StateDelivered
	res.Reply = datatypes.OutboundMessage{Text: reply}
	return res, nil
}

// RespondStream is the streaming variant. The fast path and failure fallback
// degrade to a single-chunk stream, so consumers handle exactly one shape.
// The user and assistant turns are persisted when the stream completes.
func (r *Responder) RespondStream(ctx context.Context, msg datatypes.InboundMessage) (*llm.Stream, error) {
	ctx, span := tracer.Start(ctx, "chat.RespondStream")
	defer span.End()

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if msg.Attachment == nil {
		if reply, ok := fastPathReply(msg.Text); ok {
			r.persistExchange(ctx, msg, reply)
			return singleChunkStream(reply), nil
		}
	}

	// Vision has no streaming backend; collapse to one chunk.
	if msg.Attachment != nil {
		res, err := r.Respond(ctx, msg)
		if err != nil {
			return nil, err
		}
		return singleChunkStream(res.Reply.Text), nil
	}

	history := r.loadHistory(ctx, msg.UserID)
	prompt, _ := r.augment(ctx, msg)

	upstream, err := r.provider.StreamText(ctx, prompt, history)
	if err != nil {
		slog.Error("chat: stream setup failed, delivering fallback",
			"user_id", msg.UserID, "code", faults.CodeOf(err), "error", err)
		r.persistTurn(ctx, msg.UserID, userTurn(msg))
		return singleChunkStream(fallbackReply), nil
	}

	// Tee the stream so the full reply can be persisted once it completes.
	out := llm.NewConsumerStream(upstream.Cancel)
	go func() {
		var full strings.Builder
		for c := range upstream.Chunks() {
			full.WriteString(c.Content)
			if !out.Forward(c) {
				return
			}
		}
		if err := upstream.Err(); err != nil {
			slog.Error("chat: stream failed mid-generation", "user_id", msg.UserID, "error", err)
			out.Forward(llm.StreamChunk{Content: "\n" + fallbackReply, Done: true})
			r.persistTurn(ctx, msg.UserID, userTurn(msg))
			out.Finish(nil)
			return
		}
		r.persistExchange(context.WithoutCancel(ctx), msg, full.String())
		out.Finish(nil)
	}()
	return out, nil
}

func (r *Responder) generate(ctx context.Context, msg datatypes.InboundMessage, prompt string, history []datatypes.Turn) (string, error) {
	if msg.Attachment != nil {
		question := msg.Text
		if strings.TrimSpace(question) == "" {
			question = "Describe esta imagen."
		}
		return r.provider.GenerateWithVision(ctx, question, msg.Attachment.Data, msg.Attachment.MimeType)
	}
	return r.provider.GenerateText(ctx, prompt, history)
}

// augment runs retrieval and folds the results into the prompt. Attachment
// messages and disabled retrieval pass the text through unchanged.
func (r *Responder) augment(ctx context.Context, msg datatypes.InboundMessage) (string, int) {
	if r.retriever == nil || msg.Attachment != nil || strings.TrimSpace(msg.Text) == "" {
		return msg.Text, 0
	}
	chunks, err := r.retriever.Retrieve(ctx, msg.UserID, msg.Text)
	if err != nil {
		slog.Warn("chat: retrieval failed, continuing without context",
			"user_id", msg.UserID, "error", err)
		return msg.Text, 0
	}
	return buildPrompt(msg.Text, chunks, r.opts.MaxContextChars), len(chunks)
}

// loadHistory reads the conversation window, degrading to empty on store
// failure so a broken disk never blocks replies.
func (r *Responder) loadHistory(ctx context.Context, userID string) []datatypes.Turn {
	history, err := r.store.ReadWindow(ctx, userID, r.opts.MaxHistoryTurns)
	if err != nil {
		slog.Warn("chat: context load failed, starting fresh", "user_id", userID, "error", err)
		return nil
	}
	return history
}

func (r *Responder) persistTurn(ctx context.Context, userID string, turn datatypes.Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	if err := r.store.AppendTurn(ctx, userID, turn); err != nil {
		slog.Warn("chat: persisting turn failed", "user_id", userID, "error", err)
	}
}

// userTurn captures the inbound message as a stored turn. Attachment records
// what kind of media arrived; the payload itself is never persisted.
func userTurn(msg datatypes.InboundMessage) datatypes.Turn {
	turn := datatypes.Turn{Role: datatypes.RoleUser, Text: msg.Text}
	if msg.Attachment != nil {
		turn.Attachment = msg.Attachment.MimeType
		if turn.Attachment == "" {
			turn.Attachment = msg.Attachment.Kind
		}
	}
	return turn
}

func (r *Responder) persistExchange(ctx context.Context, msg datatypes.InboundMessage, assistantText string) {
	r.persistTurn(ctx, msg.UserID, userTurn(msg))
	r.persistTurn(ctx, msg.UserID, datatypes.Turn{Role: datatypes.RoleAssistant, Text: assistantText})
}

// singleChunkStream wraps a complete reply as a finished stream.
func singleChunkStream(text string) *llm.Stream {
	s := llm.NewConsumerStream(func() {})
	s.Forward(llm.StreamChunk{Content: text, Done: true})
	s.Finish(nil)
	return s
}
