package llm

import (
	"context"
	"sync"
)

// StreamChunk is one increment of a streamed generation. The final chunk has
// Done set; its Content may be empty.
type StreamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// Stream is a lazy, cancellable sequence of generation increments. It is
// finite and non-restartable: once the channel closes the generation is over.
// Consumers that stop early must call Cancel so the producing goroutine and
// its provider connection are released.
type Stream struct {
	ch     chan StreamChunk
	cancel context.CancelFunc

	// fwdCtx is set on consumer-built streams so Forward can observe Cancel.
	fwdCtx context.Context

	mu  sync.Mutex
	err error
}

// newStream wires a stream to the cancel function of its producer context.
func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		ch:     make(chan StreamChunk, 8),
		cancel: cancel,
	}
}

// Chunks returns the receive side of the stream. The channel is closed when
// generation completes, fails, or is cancelled.
func (s *Stream) Chunks() <-chan StreamChunk { return s.ch }

// Cancel stops the producer. Safe to call multiple times and after the
// stream has finished.
func (s *Stream) Cancel() { s.cancel() }

// Err reports why the stream ended. Valid once Chunks is closed; nil means
// normal completion or consumer cancellation.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// emit delivers a chunk unless the producer context is done. Returns false
// when the consumer went away.
func (s *Stream) emit(ctx context.Context, c StreamChunk) bool {
	select {
	case s.ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish records the terminal error (context cancellation is not an error,
// the consumer asked for it) and closes the channel.
func (s *Stream) finish(err error) {
	if err != nil && err != context.Canceled {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
	close(s.ch)
}

// NewConsumerStream builds a stream fed by the caller via Forward/Finish,
// used to tee or synthesize streams outside this package. onCancel runs when
// the consumer cancels, typically to cancel an upstream provider stream.
func NewConsumerStream(onCancel func()) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := newStream(func() {
		cancel()
		onCancel()
	})
	s.fwdCtx = ctx
	return s
}

// Forward delivers one chunk to the consumer. Returns false once the
// consumer has cancelled. Only valid on streams from NewConsumerStream.
func (s *Stream) Forward(c StreamChunk) bool { return s.emit(s.fwdCtx, c) }

// Finish ends a consumer-built stream, recording err as its terminal state.
func (s *Stream) Finish(err error) { s.finish(err) }

// Collect drains the stream and concatenates all content. Used by callers
// that want streaming providers but a non-streaming reply, and by tests.
func (s *Stream) Collect() (string, error) {
	var out string
	for c := range s.Chunks() {
		out += c.Content
	}
	return out, s.Err()
}
