package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamCollectConcatenatesChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newStream(cancel)
	go func() {
		s.emit(ctx, StreamChunk{Content: "Hello"})
		s.emit(ctx, StreamChunk{Content: ", world"})
		s.emit(ctx, StreamChunk{Done: true})
		s.finish(nil)
	}()

	out, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", out)
}

func TestStreamCancelUnblocksProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newStream(cancel)

	produced := make(chan bool, 1)
	go func() {
		// Channel buffer is 8; keep emitting until the consumer goes away.
		for i := 0; ; i++ {
			if !s.emit(ctx, StreamChunk{Content: "x"}) {
				produced <- false
				s.finish(ctx.Err())
				return
			}
		}
	}()

	s.Cancel()
	select {
	case ok := <-produced:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not observe cancellation")
	}
	assert.NoError(t, s.Err(), "consumer cancellation is not a stream error")
}

func TestStreamErrSurvivesDrain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newStream(cancel)
	boom := errors.New("connection reset")
	go func() {
		s.emit(ctx, StreamChunk{Content: "partial"})
		s.finish(boom)
	}()

	out, err := s.Collect()
	assert.Equal(t, "partial", out)
	assert.ErrorIs(t, err, boom)
}
