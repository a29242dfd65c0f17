// Package retention evicts idle conversation contexts on a fixed interval.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/conversa-ai/conversa/services/assistant/contextstore"
)

var tracer = otel.Tracer("github.com/conversa-ai/conversa/services/assistant/retention")

// Scheduler runs cleanup cycles on a ticker. A cycle that fails logs and
// leaves the contexts in place; the next tick retries, so a transient store
// failure only delays eviction.
type Scheduler struct {
	store    *contextstore.Store
	window   time.Duration
	interval time.Duration

	// now is injectable for tests.
	now func() time.Time

	mu      sync.Mutex
	done    chan struct{}
	stopped sync.WaitGroup
}

// New builds a scheduler evicting contexts idle longer than window, checked
// every interval.
func New(store *contextstore.Store, window, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:    store,
		window:   window,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the background loop. Idempotent; a second call while
// running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	s.done = make(chan struct{})
	s.stopped.Add(1)

	slog.Info("retention: scheduler started",
		"window", s.window.String(), "interval", s.interval.String())

	go func(done chan struct{}) {
		defer s.stopped.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runCycle(ctx)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}(s.done)
}

// runCycle runs one cycle, containing panics so a bad cycle cannot take the
// loop down with it. The next tick retries.
func (s *Scheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("retention: cleanup cycle panicked", "panic", r)
		}
	}()
	if _, err := s.RunNow(ctx); err != nil {
		slog.Error("retention: cleanup cycle failed", "error", err)
	}
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.done = nil
	s.mu.Unlock()
	s.stopped.Wait()
	slog.Info("retention: scheduler stopped")
}

// RunNow executes one cleanup cycle and returns the number of contexts
// evicted. Used by the ticker loop, the manual cleanup endpoint and the CLI.
//
// Staleness is strict: last activity exactly at the cutoff is retained. The
// staleness re-check and the delete share one store transaction, so a user
// who came back mid-cycle keeps their context.
func (s *Scheduler) RunNow(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "retention.RunNow")
	defer span.End()

	cutoff := s.now().Add(-s.window)
	stale, err := s.store.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	evicted := 0
	for _, userID := range stale {
		deleted, err := s.store.DeleteIfIdleSince(ctx, userID, cutoff)
		if err != nil {
			slog.Warn("retention: eviction failed", "user_id", userID, "error", err)
			continue
		}
		if deleted {
			evicted++
		}
	}

	if evicted > 0 || len(stale) > 0 {
		slog.Info("retention: cleanup cycle done",
			"candidates", len(stale), "evicted", evicted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return evicted, nil
}
