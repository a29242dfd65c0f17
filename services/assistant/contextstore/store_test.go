package contextstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func turnAt(role datatypes.Role, text string, at time.Time) datatypes.Turn {
	return datatypes.Turn{Role: role, Text: text, Timestamp: at}
}

func TestAppendCreatesContextOnFirstContact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, exists, err := s.LastActivity(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, exists)

	now := time.Now().UTC()
	require.NoError(t, s.AppendTurn(ctx, "u1", turnAt(datatypes.RoleUser, "hola", now)))

	at, exists, err := s.LastActivity(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, at.Equal(now))
}

func TestReadWindowReturnsMostRecentInInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 10; i++ {
		role := datatypes.RoleUser
		if i%2 == 1 {
			role = datatypes.RoleAssistant
		}
		require.NoError(t, s.AppendTurn(ctx, "u1",
			turnAt(role, fmt.Sprintf("msg-%d", i), base.Add(time.Duration(i)*time.Second))))
	}

	turns, err := s.ReadWindow(ctx, "u1", 4)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	for i, tr := range turns {
		assert.Equal(t, fmt.Sprintf("msg-%d", 6+i), tr.Text)
	}

	// Larger than history: everything, no padding.
	turns, err = s.ReadWindow(ctx, "u1", 100)
	require.NoError(t, err)
	assert.Len(t, turns, 10)

	// Unknown user: empty window, no error.
	turns, err = s.ReadWindow(ctx, "ghost", 4)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestDuplicateTurnsAreDistinct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	require.NoError(t, s.AppendTurn(ctx, "u1", turnAt(datatypes.RoleUser, "hola", at)))
	require.NoError(t, s.AppendTurn(ctx, "u1", turnAt(datatypes.RoleUser, "hola", at)))

	turns, err := s.ReadWindow(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestConcurrentAppendsAllSurvive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.AppendTurn(ctx, "u1",
				turnAt(datatypes.RoleUser, fmt.Sprintf("c-%d", i), time.Now().UTC()))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "append %d", i)
	}

	turns, err := s.ReadWindow(ctx, "u1", n)
	require.NoError(t, err)
	assert.Len(t, turns, n, "conflict retries must not drop turns")
}

func TestLastActivityNeverMovesBackwards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.AppendTurn(ctx, "u1", turnAt(datatypes.RoleUser, "new", now)))
	// A turn stamped in the past (clock skew) must not rewind last activity.
	require.NoError(t, s.AppendTurn(ctx, "u1", turnAt(datatypes.RoleUser, "old", now.Add(-time.Hour))))

	at, _, err := s.LastActivity(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, at.Equal(now))
}

func TestListStaleUsesStrictCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cutoff := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.AppendTurn(ctx, "stale", turnAt(datatypes.RoleUser, "x", cutoff.Add(-time.Minute))))
	require.NoError(t, s.AppendTurn(ctx, "boundary", turnAt(datatypes.RoleUser, "x", cutoff)))
	require.NoError(t, s.AppendTurn(ctx, "fresh", turnAt(datatypes.RoleUser, "x", cutoff.Add(time.Minute))))

	stale, err := s.ListStale(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, stale, "a context touched exactly at the cutoff is retained")
}

func TestDeleteReportsExistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTurn(ctx, "u1", turnAt(datatypes.RoleUser, "hola", time.Now().UTC())))

	deleted, err := s.Delete(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "u1")
	require.NoError(t, err, "deleting an absent context is a no-op")
	assert.False(t, deleted)

	deleted, err = s.Delete(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, deleted, "an unknown user must not report a deletion")

	_, exists, err := s.LastActivity(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDeleteIfIdleSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cutoff := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.AppendTurn(ctx, "stale", turnAt(datatypes.RoleUser, "x", cutoff.Add(-time.Minute))))
	require.NoError(t, s.AppendTurn(ctx, "boundary", turnAt(datatypes.RoleUser, "x", cutoff)))
	require.NoError(t, s.AppendTurn(ctx, "fresh", turnAt(datatypes.RoleUser, "x", cutoff.Add(time.Minute))))

	deleted, err := s.DeleteIfIdleSince(ctx, "stale", cutoff)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteIfIdleSince(ctx, "boundary", cutoff)
	require.NoError(t, err)
	assert.False(t, deleted, "activity exactly at the cutoff is retained")

	deleted, err = s.DeleteIfIdleSince(ctx, "fresh", cutoff)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.DeleteIfIdleSince(ctx, "ghost", cutoff)
	require.NoError(t, err)
	assert.False(t, deleted, "an absent context is not an error")

	_, exists, err := s.LastActivity(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, exists)
	_, exists, err = s.LastActivity(ctx, "boundary")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.AppendTurn(ctx, "a", turnAt(datatypes.RoleUser, "1", base.Add(-2*time.Hour))))
	require.NoError(t, s.AppendTurn(ctx, "b", turnAt(datatypes.RoleUser, "1", base)))
	require.NoError(t, s.AppendTurn(ctx, "b", turnAt(datatypes.RoleAssistant, "2", base)))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Contexts)
	assert.Equal(t, 3, st.TotalTurns)
	assert.True(t, st.OldestIdle.Equal(base.Add(-2*time.Hour)))
}
