// Package contextstore persists per-user conversation contexts in an embedded
// Badger database.
//
// One key per user (ctx/<user_id>) holding the JSON-encoded context. Reads
// run in snapshot view transactions, so a reader never observes a partially
// appended turn. Appends use optimistic transactions and retry on conflict,
// which serializes concurrent appends for the same user without a lock table.
package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/assistant/faults"
)

var tracer = otel.Tracer("github.com/conversa-ai/conversa/services/assistant/contextstore")

const keyPrefix = "ctx/"

// appendRetries bounds optimistic-conflict retries for a single append.
const appendRetries = 5

// Store is the conversation context store. Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &faults.PersistenceError{Op: "open", Err: err}
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store. Used by tests and by deployments
// that explicitly opt out of durability.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &faults.PersistenceError{Op: "open", Err: err}
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func userKey(userID string) []byte { return []byte(keyPrefix + userID) }

// AppendTurn appends one turn to the user's context, creating the context on
// first contact. LastActivity advances to the turn's timestamp.
func (s *Store) AppendTurn(ctx context.Context, userID string, turn datatypes.Turn) error {
	_, span := tracer.Start(ctx, "contextstore.AppendTurn")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			cc, err := readContext(txn, userID)
			if err != nil {
				return err
			}
			if cc == nil {
				cc = &datatypes.ConversationContext{UserID: userID}
			}
			cc.Append(turn)
			raw, err := json.Marshal(cc)
			if err != nil {
				return err
			}
			return txn.Set(userKey(userID), raw)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return &faults.PersistenceError{Op: "append", Err: err}
		}
		lastErr = err
	}
	return &faults.PersistenceError{Op: "append", Err: lastErr}
}

// ReadWindow returns the most recent limit turns for the user in insertion
// order. An unknown user yields an empty window, not an error.
func (s *Store) ReadWindow(ctx context.Context, userID string, limit int) ([]datatypes.Turn, error) {
	_, span := tracer.Start(ctx, "contextstore.ReadWindow")
	defer span.End()

	var turns []datatypes.Turn
	err := s.db.View(func(txn *badger.Txn) error {
		cc, err := readContext(txn, userID)
		if err != nil || cc == nil {
			return err
		}
		turns = cc.Window(limit)
		return nil
	})
	if err != nil {
		return nil, &faults.PersistenceError{Op: "read", Err: err}
	}
	return turns, nil
}

// LastActivity returns the user's last activity timestamp. The second return
// is false when no context exists.
func (s *Store) LastActivity(ctx context.Context, userID string) (time.Time, bool, error) {
	var (
		at     time.Time
		exists bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		cc, err := readContext(txn, userID)
		if err != nil || cc == nil {
			return err
		}
		at, exists = cc.LastActivity, true
		return nil
	})
	if err != nil {
		return time.Time{}, false, &faults.PersistenceError{Op: "read", Err: err}
	}
	return at, exists, nil
}

// Delete removes the user's context. The bool reports whether a context
// existed; deleting an absent one is a no-op, which keeps cleanup cycles
// idempotent.
func (s *Store) Delete(ctx context.Context, userID string) (bool, error) {
	_, span := tracer.Start(ctx, "contextstore.Delete")
	defer span.End()

	var existed bool
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(userKey(userID))
	})
	if err != nil {
		return false, &faults.PersistenceError{Op: "delete", Err: err}
	}
	return existed, nil
}

// DeleteIfIdleSince deletes the user's context only if its last activity is
// strictly before cutoff. The read and the delete share one transaction, so a
// turn appended after the staleness scan either commits first (the context is
// kept) or conflicts (the delete is abandoned). Returns whether the context
// was deleted.
func (s *Store) DeleteIfIdleSince(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	_, span := tracer.Start(ctx, "contextstore.DeleteIfIdleSince")
	defer span.End()

	var deleted bool
	err := s.db.Update(func(txn *badger.Txn) error {
		cc, err := readContext(txn, userID)
		if err != nil || cc == nil {
			return err
		}
		if !cc.LastActivity.Before(cutoff) {
			return nil
		}
		deleted = true
		return txn.Delete(userKey(userID))
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent append won the race; the user came back.
		return false, nil
	}
	if err != nil {
		return false, &faults.PersistenceError{Op: "delete", Err: err}
	}
	return deleted, nil
}

// ListStale returns the user IDs whose last activity is strictly before
// cutoff. A context touched exactly at the cutoff instant is retained.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	_, span := tracer.Start(ctx, "contextstore.ListStale")
	defer span.End()

	var stale []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cc datatypes.ConversationContext
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cc)
			})
			if err != nil {
				// One corrupt record must not block retention for everyone.
				slog.Warn("contextstore: skipping unreadable context during scan",
					"key", string(it.Item().Key()), "error", err)
				continue
			}
			if cc.LastActivity.Before(cutoff) {
				stale = append(stale, cc.UserID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, &faults.PersistenceError{Op: "scan", Err: err}
	}
	return stale, nil
}

// Stats summarizes the store for the status endpoint.
type Stats struct {
	Contexts   int       `json:"contexts"`
	TotalTurns int       `json:"total_turns"`
	OldestIdle time.Time `json:"oldest_idle,omitempty"`
}

// Stats scans all contexts and aggregates counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cc datatypes.ConversationContext
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cc)
			}); err != nil {
				continue
			}
			st.Contexts++
			st.TotalTurns += len(cc.Turns)
			if st.OldestIdle.IsZero() || cc.LastActivity.Before(st.OldestIdle) {
				st.OldestIdle = cc.LastActivity
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, &faults.PersistenceError{Op: "scan", Err: err}
	}
	return st, nil
}

// readContext fetches and decodes one context inside txn. Returns (nil, nil)
// when the user has none.
func readContext(txn *badger.Txn, userID string) (*datatypes.ConversationContext, error) {
	item, err := txn.Get(userKey(userID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cc datatypes.ConversationContext
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &cc)
	}); err != nil {
		return nil, err
	}
	return &cc, nil
}
