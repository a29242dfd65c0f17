// Package datatypes holds the wire and domain types shared across the
// assistant service: conversation contexts, normalized channel messages and
// retrieval chunks.
package datatypes

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Immutable once written; ordering
// within a context is insertion order and duplicates are valid.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
	// Attachment is the media type of any attachment that arrived with the
	// message (mime type, or kind when the channel gave none). The payload
	// itself is not stored.
	Attachment string    `json:"attachment,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConversationContext is the per-user conversation history. LastActivity is
// monotonically non-decreasing and equals the timestamp of the most recent
// appended turn.
type ConversationContext struct {
	UserID       string    `json:"user_id"`
	Turns        []Turn    `json:"turns"`
	LastActivity time.Time `json:"last_activity"`
}

// Append adds a turn and advances LastActivity. A turn carrying a timestamp
// older than LastActivity (clock skew between workers) does not move
// LastActivity backwards.
func (c *ConversationContext) Append(t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	c.Turns = append(c.Turns, t)
	if t.Timestamp.After(c.LastActivity) {
		c.LastActivity = t.Timestamp
	}
}

// Window returns the most recent n turns in insertion order, fewer when the
// history is shorter. The context is not mutated.
func (c *ConversationContext) Window(n int) []Turn {
	if n <= 0 || len(c.Turns) == 0 {
		return nil
	}
	if n >= len(c.Turns) {
		out := make([]Turn, len(c.Turns))
		copy(out, c.Turns)
		return out
	}
	out := make([]Turn, n)
	copy(out, c.Turns[len(c.Turns)-n:])
	return out
}
