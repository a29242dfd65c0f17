// Package channels adapts Telegram and WhatsApp to the assistant: outbound
// delivery over each platform's HTTP API and normalization of inbound
// webhook payloads into datatypes.InboundMessage.
package channels

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// dedupCapacity bounds the redelivery window by entry count as well as time.
const dedupCapacity = 4096

// Deduper suppresses webhook redeliveries. Both platforms retry deliveries
// aggressively on slow responses, so each (channel, message id) pair is
// remembered for the TTL.
type Deduper struct {
	cache *expirable.LRU[string, struct{}]
}

func NewDeduper(ttl time.Duration) *Deduper {
	return &Deduper{cache: expirable.NewLRU[string, struct{}](dedupCapacity, nil, ttl)}
}

// Seen records the message and reports whether it was already known. An
// empty id never dedupes.
func (d *Deduper) Seen(channel, messageID string) bool {
	if messageID == "" {
		return false
	}
	key := channel + "/" + messageID
	if d.cache.Contains(key) {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}
