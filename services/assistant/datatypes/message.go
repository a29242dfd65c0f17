package datatypes

import (
	"strings"

	"github.com/conversa-ai/conversa/services/assistant/faults"
)

// Channel names a delivery channel for inbound/outbound messages.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelAPI      Channel = "api"
)

// Attachment carries an inline media payload delivered with a message.
// Data is base64-encoded; only images reach the vision path, everything else
// is extracted to text upstream by the file-extraction collaborator.
type Attachment struct {
	Kind     string `json:"kind"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// InboundMessage is the normalized message handed over by a channel adapter.
type InboundMessage struct {
	UserID     string      `json:"user_id"`
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Channel    Channel     `json:"channel"`
	// MessageID is the channel-native message identifier, used for webhook
	// redelivery deduplication. Optional for direct API calls.
	MessageID string `json:"message_id,omitempty"`
}

// Validate checks the inbound payload shape. A message must identify its
// sender and carry either text or an attachment.
func (m *InboundMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return &faults.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(m.Text) == "" && m.Attachment == nil {
		return &faults.ValidationError{Field: "text", Reason: "message has neither text nor attachment"}
	}
	if m.Attachment != nil && m.Attachment.Data == "" {
		return &faults.ValidationError{Field: "attachment.data", Reason: "attachment payload is empty"}
	}
	return nil
}

// OutboundMessage is the reply returned to a channel adapter.
type OutboundMessage struct {
	Text string `json:"text"`
}
