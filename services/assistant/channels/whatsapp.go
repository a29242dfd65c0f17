package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
)

// WhatsAppClient talks to the WhatsApp Business Cloud API (Meta Graph).
type WhatsAppClient struct {
	rc      *resty.Client
	phoneID string
}

func NewWhatsAppClient(token, phoneID string) *WhatsAppClient {
	return &WhatsAppClient{
		rc: resty.New().
			SetBaseURL("https://graph.facebook.com/v19.0").
			SetAuthToken(token).
			SetTimeout(30 * time.Second),
		phoneID: phoneID,
	}
}

// WithBaseURL points the client at a different API host. Used by tests.
func (c *WhatsAppClient) WithBaseURL(url string) *WhatsAppClient {
	c.rc.SetBaseURL(url)
	return c
}

type whatsAppSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SendText delivers a text reply to the given phone number.
func (c *WhatsAppClient) SendText(ctx context.Context, to, text string) error {
	var out whatsAppSendResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "text",
			"text":              map[string]string{"body": text},
		}).
		SetResult(&out).
		SetError(&out).
		Post("/" + c.phoneID + "/messages")
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	if resp.IsError() {
		reason := resp.Status()
		if out.Error != nil {
			reason = out.Error.Message
		}
		return fmt.Errorf("whatsapp send failed: %s", reason)
	}
	return nil
}

// whatsAppWebhook is the subset of the Cloud API webhook payload the
// assistant consumes. One delivery can batch several messages.
type whatsAppWebhook struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWhatsAppWebhook normalizes a webhook delivery into inbound messages.
// Status updates and non-text message types are skipped.
func ParseWhatsAppWebhook(body []byte) []datatypes.InboundMessage {
	var payload whatsAppWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("channels: undecodable whatsapp webhook", "error", err)
		return nil
	}
	var out []datatypes.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text.Body == "" {
					continue
				}
				out = append(out, datatypes.InboundMessage{
					UserID:    msg.From,
					Text:      msg.Text.Body,
					Channel:   datatypes.ChannelWhatsApp,
					MessageID: msg.ID,
				})
			}
		}
	}
	return out
}
