package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/llm"
)

// TelegramClient talks to the Telegram Bot API.
type TelegramClient struct {
	rc *resty.Client
}

func NewTelegramClient(token string) *TelegramClient {
	return &TelegramClient{
		rc: resty.New().
			SetBaseURL("https://api.telegram.org/bot" + token).
			SetTimeout(30 * time.Second),
	}
}

// WithBaseURL points the client at a different API host. Used by tests.
func (c *TelegramClient) WithBaseURL(url string) *TelegramClient {
	c.rc.SetBaseURL(url)
	return c
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int `json:"message_id"`
	} `json:"result"`
}

// SendMessage posts a text reply and returns the new message id, needed for
// streaming edits.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text string) (int, error) {
	var out telegramResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{"chat_id": chatID, "text": text}).
		SetResult(&out).
		Post("/sendMessage")
	if err != nil {
		return 0, fmt.Errorf("telegram sendMessage: %w", err)
	}
	if resp.IsError() || !out.OK {
		return 0, fmt.Errorf("telegram sendMessage failed: status %d: %s", resp.StatusCode(), out.Description)
	}
	return out.Result.MessageID, nil
}

// EditMessage replaces the text of an earlier reply.
func (c *TelegramClient) EditMessage(ctx context.Context, chatID string, messageID int, text string) error {
	var out telegramResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{"chat_id": chatID, "message_id": messageID, "text": text}).
		SetResult(&out).
		Post("/editMessageText")
	if err != nil {
		return fmt.Errorf("telegram editMessageText: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram editMessageText failed: status %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}

// StreamReply simulates streaming on Telegram: send the first increment as a
// message, then edit it as more content arrives, at most once per interval.
// A final edit delivers the complete text.
func (c *TelegramClient) StreamReply(ctx context.Context, chatID string, stream *llm.Stream, interval time.Duration) error {
	var (
		full      string
		sent      string
		messageID int
		lastEdit  time.Time
	)
	flush := func() error {
		// The API rejects edits that do not change the text.
		if full == "" || full == sent {
			return nil
		}
		sent = full
		if messageID == 0 {
			id, err := c.SendMessage(ctx, chatID, full)
			if err != nil {
				return err
			}
			messageID = id
			return nil
		}
		return c.EditMessage(ctx, chatID, messageID, full)
	}

	for chunk := range stream.Chunks() {
		full += chunk.Content
		if time.Since(lastEdit) < interval && !chunk.Done {
			continue
		}
		if err := flush(); err != nil {
			stream.Cancel()
			return err
		}
		lastEdit = time.Now()
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return flush()
}

// telegramUpdate is the subset of the Bot API update payload the assistant
// consumes.
type telegramUpdate struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		MessageID int    `json:"message_id"`
		Text      string `json:"text"`
		Caption   string `json:"caption"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// ParseTelegramWebhook normalizes one Bot API update. Non-message updates
// (edits, channel posts, callbacks) and media-only messages are skipped.
func ParseTelegramWebhook(body []byte) (datatypes.InboundMessage, bool) {
	var update telegramUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		slog.Warn("channels: undecodable telegram update", "error", err)
		return datatypes.InboundMessage{}, false
	}
	if update.Message == nil {
		return datatypes.InboundMessage{}, false
	}
	text := update.Message.Text
	if text == "" {
		text = update.Message.Caption
	}
	if text == "" {
		return datatypes.InboundMessage{}, false
	}
	return datatypes.InboundMessage{
		UserID:    strconv.FormatInt(update.Message.Chat.ID, 10),
		Text:      text,
		Channel:   datatypes.ChannelTelegram,
		MessageID: strconv.Itoa(update.Message.MessageID),
	}, true
}
