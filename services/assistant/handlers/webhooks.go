package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/conversa-ai/conversa/services/assistant/channels"
	"github.com/conversa-ai/conversa/services/assistant/datatypes"
)

// Webhook handlers always answer 200 quickly: both platforms treat non-2xx
// (and slow) responses as delivery failures and retry, which would duplicate
// replies. Processing failures are logged, not surfaced.

// TelegramWebhook handles POST /webhooks/telegram.
func TelegramWebhook(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
		if err != nil {
			c.Status(http.StatusOK)
			return
		}
		msg, ok := channels.ParseTelegramWebhook(body)
		if !ok || d.Dedup.Seen(string(datatypes.ChannelTelegram), msg.MessageID) {
			c.Status(http.StatusOK)
			return
		}
		go d.replyTelegram(msg)
		c.Status(http.StatusOK)
	}
}

func (d Deps) replyTelegram(msg datatypes.InboundMessage) {
	ctx, span := startWebhookSpan("telegram")
	defer span.End()

	if d.Cfg.StreamingEnabled {
		stream, err := d.Responder.RespondStream(ctx, msg)
		if err != nil {
			slog.Error("handlers: telegram stream respond failed", "user_id", msg.UserID, "error", err)
			return
		}
		if err := d.Telegram.StreamReply(ctx, msg.UserID, stream, d.Cfg.StreamEditInterval); err != nil {
			slog.Error("handlers: telegram stream delivery failed", "user_id", msg.UserID, "error", err)
		}
		return
	}

	res, err := d.Responder.Respond(ctx, msg)
	if err != nil {
		slog.Error("handlers: telegram respond failed", "user_id", msg.UserID, "error", err)
		return
	}
	if _, err := d.Telegram.SendMessage(ctx, msg.UserID, res.Reply.Text); err != nil {
		slog.Error("handlers: telegram delivery failed", "user_id", msg.UserID, "error", err)
	}
}

// WhatsAppVerify handles GET /webhooks/whatsapp: the Cloud API subscription
// handshake.
func WhatsAppVerify(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("hub.mode") == "subscribe" &&
			c.Query("hub.verify_token") == d.Cfg.WhatsAppVerifyToken {
			c.String(http.StatusOK, c.Query("hub.challenge"))
			return
		}
		c.Status(http.StatusForbidden)
	}
}

// WhatsAppWebhook handles POST /webhooks/whatsapp.
func WhatsAppWebhook(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
		if err != nil {
			c.Status(http.StatusOK)
			return
		}
		for _, msg := range channels.ParseWhatsAppWebhook(body) {
			if d.Dedup.Seen(string(datatypes.ChannelWhatsApp), msg.MessageID) {
				continue
			}
			go d.replyWhatsApp(msg)
		}
		c.Status(http.StatusOK)
	}
}

func (d Deps) replyWhatsApp(msg datatypes.InboundMessage) {
	ctx, span := startWebhookSpan("whatsapp")
	defer span.End()

	res, err := d.Responder.Respond(ctx, msg)
	if err != nil {
		slog.Error("handlers: whatsapp respond failed", "user_id", msg.UserID, "error", err)
		return
	}
	if err := d.WhatsApp.SendText(ctx, msg.UserID, res.Reply.Text); err != nil {
		slog.Error("handlers: whatsapp delivery failed", "user_id", msg.UserID, "error", err)
	}
}

var webhookTracer = otel.Tracer("github.com/conversa-ai/conversa/services/assistant/handlers")

// startWebhookSpan opens a fresh root span for asynchronous webhook replies,
// which outlive the HTTP request that delivered them.
func startWebhookSpan(channel string) (context.Context, trace.Span) {
	return webhookTracer.Start(context.Background(), "handlers.webhookReply."+channel)
}
