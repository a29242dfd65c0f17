// Package handlers exposes the assistant over HTTP: the direct REST API and
// the Telegram/WhatsApp webhook endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conversa-ai/conversa/services/assistant/channels"
	"github.com/conversa-ai/conversa/services/assistant/chat"
	"github.com/conversa-ai/conversa/services/assistant/config"
	"github.com/conversa-ai/conversa/services/assistant/contextstore"
	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/assistant/faults"
	"github.com/conversa-ai/conversa/services/assistant/rag"
	"github.com/conversa-ai/conversa/services/assistant/retention"
)

// Deps carries everything the handlers close over. Channel clients may be
// nil when the corresponding channel is not configured; the ingestion and
// retrieval fields may be nil when RAG is disabled.
type Deps struct {
	Cfg       config.Config
	Responder *chat.Responder
	Ingestor  *rag.Ingestor
	Retriever chat.Retriever
	Vectors   rag.VectorStore
	Store     *contextstore.Store
	Scheduler *retention.Scheduler
	Telegram  *channels.TelegramClient
	WhatsApp  *channels.WhatsAppClient
	Dedup     *channels.Deduper
}

// statusFor maps taxonomy codes to HTTP statuses.
func statusFor(err error) int {
	switch faults.CodeOf(err) {
	case faults.CodeValidation:
		return http.StatusBadRequest
	case faults.CodeProviderUnavailable, faults.CodeProviderTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithFault(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error(), "code": faults.CodeOf(err)})
}

// PostMessage handles POST /api/v1/messages: one synchronous
// message-in/reply-out exchange.
func PostMessage(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg datatypes.InboundMessage
		if err := c.ShouldBindJSON(&msg); err != nil {
			abortWithFault(c, &faults.ValidationError{Field: "body", Reason: err.Error()})
			return
		}
		if msg.Channel == "" {
			msg.Channel = datatypes.ChannelAPI
		}
		res, err := d.Responder.Respond(c.Request.Context(), msg)
		if err != nil {
			abortWithFault(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// PostDocument handles POST /api/v1/documents: ingest (or re-ingest) one
// document.
func PostDocument(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Ingestor == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "retrieval is disabled"})
			return
		}
		var doc datatypes.Document
		if err := c.ShouldBindJSON(&doc); err != nil {
			abortWithFault(c, &faults.ValidationError{Field: "body", Reason: err.Error()})
			return
		}
		res, err := d.Ingestor.Ingest(c.Request.Context(), doc)
		if err != nil {
			abortWithFault(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// DeleteDocument handles DELETE /api/v1/documents/:id.
func DeleteDocument(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Ingestor == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "retrieval is disabled"})
			return
		}
		matched, err := d.Ingestor.Delete(c.Request.Context(), c.Param("id"))
		if err != nil {
			abortWithFault(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"document_id": c.Param("id"), "deleted_chunks": matched})
	}
}

// GetRetrieve handles GET /api/v1/retrieve?user_id=&q=: raw retrieval
// results without generation, for inspection and tuning.
func GetRetrieve(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Retriever == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "retrieval is disabled"})
			return
		}
		chunks, err := d.Retriever.Retrieve(c.Request.Context(), c.Query("user_id"), c.Query("q"))
		if err != nil {
			abortWithFault(c, err)
			return
		}
		if chunks == nil {
			chunks = []datatypes.ScoredChunk{}
		}
		c.JSON(http.StatusOK, gin.H{"chunks": chunks})
	}
}

// PostCleanup handles POST /api/v1/contexts/cleanup: one manual eviction
// cycle, same semantics as the scheduled one.
func PostCleanup(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		evicted, err := d.Scheduler.RunNow(c.Request.Context())
		if err != nil {
			abortWithFault(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"evicted": evicted})
	}
}

// GetStatus handles GET /api/v1/contexts/status: store-wide counters plus
// the chunk count when retrieval is on.
func GetStatus(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := d.Store.Stats(c.Request.Context())
		if err != nil {
			abortWithFault(c, err)
			return
		}
		out := gin.H{
			"contexts":         stats.Contexts,
			"total_turns":      stats.TotalTurns,
			"retention_window": d.Cfg.RetentionWindow.String(),
		}
		if !stats.OldestIdle.IsZero() {
			out["oldest_idle"] = stats.OldestIdle
		}
		if d.Vectors != nil {
			if n, err := d.Vectors.Count(c.Request.Context()); err == nil {
				out["chunks"] = n
			}
		}
		c.JSON(http.StatusOK, out)
	}
}

// GetUserStatus handles GET /api/v1/contexts/status/:user_id.
func GetUserStatus(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		at, exists, err := d.Store.LastActivity(c.Request.Context(), userID)
		if err != nil {
			abortWithFault(c, err)
			return
		}
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"user_id": userID, "exists": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "exists": true, "last_activity": at})
	}
}

// DeleteContext handles DELETE /api/v1/contexts/:user_id: immediate manual
// eviction regardless of staleness. 404 when the user has no context.
func DeleteContext(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		deleted, err := d.Store.Delete(c.Request.Context(), userID)
		if err != nil {
			abortWithFault(c, err)
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"user_id": userID, "deleted": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "deleted": true})
	}
}

// Healthz reports liveness.
func Healthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
