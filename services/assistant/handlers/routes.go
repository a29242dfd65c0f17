package handlers

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter wires all routes. Webhook routes are only registered for
// channels that are actually configured.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("assistant"))

	router.GET("/healthz", Healthz())

	v1 := router.Group("/api/v1")
	{
		v1.POST("/messages", PostMessage(d))
		v1.POST("/documents", PostDocument(d))
		v1.DELETE("/documents/:id", DeleteDocument(d))
		v1.GET("/retrieve", GetRetrieve(d))
		v1.POST("/contexts/cleanup", PostCleanup(d))
		v1.GET("/contexts/status", GetStatus(d))
		v1.GET("/contexts/status/:user_id", GetUserStatus(d))
		v1.DELETE("/contexts/:user_id", DeleteContext(d))
	}

	if d.Telegram != nil {
		router.POST("/webhooks/telegram", TelegramWebhook(d))
	}
	if d.WhatsApp != nil {
		router.GET("/webhooks/whatsapp", WhatsAppVerify(d))
		router.POST("/webhooks/whatsapp", WhatsAppWebhook(d))
	}
	return router
}
