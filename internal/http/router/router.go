package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"buildrelay.app/relay/internal/http/handler/webhook"
	"buildrelay.app/relay/internal/notify"
)

type RouterConfig struct {
	WebhookToken    string
	TraceHeaderName string
}

func SetupRoutes(router *gin.Engine, dispatcher notify.Dispatcher, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	webhookHandler := webhook.NewJenkinsWebhookHandler(dispatcher, cfg.WebhookToken, cfg.TraceHeaderName)
	WebhookRouter(router.Group("/webhook"), webhookHandler)
}
