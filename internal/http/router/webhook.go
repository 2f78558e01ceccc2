package router

import (
	"github.com/gin-gonic/gin"

	"buildrelay.app/relay/internal/http/handler/webhook"
)

func WebhookRouter(router *gin.RouterGroup, handler *webhook.JenkinsWebhookHandler) {
	router.GET("", handler.HandleCompletion)
	router.POST("", handler.HandleCompletion)
}
