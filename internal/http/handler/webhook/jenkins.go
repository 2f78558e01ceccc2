package webhook

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"buildrelay.app/relay/common/logger"
	"buildrelay.app/relay/internal/http/dto"
	"buildrelay.app/relay/internal/notify"
)

const TokenHeader = "X-Webhook-Token"

type JenkinsWebhookHandler struct {
	dispatcher  notify.Dispatcher
	token       string
	traceHeader string
}

// NewJenkinsWebhookHandler creates the completion handler. An empty token
// accepts unauthenticated requests.
func NewJenkinsWebhookHandler(dispatcher notify.Dispatcher, token, traceHeader string) *JenkinsWebhookHandler {
	return &JenkinsWebhookHandler{
		dispatcher:  dispatcher,
		token:       token,
		traceHeader: traceHeader,
	}
}

// HandleCompletion accepts a build result and hands it off for delivery. It
// answers 202 before any notification work happens.
func (h *JenkinsWebhookHandler) HandleCompletion(c *gin.Context) {
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		Component: "relay.http.webhook",
	})

	if !h.authorized(c) {
		slog.WarnContext(ctx, "webhook rejected, bad token", "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}

	var req dto.CompletionRequest
	if err := c.ShouldBind(&req); err != nil {
		slog.WarnContext(ctx, "webhook received with missing data", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_name, build_number and status are required"})
		return
	}

	buildNumber, err := strconv.ParseInt(strings.TrimSpace(req.BuildNumber.String()), 10, 64)
	if err != nil || buildNumber <= 0 {
		slog.WarnContext(ctx, "webhook received with invalid build number",
			"job_name", req.JobName,
			"build_number", req.BuildNumber.String())
		c.JSON(http.StatusBadRequest, gin.H{"error": "build_number must be a positive integer"})
		return
	}

	ev := notify.Event{
		JobName:     strings.TrimSpace(req.JobName),
		BuildNumber: buildNumber,
		Status:      strings.TrimSpace(req.Status),
		Target:      strings.TrimSpace(req.BuildTarget),
		RequestID:   strings.TrimSpace(req.BuildRequestID),
		TraceID:     c.GetHeader(h.traceHeader),
	}
	if ev.TraceID == "" {
		ev.TraceID = logger.TraceIDFromContext(ctx)
	}

	if err := h.dispatcher.Dispatch(ctx, ev); err != nil {
		if errors.Is(err, notify.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "failed to hand off completion event",
			"error", err,
			"job_name", ev.JobName,
			"build_number", ev.BuildNumber)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to queue event"})
		return
	}

	slog.InfoContext(ctx, "completion event accepted",
		"job_name", ev.JobName,
		"build_number", ev.BuildNumber,
		"status", ev.Status,
		"build_target", ev.Target,
		"build_request_id", ev.RequestID)

	c.JSON(http.StatusAccepted, dto.CompletionResponse{Status: "accepted"})
}

// authorized checks the shared secret from the header, falling back to a
// "token" query or form field.
func (h *JenkinsWebhookHandler) authorized(c *gin.Context) bool {
	if h.token == "" {
		return true
	}
	got := c.GetHeader(TokenHeader)
	if got == "" {
		got = c.Query("token")
	}
	if got == "" {
		got = c.PostForm("token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}
