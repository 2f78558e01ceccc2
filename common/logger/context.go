package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so chat and build identifiers set once at the
// edge (bot update, webhook, queue message) show up on every log line below it.
type LogFields struct {
	ChatID    *int64  // Telegram chat (group or private)
	UserID    *int64  // Telegram user driving the interaction
	RequestID *string // Build request id (BUILD_REQUEST_ID)
	JobPath   *string // CI job path, e.g. "app/ci"
	MessageID *string // Redis stream message ID
	Component string  // Component name (OTel semantic convention style, e.g., "relay.notify.pipeline")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.ChatID != nil {
		result.ChatID = new.ChatID
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.RequestID != nil {
		result.RequestID = new.RequestID
	}
	if new.JobPath != nil {
		result.JobPath = new.JobPath
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{ChatID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like upstream error bodies.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
