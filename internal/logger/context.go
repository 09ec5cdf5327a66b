package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every log record emitted with a context that
// carries them.
type LogFields struct {
	TenantID        *string
	ConversationID  *string
	ProviderEventID *string // Meta message id (wamid...)
	RequestID       *string
	Component       string // e.g. "wabot.webhook.processor"
}

// WithLogFields merges fields into the context. Newer non-nil values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.TenantID != nil {
		result.TenantID = new.TenantID
	}
	if new.ConversationID != nil {
		result.ConversationID = new.ConversationID
	}
	if new.ProviderEventID != nil {
		result.ProviderEventID = new.ProviderEventID
	}
	if new.RequestID != nil {
		result.RequestID = new.RequestID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr returns a pointer to v, handy for inline LogFields literals.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to at most maxLen bytes and appends "..." when cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
