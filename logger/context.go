package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys whose values are copied onto every log record.
const (
	// ContextKeySessionID identifies the live session.
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyModel identifies the generative model.
	ContextKeyModel contextKey = "model"

	// ContextKeyComponent names the subsystem (capture, playback, dispatcher, ...).
	ContextKeyComponent contextKey = "component"

	// ContextKeyToolCallID identifies a server-initiated tool invocation.
	ContextKeyToolCallID contextKey = "tool_call_id"

	// ContextKeyEnvironment identifies the deployment environment.
	ContextKeyEnvironment contextKey = "environment"
)

var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyModel,
	ContextKeyComponent,
	ContextKeyToolCallID,
	ContextKeyEnvironment,
}

// WithSessionID returns a new context with the session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithModel returns a new context with the model name set.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ContextKeyModel, model)
}

// WithComponent returns a new context with the component name set.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ContextKeyComponent, component)
}

// WithToolCallID returns a new context with the tool call ID set.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyToolCallID, id)
}

// WithEnvironment returns a new context with the environment set.
func WithEnvironment(ctx context.Context, environment string) context.Context {
	return context.WithValue(ctx, ContextKeyEnvironment, environment)
}

// LoggingFields holds all standard logging context fields.
type LoggingFields struct {
	SessionID   string
	Model       string
	Component   string
	ToolCallID  string
	Environment string
}

// WithLoggingContext sets every non-empty field of fields on ctx.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	set := func(key contextKey, v string) {
		if v != "" {
			ctx = context.WithValue(ctx, key, v)
		}
	}
	set(ContextKeySessionID, fields.SessionID)
	set(ContextKeyModel, fields.Model)
	set(ContextKeyComponent, fields.Component)
	set(ContextKeyToolCallID, fields.ToolCallID)
	set(ContextKeyEnvironment, fields.Environment)
	return ctx
}

// ExtractLoggingFields extracts all logging fields from a context.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	get := func(key contextKey) string {
		s, _ := ctx.Value(key).(string)
		return s
	}
	return LoggingFields{
		SessionID:   get(ContextKeySessionID),
		Model:       get(ContextKeyModel),
		Component:   get(ContextKeyComponent),
		ToolCallID:  get(ContextKeyToolCallID),
		Environment: get(ContextKeyEnvironment),
	}
}
