// Package logger provides structured logging with automatic credential redaction.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Session lifecycle and frame logging
//   - Tool invocation logging
//   - Automatic API key redaction in endpoints and payloads
//   - Contextual logging (session id, model, tool call id)
//   - Level-based verbosity control and optional rotating file output
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	// logOutput is where handlers created by this package write.
	logOutput io.Writer = os.Stderr

	// customHandler is set by SetLogger; Configure leaves it untouched.
	customHandler slog.Handler

	outputMu sync.Mutex
)

func init() {
	DefaultLogger = slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: levelFromEnv(),
	}))
}

// levelFromEnv reads LOG_LEVEL, defaulting to info.
func levelFromEnv() slog.Level {
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		return ParseLevel(envLevel)
	}
	return slog.LevelInfo
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	outputMu.Lock()
	out := logOutput
	outputMu.Unlock()

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(NewContextHandler(handler))
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// SetLogger replaces the global logger with one built on handler.
// Subsequent calls to Configure keep this handler.
func SetLogger(handler slog.Handler) {
	customHandler = handler
	DefaultLogger = slog.New(handler)
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context fields attached.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context fields attached.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors such as dropped frames.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context fields attached.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context fields attached.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// SessionState logs a session state transition.
func SessionState(ctx context.Context, from, to string, err error) {
	attrs := []any{"from", from, "to", to}
	if err != nil {
		attrs = append(attrs, "error", err)
		WarnContext(ctx, "session state changed", attrs...)
		return
	}
	InfoContext(ctx, "session state changed", attrs...)
}

// ToolInvocation logs the outcome of a tool call.
func ToolInvocation(ctx context.Context, name, id string, err error, attrs ...any) {
	all := make([]any, 0, 6+len(attrs))
	all = append(all, "tool", name, "id", id)
	all = append(all, attrs...)
	if err != nil {
		all = append(all, "error", err)
		WarnContext(ctx, "tool call failed", all...)
		return
	}
	InfoContext(ctx, "tool call completed", all...)
}

var (
	// apiKeyPatterns contains compiled regular expressions for detecting sensitive data.
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`),   // Google API keys
		regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),     // OpenAI-style keys
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_-]+`), // Bearer tokens
	}

	// keyParamPattern matches key=... query parameters in URLs.
	keyParamPattern = regexp.MustCompile(`([?&]key=)[^&\s]+`)
)

// RedactSensitiveData removes API keys and other sensitive information from strings.
// Matches keep their first four characters; key query parameters are replaced entirely.
func RedactSensitiveData(input string) string {
	result := keyParamPattern.ReplaceAllString(input, "${1}[REDACTED]")

	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "Bearer ") {
				return "Bearer [REDACTED]"
			}
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}
