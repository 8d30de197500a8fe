package tools

import (
	"errors"
	"fmt"
)

// Sentinel errors for tool operations.
var (
	// ErrToolNotFound is returned when a call names a tool that is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNameRequired is returned when registering a tool without a name.
	ErrToolNameRequired = errors.New("tool name is required")

	// ErrDuplicateTool is returned when a tool name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrHandlerRequired is returned when registering a live tool without a handler.
	ErrHandlerRequired = errors.New("tool handler is required")

	// ErrInvalidToolMode is returned when a declaration has an unknown mode.
	ErrInvalidToolMode = errors.New("mode must be 'live' or 'static'")

	// ErrToolTimeout is returned when a handler does not finish in time.
	ErrToolTimeout = errors.New("tool call timed out")

	// ErrDispatcherClosed is returned for calls arriving after the session ended.
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

// ValidationError reports arguments that do not match a tool's schema.
type ValidationError struct {
	Tool   string
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Detail)
}
