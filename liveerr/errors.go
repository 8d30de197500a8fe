// Package liveerr defines the error taxonomy shared by the live session,
// frame codec, audio devices, and tool dispatcher.
//
// Every error carries a Kind discriminant and a human-readable message.
// Use errors.Is with the package sentinels to test for a kind:
//
//	if errors.Is(err, liveerr.ErrConfig) { ... }
package liveerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

// Error kinds.
const (
	KindConfig      Kind = "config"
	KindTransport   Kind = "transport"
	KindDecode      Kind = "decode"
	KindToolHandler Kind = "tool_handler"
	KindDevice      Kind = "device"
	KindDetection   Kind = "detection"
)

// Sentinel errors, one per kind. They match any *Error of the same kind.
var (
	ErrConfig      = &Error{Kind: KindConfig, Message: "configuration error"}
	ErrTransport   = &Error{Kind: KindTransport, Message: "transport error"}
	ErrDecode      = &Error{Kind: KindDecode, Message: "decode error"}
	ErrToolHandler = &Error{Kind: KindToolHandler, Message: "tool handler error"}
	ErrDevice      = &Error{Kind: KindDevice, Message: "device error"}
	ErrDetection   = &Error{Kind: KindDetection, Message: "detection error"}
)

// Error is a classified failure with an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Config creates a KindConfig error.
func Config(message string) *Error { return New(KindConfig, message) }

// Transport wraps cause as a KindTransport error.
func Transport(message string, cause error) *Error { return Wrap(KindTransport, message, cause) }

// Decode wraps cause as a KindDecode error.
func Decode(message string, cause error) *Error { return Wrap(KindDecode, message, cause) }

// ToolHandler wraps cause as a KindToolHandler error.
func ToolHandler(message string, cause error) *Error { return Wrap(KindToolHandler, message, cause) }

// Device wraps cause as a KindDevice error.
func Device(message string, cause error) *Error { return Wrap(KindDevice, message, cause) }

// Detection wraps cause as a KindDetection error.
func Detection(message string, cause error) *Error { return Wrap(KindDetection, message, cause) }

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
