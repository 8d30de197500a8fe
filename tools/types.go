// Package tools dispatches server-initiated function calls to registered
// handlers and guarantees that every call receives exactly one response.
package tools

import (
	"context"
	"encoding/json"
)

// Tool modes.
const (
	// ModeLive tools run a registered Go handler.
	ModeLive = "live"
	// ModeStatic tools answer with a fixed result from their declaration.
	ModeStatic = "static"
)

// Declaration describes a tool advertised to the model.
type Declaration struct {
	Name        string
	Description string
	// Parameters is a JSON schema object. Upper-case type names such as
	// "OBJECT" and "STRING" are accepted.
	Parameters json.RawMessage
	Mode       string
	// StaticResult is returned by static tools.
	StaticResult json.RawMessage
}

// Invocation is a single function call requested by the model.
type Invocation struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Decode unmarshals the call arguments into v. Missing arguments decode as {}.
func (inv Invocation) Decode(v any) error {
	args := inv.Args
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	return json.Unmarshal(args, v)
}

// Handler executes a tool call. The returned result must be JSON-encodable.
type Handler interface {
	Handle(ctx context.Context, inv Invocation) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv Invocation) (any, error)

// Handle calls f(ctx, inv).
func (f HandlerFunc) Handle(ctx context.Context, inv Invocation) (any, error) {
	return f(ctx, inv)
}

// Responder sends the tool response for a call.
type Responder interface {
	SendToolResponse(ctx context.Context, id, name string, result any) error
}

// ErrorResult is the payload sent when a call fails.
type ErrorResult struct {
	Error string `json:"error"`
}
