package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/robolive/events"
)

// SessionListener turns session events into one span per session, from the
// first connecting transition to the terminal one. Other events become span
// events. Safe for concurrent use.
type SessionListener struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewSessionListener creates a listener recording with tracer.
func NewSessionListener(tracer trace.Tracer) *SessionListener {
	return &SessionListener{tracer: tracer, spans: make(map[string]trace.Span)}
}

// OnEvent implements events.Listener.
func (l *SessionListener) OnEvent(e *events.Event) {
	if e == nil || e.SessionID == "" {
		return
	}
	if data, ok := e.Data.(events.StatusChangedData); ok {
		l.onStatus(e, data)
		return
	}

	l.mu.Lock()
	span, ok := l.spans[e.SessionID]
	l.mu.Unlock()
	if !ok {
		return
	}
	switch data := e.Data.(type) {
	case events.ToolCallCompletedData:
		span.AddEvent(string(e.Type), trace.WithTimestamp(e.Timestamp), trace.WithAttributes(
			attribute.String("tool.name", data.ToolName),
			attribute.String("tool.call_id", data.CallID),
		))
	case events.ToolCallFailedData:
		span.AddEvent(string(e.Type), trace.WithTimestamp(e.Timestamp), trace.WithAttributes(
			attribute.String("tool.name", data.ToolName),
			attribute.String("tool.call_id", data.CallID),
		))
	case events.FrameDecodeFailedData, events.AudioUnderrunData, events.DeviceErrorData:
		span.AddEvent(string(e.Type), trace.WithTimestamp(e.Timestamp))
	}
}

func (l *SessionListener) onStatus(e *events.Event, data events.StatusChangedData) {
	l.mu.Lock()
	defer l.mu.Unlock()

	span, ok := l.spans[e.SessionID]
	if !ok {
		if data.To != "connecting" {
			return
		}
		_, span = l.tracer.Start(context.Background(), "robolive.session",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithTimestamp(e.Timestamp),
			trace.WithAttributes(attribute.String("session.id", e.SessionID)),
		)
		l.spans[e.SessionID] = span
		return
	}

	span.AddEvent("status", trace.WithTimestamp(e.Timestamp), trace.WithAttributes(
		attribute.String("from", data.From),
		attribute.String("to", data.To),
	))
	switch data.To {
	case "disconnected", "error":
		if data.Error != nil {
			span.RecordError(data.Error)
			span.SetStatus(codes.Error, data.Error.Error())
		}
		span.End(trace.WithTimestamp(e.Timestamp))
		delete(l.spans, e.SessionID)
	}
}

// Open returns the number of sessions with an open span.
func (l *SessionListener) Open() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.spans)
}
