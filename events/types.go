package events

import (
	"time"
)

// EventType identifies the type of event emitted by a live session.
type EventType string

const (
	// EventSessionStatusChanged marks a session state transition.
	EventSessionStatusChanged EventType = "session.status_changed"

	// EventFrameReceived marks an inbound frame that decoded successfully.
	EventFrameReceived EventType = "frame.received"
	// EventFrameDecodeFailed marks an inbound frame that was dropped.
	EventFrameDecodeFailed EventType = "frame.decode_failed"

	// EventChunkSent marks an outbound frame handed to the transport.
	EventChunkSent EventType = "chunk.sent"
	// EventChunkDropped marks an outbound frame that was not sent.
	EventChunkDropped EventType = "chunk.dropped"

	// EventToolCallStarted marks tool call start.
	EventToolCallStarted EventType = "tool.call.started"
	// EventToolCallCompleted marks tool call completion.
	EventToolCallCompleted EventType = "tool.call.completed"
	// EventToolCallFailed marks a tool call answered with an error result.
	EventToolCallFailed EventType = "tool.call.failed"
	// EventToolCallAbandoned marks a tool call whose session ended first.
	EventToolCallAbandoned EventType = "tool.call.abandoned"

	// EventAudioScheduled marks a playback buffer placed on the timeline.
	EventAudioScheduled EventType = "audio.playback.scheduled"
	// EventAudioUnderrun marks the timeline running dry before new audio arrived.
	EventAudioUnderrun EventType = "audio.playback.underrun"
	// EventAudioFlushed marks unplayed audio discarded after an interruption.
	EventAudioFlushed EventType = "audio.playback.flushed"

	// EventDeviceError marks a capture or playback device failure.
	EventDeviceError EventType = "device.error"

	// EventDetectionCompleted marks a successful detector call.
	EventDetectionCompleted EventType = "detection.completed"
	// EventDetectionFailed marks a failed detector call.
	EventDetectionFailed EventType = "detection.failed"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a session event delivered to listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      EventData
}

type baseEventData struct{}

func (baseEventData) eventData() {}

// StatusChangedData contains data for session state transitions.
type StatusChangedData struct {
	baseEventData
	From  string
	To    string
	Error error
}

// FrameReceivedData contains data for decoded inbound frames.
type FrameReceivedData struct {
	baseEventData
	Bytes  int
	Events int
}

// FrameDecodeFailedData contains data for dropped inbound frames.
type FrameDecodeFailedData struct {
	baseEventData
	Bytes int
	Error error
}

// Outbound chunk kinds.
const (
	ChunkKindSetup        = "setup"
	ChunkKindAudio        = "audio"
	ChunkKindVideo        = "video"
	ChunkKindToolResponse = "tool_response"
)

// Reasons an outbound chunk was dropped.
const (
	DropReasonNotConnected = "not_connected"
	DropReasonQueueFull    = "queue_full"
	DropReasonEncode       = "encode"
)

// ChunkSentData contains data for outbound frames.
type ChunkSentData struct {
	baseEventData
	Kind  string
	Bytes int
}

// ChunkDroppedData contains data for outbound frames that were not sent.
type ChunkDroppedData struct {
	baseEventData
	Kind   string
	Reason string
}

// ToolCallStartedData contains data for tool call start.
type ToolCallStartedData struct {
	baseEventData
	CallID   string
	ToolName string
}

// ToolCallCompletedData contains data for a successful tool call.
type ToolCallCompletedData struct {
	baseEventData
	CallID   string
	ToolName string
	Duration time.Duration
}

// ToolCallFailedData contains data for a tool call answered with an error result.
type ToolCallFailedData struct {
	baseEventData
	CallID   string
	ToolName string
	Error    error
	Duration time.Duration
}

// ToolCallAbandonedData contains data for a tool call that never got a response.
type ToolCallAbandonedData struct {
	baseEventData
	CallID   string
	ToolName string
}

// AudioScheduledData contains data for a scheduled playback buffer.
type AudioScheduledData struct {
	baseEventData
	Start    time.Duration
	Duration time.Duration
}

// AudioUnderrunData contains data for a playback underrun.
type AudioUnderrunData struct {
	baseEventData
	Gap time.Duration
}

// AudioFlushedData contains data for discarded playback buffers.
type AudioFlushedData struct {
	baseEventData
	Buffers int
}

// DeviceErrorData contains data for audio device failures.
type DeviceErrorData struct {
	baseEventData
	Device string
	Error  error
}

// DetectionCompletedData contains data for a successful detector call.
type DetectionCompletedData struct {
	baseEventData
	Kind     string
	Points   int
	Duration time.Duration
}

// DetectionFailedData contains data for a failed detector call.
type DetectionFailedData struct {
	baseEventData
	Kind     string
	Error    error
	Duration time.Duration
}
