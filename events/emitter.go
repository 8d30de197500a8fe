package events

import "time"

// Emitter provides helpers for publishing session events with shared metadata.
// A nil *Emitter is valid and discards everything.
type Emitter struct {
	bus       *EventBus
	sessionID string
}

// NewEmitter creates a new event emitter.
func NewEmitter(bus *EventBus, sessionID string) *Emitter {
	return &Emitter{bus: bus, sessionID: sessionID}
}

// WithSession returns an emitter publishing on the same bus under sessionID.
func (e *Emitter) WithSession(sessionID string) *Emitter {
	if e == nil {
		return nil
	}
	return &Emitter{bus: e.bus, sessionID: sessionID}
}

func (e *Emitter) emit(eventType EventType, data EventData) {
	if e == nil || e.bus == nil {
		return
	}
	e.bus.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	})
}

// StatusChanged emits the session.status_changed event.
func (e *Emitter) StatusChanged(from, to string, err error) {
	e.emit(EventSessionStatusChanged, StatusChangedData{From: from, To: to, Error: err})
}

// FrameReceived emits the frame.received event.
func (e *Emitter) FrameReceived(bytes, decoded int) {
	e.emit(EventFrameReceived, FrameReceivedData{Bytes: bytes, Events: decoded})
}

// FrameDecodeFailed emits the frame.decode_failed event.
func (e *Emitter) FrameDecodeFailed(bytes int, err error) {
	e.emit(EventFrameDecodeFailed, FrameDecodeFailedData{Bytes: bytes, Error: err})
}

// ChunkSent emits the chunk.sent event.
func (e *Emitter) ChunkSent(kind string, bytes int) {
	e.emit(EventChunkSent, ChunkSentData{Kind: kind, Bytes: bytes})
}

// ChunkDropped emits the chunk.dropped event.
func (e *Emitter) ChunkDropped(kind, reason string) {
	e.emit(EventChunkDropped, ChunkDroppedData{Kind: kind, Reason: reason})
}

// ToolCallStarted emits the tool.call.started event.
func (e *Emitter) ToolCallStarted(callID, toolName string) {
	e.emit(EventToolCallStarted, ToolCallStartedData{CallID: callID, ToolName: toolName})
}

// ToolCallCompleted emits the tool.call.completed event.
func (e *Emitter) ToolCallCompleted(callID, toolName string, duration time.Duration) {
	e.emit(EventToolCallCompleted, ToolCallCompletedData{
		CallID:   callID,
		ToolName: toolName,
		Duration: duration,
	})
}

// ToolCallFailed emits the tool.call.failed event.
func (e *Emitter) ToolCallFailed(callID, toolName string, err error, duration time.Duration) {
	e.emit(EventToolCallFailed, ToolCallFailedData{
		CallID:   callID,
		ToolName: toolName,
		Error:    err,
		Duration: duration,
	})
}

// ToolCallAbandoned emits the tool.call.abandoned event.
func (e *Emitter) ToolCallAbandoned(callID, toolName string) {
	e.emit(EventToolCallAbandoned, ToolCallAbandonedData{CallID: callID, ToolName: toolName})
}

// AudioScheduled emits the audio.playback.scheduled event.
func (e *Emitter) AudioScheduled(start, duration time.Duration) {
	e.emit(EventAudioScheduled, AudioScheduledData{Start: start, Duration: duration})
}

// AudioUnderrun emits the audio.playback.underrun event.
func (e *Emitter) AudioUnderrun(gap time.Duration) {
	e.emit(EventAudioUnderrun, AudioUnderrunData{Gap: gap})
}

// AudioFlushed emits the audio.playback.flushed event.
func (e *Emitter) AudioFlushed(buffers int) {
	e.emit(EventAudioFlushed, AudioFlushedData{Buffers: buffers})
}

// DeviceError emits the device.error event.
func (e *Emitter) DeviceError(device string, err error) {
	e.emit(EventDeviceError, DeviceErrorData{Device: device, Error: err})
}

// DetectionCompleted emits the detection.completed event.
func (e *Emitter) DetectionCompleted(kind string, points int, duration time.Duration) {
	e.emit(EventDetectionCompleted, DetectionCompletedData{Kind: kind, Points: points, Duration: duration})
}

// DetectionFailed emits the detection.failed event.
func (e *Emitter) DetectionFailed(kind string, err error, duration time.Duration) {
	e.emit(EventDetectionFailed, DetectionFailedData{Kind: kind, Error: err, Duration: duration})
}
