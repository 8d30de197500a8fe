package prometheus

import (
	"github.com/AltairaLabs/robolive/events"
)

// Status constants for metric labels.
const (
	statusSuccess   = "success"
	statusError     = "error"
	statusAbandoned = "abandoned"
)

// MetricsListener records session events as Prometheus metrics.
// Register it with EventBus.SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
func (l *MetricsListener) Handle(event *events.Event) {
	switch data := event.Data.(type) {
	case events.StatusChangedData:
		RecordTransition(data.From, data.To)
	case events.FrameReceivedData:
		RecordFrameReceived()
	case events.FrameDecodeFailedData:
		RecordFrameDecodeError()
	case events.ChunkSentData:
		RecordChunkSent(data.Kind, data.Bytes)
	case events.ChunkDroppedData:
		RecordChunkDropped(data.Kind, data.Reason)
	case events.ToolCallCompletedData:
		RecordToolCall(data.ToolName, statusSuccess, data.Duration.Seconds())
	case events.ToolCallFailedData:
		RecordToolCall(data.ToolName, statusError, data.Duration.Seconds())
	case events.ToolCallAbandonedData:
		RecordToolCallAbandoned(data.ToolName)
	case events.AudioScheduledData:
		RecordAudioScheduled()
	case events.AudioUnderrunData:
		RecordAudioUnderrun(data.Gap.Seconds())
	case events.AudioFlushedData:
		RecordAudioFlushed(data.Buffers)
	case events.DeviceErrorData:
		RecordDeviceError(data.Device)
	case events.DetectionCompletedData:
		RecordDetection(data.Kind, statusSuccess, data.Duration.Seconds())
	case events.DetectionFailedData:
		RecordDetection(data.Kind, statusError, data.Duration.Seconds())
	default:
		// no metric for this event
	}
}

// Listener returns an events.Listener for EventBus.SubscribeAll.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
