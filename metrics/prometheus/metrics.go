// Package prometheus exports live session metrics in Prometheus format.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "robolive"

var (
	// sessionTransitions counts state transitions by target state.
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total number of session state transitions",
		},
		[]string{"to"},
	)

	// sessionsConnected is a gauge of sessions currently connected.
	sessionsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_connected",
			Help:      "Number of currently connected sessions",
		},
	)

	framesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames decoded",
		},
	)

	frameDecodeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_decode_errors_total",
			Help:      "Total number of inbound frames dropped as undecodable",
		},
	)

	chunksSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Total number of outbound frames by kind",
		},
		[]string{"kind"},
	)

	chunkBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Total encoded bytes of outbound frames by kind",
		},
		[]string{"kind"},
	)

	chunksDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Total number of outbound frames dropped",
		},
		[]string{"kind", "reason"}, // reason: not_connected, queue_full, encode
	)

	// toolCallDuration is a histogram of tool handler duration.
	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool calls in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tool"},
	)

	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls by outcome",
		},
		[]string{"tool", "status"}, // status: success, error, abandoned
	)

	audioUnderrunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_underruns_total",
			Help:      "Total number of playback underruns",
		},
	)

	audioUnderrunSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_underrun_gap_seconds",
			Help:      "Silence inserted by playback underruns in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	audioBuffersScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_buffers_scheduled_total",
			Help:      "Total number of playback buffers scheduled",
		},
	)

	audioBuffersFlushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_buffers_flushed_total",
			Help:      "Total number of unplayed buffers discarded on interruption",
		},
	)

	deviceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Total number of audio device failures",
		},
		[]string{"device"},
	)

	detectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_duration_seconds",
			Help:      "Duration of detector calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"kind"},
	)

	detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Total number of detector calls by outcome",
		},
		[]string{"kind", "status"},
	)

	allMetrics = []prometheus.Collector{
		sessionTransitions,
		sessionsConnected,
		framesReceivedTotal,
		frameDecodeErrorsTotal,
		chunksSentTotal,
		chunkBytesTotal,
		chunksDroppedTotal,
		toolCallDuration,
		toolCallsTotal,
		audioUnderrunsTotal,
		audioUnderrunSeconds,
		audioBuffersScheduledTotal,
		audioBuffersFlushedTotal,
		deviceErrorsTotal,
		detectionDuration,
		detectionsTotal,
	}
)

// RecordTransition records a session state transition.
func RecordTransition(from, to string) {
	sessionTransitions.WithLabelValues(to).Inc()
	if to == "connected" {
		sessionsConnected.Inc()
	} else if from == "connected" {
		sessionsConnected.Dec()
	}
}

// RecordFrameReceived records a decoded inbound frame.
func RecordFrameReceived() {
	framesReceivedTotal.Inc()
}

// RecordFrameDecodeError records a dropped inbound frame.
func RecordFrameDecodeError() {
	frameDecodeErrorsTotal.Inc()
}

// RecordChunkSent records an outbound frame.
func RecordChunkSent(kind string, bytes int) {
	chunksSentTotal.WithLabelValues(kind).Inc()
	if bytes > 0 {
		chunkBytesTotal.WithLabelValues(kind).Add(float64(bytes))
	}
}

// RecordChunkDropped records an outbound frame that was not sent.
func RecordChunkDropped(kind, reason string) {
	chunksDroppedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordToolCall records a tool call outcome.
func RecordToolCall(toolName, status string, durationSeconds float64) {
	toolCallDuration.WithLabelValues(toolName).Observe(durationSeconds)
	toolCallsTotal.WithLabelValues(toolName, status).Inc()
}

// RecordToolCallAbandoned records a call that never got a response.
func RecordToolCallAbandoned(toolName string) {
	toolCallsTotal.WithLabelValues(toolName, statusAbandoned).Inc()
}

// RecordAudioUnderrun records a playback underrun.
func RecordAudioUnderrun(gapSeconds float64) {
	audioUnderrunsTotal.Inc()
	audioUnderrunSeconds.Observe(gapSeconds)
}

// RecordAudioScheduled records a scheduled playback buffer.
func RecordAudioScheduled() {
	audioBuffersScheduledTotal.Inc()
}

// RecordAudioFlushed records buffers discarded by an interruption.
func RecordAudioFlushed(buffers int) {
	if buffers > 0 {
		audioBuffersFlushedTotal.Add(float64(buffers))
	}
}

// RecordDeviceError records a device failure.
func RecordDeviceError(device string) {
	deviceErrorsTotal.WithLabelValues(device).Inc()
}

// RecordDetection records a detector call.
func RecordDetection(kind, status string, durationSeconds float64) {
	detectionDuration.WithLabelValues(kind).Observe(durationSeconds)
	detectionsTotal.WithLabelValues(kind, status).Inc()
}
