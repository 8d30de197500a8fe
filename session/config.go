package session

import (
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/robolive/audio"
	"github.com/AltairaLabs/robolive/events"
	"github.com/AltairaLabs/robolive/tools"
)

// DefaultEndpoint is the live service WebSocket URL.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/" +
	"google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Session defaults.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultEventBuffer       = 64
)

// Recorder captures microphone audio into a sink. *audio.Capture satisfies it.
type Recorder interface {
	Start(sink audio.ChunkSink) error
	Stop() error
}

// Player plays inbound audio. *audio.Playback satisfies it.
type Player interface {
	Start() error
	Stop() error
	Enqueue(pcm []byte, rate int) error
	Interrupt()
	EndOfTurn()
}

// Config configures a Client. Every Session the client creates uses it.
type Config struct {
	// APIKey is the opaque credential. Connect fails with a config error
	// when it is empty.
	APIKey string
	// Endpoint defaults to DefaultEndpoint.
	Endpoint string
	// Model defaults to protocol.DefaultModel.
	Model             string
	SystemInstruction string
	Voice             string
	// Transcribe requests input and output transcriptions.
	Transcribe bool

	// Tools declares the session's functions and handles their calls.
	Tools       *tools.Registry
	ToolTimeout time.Duration

	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	// MediaQueueSize bounds queued outbound media before drop-newest applies.
	MediaQueueSize int
	// EventBuffer sizes the per-kind channels between the receive task and
	// the workers. Defaults to DefaultEventBuffer.
	EventBuffer int

	// Recorder and Player are optional. They are started when a session
	// connects and stopped when it ends.
	Recorder Recorder
	Player   Player

	Callbacks Callbacks
	Bus       *events.EventBus
	Tracer    trace.Tracer
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Endpoint == "" {
		out.Endpoint = DefaultEndpoint
	}
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = DefaultEventBuffer
	}
	if out.Tools == nil {
		out.Tools = tools.NewRegistry()
	}
	return out
}

// dialURL appends the credential as the key query parameter.
func dialURL(endpoint, apiKey string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
