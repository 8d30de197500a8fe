package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AltairaLabs/robolive/liveerr"
)

// DefaultModel is used when SetupConfig.Model is empty.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// Codec errors.
var (
	ErrEmptyPayload = errors.New("empty media payload")
	ErrMissingID    = errors.New("tool response requires a call id")
)

// SetupConfig holds the session parameters sent in the setup frame.
type SetupConfig struct {
	Model             string
	SystemInstruction string
	Tools             []FunctionDeclaration
	// Voice selects a prebuilt voice. Empty leaves the service default.
	Voice string
	// Transcribe requests input and output audio transcriptions.
	Transcribe bool
}

// ModelPath returns model with the "models/" resource prefix.
func ModelPath(model string) string {
	if model == "" {
		model = DefaultModel
	}
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// EncodeSetup builds the setup frame.
func EncodeSetup(cfg SetupConfig) ([]byte, error) {
	setup := &Setup{
		Model: ModelPath(cfg.Model),
		GenerationConfig: GenerationConfig{
			ResponseModalities: []string{ModalityAudio},
		},
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: VoiceConfig{PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		setup.Tools = []Tool{{FunctionDeclarations: cfg.Tools}}
	}
	if cfg.Transcribe {
		setup.InputAudioTranscription = &struct{}{}
		setup.OutputAudioTranscription = &struct{}{}
	}
	return json.Marshal(ClientMessage{Setup: setup})
}

// EncodeMediaChunk builds a realtimeInput frame carrying one chunk.
func EncodeMediaChunk(mimeType string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	return json.Marshal(ClientMessage{
		RealtimeInput: &RealtimeInput{
			MediaChunks: []MediaChunk{{
				MIMEType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(data),
			}},
		},
	})
}

// EncodeAudioChunk builds a realtimeInput frame for 16 kHz PCM16 audio.
func EncodeAudioChunk(pcm []byte) ([]byte, error) {
	return EncodeMediaChunk(MIMETypeAudioPCM16k, pcm)
}

// EncodeVideoFrame builds a realtimeInput frame for a JPEG image.
func EncodeVideoFrame(jpeg []byte) ([]byte, error) {
	return EncodeMediaChunk(MIMETypeJPEG, jpeg)
}

// EncodeToolResponse builds a toolResponse frame answering call id.
func EncodeToolResponse(id, name string, result any) ([]byte, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	data, err := json.Marshal(ClientMessage{
		ToolResponse: &ToolResponse{
			FunctionResponses: []FunctionResponse{{
				ID:       id,
				Name:     name,
				Response: ResponseEnvelope{Result: result},
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return data, nil
}

// EventKind discriminates inbound events.
type EventKind int

// Inbound event kinds.
const (
	EventText EventKind = iota + 1
	EventAudio
	EventToolUse
	EventTranscript
	EventInterrupted
	EventTurnComplete
	EventSetupComplete
	EventGoAway
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventAudio:
		return "audio"
	case EventToolUse:
		return "tool_use"
	case EventTranscript:
		return "transcript"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventSetupComplete:
		return "setup_complete"
	case EventGoAway:
		return "go_away"
	default:
		return "unknown"
	}
}

// Transcript sources.
const (
	TranscriptInput  = "input"
	TranscriptOutput = "output"
)

// Event is one decoded inbound item.
type Event struct {
	Kind EventKind
	// Text is set for EventText and EventTranscript.
	Text string
	// Source is TranscriptInput or TranscriptOutput for EventTranscript.
	Source string
	// Audio holds raw PCM16 bytes for EventAudio.
	Audio []byte
	// MIMEType is the inline data type for EventAudio.
	MIMEType string
	// Calls holds the function calls for EventToolUse.
	Calls []FunctionCall
}

// Decode parses one server frame. Malformed frames yield a liveerr decode
// error and no events; unrecognised frames yield no events and no error.
// A part that cannot be decoded is skipped: the frame's other events are
// returned together with a decode error describing the skipped parts.
func Decode(data []byte) ([]Event, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, liveerr.Decode("malformed frame", err)
	}

	var events []Event
	if msg.SetupComplete != nil {
		events = append(events, Event{Kind: EventSetupComplete})
	}

	toolUse := msg.ToolUse
	if toolUse == nil {
		toolUse = msg.ToolCall
	}
	if toolUse != nil && len(toolUse.FunctionCalls) > 0 {
		events = append(events, Event{Kind: EventToolUse, Calls: toolUse.FunctionCalls})
	}

	var partErr error
	if msg.ServerContent != nil {
		var contentEvents []Event
		contentEvents, partErr = decodeServerContent(msg.ServerContent)
		events = append(events, contentEvents...)
	}

	if msg.GoAway != nil {
		events = append(events, Event{Kind: EventGoAway, Text: msg.GoAway.TimeLeft})
	}

	return events, partErr
}

func decodeServerContent(content *ServerContent) ([]Event, error) {
	var events []Event
	var errs []error

	if content.Interrupted {
		events = append(events, Event{Kind: EventInterrupted})
	}

	if content.ModelTurn != nil {
		for i, part := range content.ModelTurn.Parts {
			switch {
			case part.InlineData != nil:
				if !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					errs = append(errs, fmt.Errorf("part %d: invalid base64 audio: %w", i, err))
					continue
				}
				events = append(events, Event{
					Kind:     EventAudio,
					Audio:    pcm,
					MIMEType: part.InlineData.MIMEType,
				})
			case part.Text != "":
				events = append(events, Event{Kind: EventText, Text: part.Text})
			}
		}
	}

	if t := content.InputTranscription; t != nil && t.Text != "" {
		events = append(events, Event{Kind: EventTranscript, Source: TranscriptInput, Text: t.Text})
	}
	if t := content.OutputTranscription; t != nil && t.Text != "" {
		events = append(events, Event{Kind: EventTranscript, Source: TranscriptOutput, Text: t.Text})
	}

	if content.TurnComplete {
		events = append(events, Event{Kind: EventTurnComplete})
	}

	if len(errs) > 0 {
		return events, liveerr.Decode("skipped undecodable parts", errors.Join(errs...))
	}
	return events, nil
}

// SampleRateFromMIME extracts the rate parameter from an audio MIME type
// such as "audio/pcm;rate=24000". It returns def when absent or invalid.
func SampleRateFromMIME(mimeType string, def int) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || key != "rate" {
			continue
		}
		var rate int
		if _, err := fmt.Sscanf(value, "%d", &rate); err == nil && rate > 0 {
			return rate
		}
	}
	return def
}
