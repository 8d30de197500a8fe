// Package protocol implements the live service's JSON frame codec.
//
// Client frames are setup, realtimeInput (media chunks) and toolResponse.
// Server frames carry serverContent (model turn parts, transcriptions,
// interruption and turn markers), toolUse function calls and bookkeeping
// such as setupComplete. Decoding turns a server frame into zero or more
// Events in the order they appear in the frame.
package protocol

import "encoding/json"

// MIME types used on the wire.
const (
	MIMETypeAudioPCM16k = "audio/pcm;rate=16000"
	MIMETypeJPEG        = "image/jpeg"
)

// ModalityAudio requests synthesized audio responses.
const ModalityAudio = "AUDIO"

// ClientMessage is the envelope for every outbound frame. Exactly one field is set.
type ClientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
}

// Setup is the first frame sent on a new connection.
type Setup struct {
	Model             string           `json:"model"`
	GenerationConfig  GenerationConfig `json:"generationConfig"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	Tools             []Tool           `json:"tools,omitempty"`

	InputAudioTranscription  *struct{} `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{} `json:"outputAudioTranscription,omitempty"`
}

// GenerationConfig selects response modalities and voice.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig selects a prebuilt voice.
type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

// VoiceConfig wraps the prebuilt voice selection.
type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

// PrebuiltVoiceConfig names a service voice.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// Content is a list of parts.
type Content struct {
	Parts []Part `json:"parts"`
}

// Tool groups function declarations.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// FunctionDeclaration describes a tool the model may call.
// Parameters is a JSON schema object.
type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// RealtimeInput carries media chunks.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"mediaChunks"`
}

// MediaChunk is a base64-encoded media payload.
type MediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// ToolResponse answers one or more function calls.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// FunctionResponse answers a single function call by id.
type FunctionResponse struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Response ResponseEnvelope `json:"response"`
}

// ResponseEnvelope wraps a tool result.
type ResponseEnvelope struct {
	Result any `json:"result"`
}

// ServerMessage is the envelope for inbound frames.
type ServerMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *ServerContent   `json:"serverContent,omitempty"`
	ToolUse       *ToolUse         `json:"toolUse,omitempty"`
	// ToolCall is the name newer service revisions use for ToolUse.
	ToolCall      *ToolUse       `json:"toolCall,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// ServerContent is model output for the current turn.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// Part is either text or inline data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64-encoded media.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Transcription is speech-to-text of input or output audio.
type Transcription struct {
	Text string `json:"text,omitempty"`
}

// ToolUse lists function calls requested by the model.
type ToolUse struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// FunctionCall is a single tool invocation request.
type FunctionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// UsageMetadata reports token usage.
type UsageMetadata struct {
	PromptTokenCount   int `json:"promptTokenCount,omitempty"`
	ResponseTokenCount int `json:"responseTokenCount,omitempty"`
	TotalTokenCount    int `json:"totalTokenCount,omitempty"`
}

// GoAway announces the server will close the connection soon.
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}
