package session

import "github.com/AltairaLabs/robolive/protocol"

// State is the connection state of a Session.
type State int

// Session states. StateError is terminal; recovering requires a new Session.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// canTransition reports whether from → to is a legal state change.
func canTransition(from, to State) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateDisconnected || to == StateError
	case StateConnected:
		return to == StateDisconnected || to == StateError
	default:
		return false
	}
}

// StatusEvent is delivered to OnStatusChange. Err is set for StateError and
// for device failures reported while the state is unchanged.
type StatusEvent struct {
	State State
	Err   error
}

// Response is delivered to OnResponse. Exactly one of Text or ToolUse is set.
type Response struct {
	Text string
	// Transcript marks Text as a transcription rather than model output.
	Transcript bool
	// Source is "input" or "output" for transcripts.
	Source  string
	ToolUse []protocol.FunctionCall
}

// Callbacks receive session notifications. They run on session goroutines,
// one at a time. A callback may call Disconnect.
type Callbacks struct {
	OnStatusChange func(StatusEvent)
	OnResponse     func(Response)
}
