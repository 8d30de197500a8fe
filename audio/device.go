package audio

// InputDevice is a microphone that delivers fixed-size blocks of mono float
// samples from its own callback thread.
type InputDevice interface {
	// Start begins delivering blocks to onBlock. The slice is only valid for
	// the duration of the call.
	Start(onBlock func(samples []float32)) error
	// Stop halts the device. No onBlock call may begin after Stop returns.
	Stop() error
	// SampleRate is the rate of delivered samples in Hz.
	SampleRate() int
}

// OutputDevice is a speaker that pulls mono float samples from its own
// callback thread.
type OutputDevice interface {
	// Start begins calling fill whenever the device needs len(out) samples.
	Start(fill func(out []float32)) error
	// Stop halts the device. No fill call may begin after Stop returns.
	Stop() error
	// SampleRate is the rate the device plays at in Hz.
	SampleRate() int
}

// ChunkSink receives captured PCM16 chunks.
type ChunkSink interface {
	SendAudioChunk(pcm []byte)
}

// ChunkSinkFunc adapts a function to ChunkSink.
type ChunkSinkFunc func(pcm []byte)

// SendAudioChunk calls f(pcm).
func (f ChunkSinkFunc) SendAudioChunk(pcm []byte) { f(pcm) }
