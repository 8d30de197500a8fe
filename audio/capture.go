package audio

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/AltairaLabs/robolive/liveerr"
	"github.com/AltairaLabs/robolive/logger"
)

// DefaultCaptureBlockSize is the number of frames per input callback.
const DefaultCaptureBlockSize = 4096

// ErrCaptureRunning is returned when Start is called twice.
var ErrCaptureRunning = errors.New("capture already running")

// Capture converts microphone blocks to 16 kHz PCM16 chunks and hands each
// one to a sink as soon as it arrives. Nothing is buffered across callbacks.
type Capture struct {
	device InputDevice

	mu      sync.Mutex
	running bool
	sink    atomic.Pointer[sinkBox]

	blocks atomic.Int64
	errors atomic.Int64
}

type sinkBox struct{ ChunkSink }

// NewCapture creates a capture pipeline for device.
func NewCapture(device InputDevice) *Capture {
	return &Capture{device: device}
}

// Start opens the device and routes every block to sink.
func (c *Capture) Start(sink ChunkSink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrCaptureRunning
	}
	c.sink.Store(&sinkBox{sink})
	if err := c.device.Start(c.handleBlock); err != nil {
		c.sink.Store(nil)
		return liveerr.Device("failed to start input device", err)
	}
	c.running = true
	logger.Debug("audio capture started", "sample_rate", c.device.SampleRate())
	return nil
}

// Stop halts the device. When Stop returns no further chunks are delivered.
// Stop is idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false
	c.sink.Store(nil)

	if err := c.device.Stop(); err != nil {
		return liveerr.Device("failed to stop input device", err)
	}
	logger.Debug("audio capture stopped", "blocks", c.blocks.Load())
	return nil
}

// Blocks returns the number of blocks forwarded to the sink.
func (c *Capture) Blocks() int64 {
	return c.blocks.Load()
}

// handleBlock runs on the device callback thread.
func (c *Capture) handleBlock(samples []float32) {
	box := c.sink.Load()
	if box == nil || len(samples) == 0 {
		return
	}

	pcm := FloatToPCM16(samples)
	if rate := c.device.SampleRate(); rate > 0 && rate != SampleRate16kHz {
		resampled, err := ResamplePCM16(pcm, rate, SampleRate16kHz)
		if err != nil {
			if c.errors.Add(1) == 1 {
				logger.Warn("capture resample failed", "error", err, "device_rate", rate)
			}
			return
		}
		pcm = resampled
	}
	if len(pcm) == 0 {
		return
	}

	c.blocks.Add(1)
	box.SendAudioChunk(pcm)
}
