package audio

import (
	"sync"

	"github.com/AltairaLabs/robolive/liveerr"
	"github.com/AltairaLabs/robolive/logger"
)

// Playback drives an output device from a Scheduler.
type Playback struct {
	device    OutputDevice
	scheduler *Scheduler

	mu      sync.Mutex
	running bool
}

// NewPlayback creates a playback pipeline whose timeline runs at the
// device's sample rate.
func NewPlayback(device OutputDevice, opts ...SchedulerOption) *Playback {
	return &Playback{
		device:    device,
		scheduler: NewScheduler(device.SampleRate(), opts...),
	}
}

// Scheduler returns the timeline owner.
func (p *Playback) Scheduler() *Scheduler {
	return p.scheduler
}

// Start opens the output device.
func (p *Playback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if err := p.device.Start(p.scheduler.Render); err != nil {
		return liveerr.Device("failed to start output device", err)
	}
	p.running = true
	logger.Debug("audio playback started", "sample_rate", p.scheduler.SampleRate())
	return nil
}

// Stop halts the output device. Unplayed audio stays on the timeline.
func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false
	if err := p.device.Stop(); err != nil {
		return liveerr.Device("failed to stop output device", err)
	}
	logger.Debug("audio playback stopped", "pending", p.scheduler.Pending())
	return nil
}

// Enqueue schedules PCM16 audio recorded at rate.
func (p *Playback) Enqueue(pcm []byte, rate int) error {
	_, err := p.scheduler.ScheduleRate(pcm, rate)
	return err
}

// Interrupt discards audio that has not played yet.
func (p *Playback) Interrupt() {
	p.scheduler.Flush()
}

// EndOfTurn marks the end of a response.
func (p *Playback) EndOfTurn() {
	p.scheduler.EndOfStream()
}
