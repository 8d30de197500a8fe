package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/AltairaLabs/robolive/events"
)

// ErrEmptyBuffer is returned when asked to schedule zero samples.
var ErrEmptyBuffer = errors.New("empty playback buffer")

// Clock reports the current position of the output device.
type Clock interface {
	Now() time.Duration
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Duration

// Now calls f.
func (f ClockFunc) Now() time.Duration { return f() }

// Scheduled describes a buffer placed on the playback timeline.
type Scheduled struct {
	Seq      uint64
	Start    time.Duration
	Duration time.Duration
}

// Underrun reports that the timeline ran dry before the next buffer arrived.
type Underrun struct {
	// At is the clock position the late buffer was scheduled at.
	At time.Duration
	// Gap is the silence between the previous buffer's end and At.
	Gap time.Duration
}

type timelineBuffer struct {
	startSample int64
	samples     []float32
}

func (b *timelineBuffer) endSample() int64 {
	return b.startSample + int64(len(b.samples))
}

// Scheduler places decoded audio buffers back-to-back on the output clock.
//
// For each buffer it resets the next start time to the clock when playback
// has fallen behind, schedules the buffer there and advances the next start
// time by the buffer's duration. Buffers therefore never overlap, never
// start in the past and are never dropped. Render pulls the timeline from
// the output device callback; the number of samples rendered is the
// default clock.
type Scheduler struct {
	rate       int
	clock      Clock // nil: the render position
	emitter    *events.Emitter
	onUnderrun func(Underrun)

	mu        sync.Mutex
	nextStart int64 // in samples at rate
	rendered  int64
	timeline  []*timelineBuffer
	seq       uint64
	streaming bool // a buffer was scheduled since the last end of stream
	underruns int64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces the render-position clock.
func WithClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = clock }
}

// WithUnderrunHandler registers a callback invoked for every underrun.
func WithUnderrunHandler(fn func(Underrun)) SchedulerOption {
	return func(s *Scheduler) { s.onUnderrun = fn }
}

// WithEmitter publishes scheduling events.
func WithEmitter(emitter *events.Emitter) SchedulerOption {
	return func(s *Scheduler) { s.emitter = emitter }
}

// NewScheduler creates a scheduler for a device playing at rate Hz.
func NewScheduler(rate int, opts ...SchedulerOption) *Scheduler {
	if rate <= 0 {
		rate = SampleRate24kHz
	}
	s := &Scheduler{rate: rate}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SampleRate returns the timeline rate in Hz.
func (s *Scheduler) SampleRate() int {
	return s.rate
}

// Now returns the clock position.
func (s *Scheduler) Now() time.Duration {
	if s.clock != nil {
		return s.clock.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Duration(int(s.rendered), s.rate)
}

func (s *Scheduler) toSamples(d time.Duration) int64 {
	return int64(d) * int64(s.rate) / int64(time.Second)
}

// Schedule places PCM16 audio recorded at the timeline rate.
func (s *Scheduler) Schedule(pcm []byte) (Scheduled, error) {
	return s.ScheduleRate(pcm, s.rate)
}

// ScheduleRate places PCM16 audio recorded at rate, resampling to the
// timeline rate when they differ.
func (s *Scheduler) ScheduleRate(pcm []byte, rate int) (Scheduled, error) {
	if rate != s.rate {
		resampled, err := ResamplePCM16(pcm, rate, s.rate)
		if err != nil {
			return Scheduled{}, err
		}
		pcm = resampled
	}
	samples, err := normalizePCM16(pcm)
	if err != nil {
		return Scheduled{}, err
	}
	if len(samples) == 0 {
		return Scheduled{}, ErrEmptyBuffer
	}

	var external int64
	if s.clock != nil {
		external = s.toSamples(s.clock.Now())
	}

	s.mu.Lock()
	// Render may have advanced since an external clock was read; never start
	// before what has already been played.
	now := max(external, s.rendered)
	var underrun *Underrun
	if s.nextStart < now {
		if s.streaming {
			underrun = &Underrun{
				At:  Duration(int(now), s.rate),
				Gap: Duration(int(now-s.nextStart), s.rate),
			}
			s.underruns++
		}
		s.nextStart = now
	}
	buf := &timelineBuffer{startSample: s.nextStart, samples: samples}
	s.timeline = append(s.timeline, buf)
	s.nextStart = buf.endSample()
	s.streaming = true
	s.seq++
	result := Scheduled{
		Seq:      s.seq,
		Start:    Duration(int(buf.startSample), s.rate),
		Duration: Duration(len(samples), s.rate),
	}
	s.mu.Unlock()

	if underrun != nil {
		s.emitter.AudioUnderrun(underrun.Gap)
		if s.onUnderrun != nil {
			s.onUnderrun(*underrun)
		}
	}
	s.emitter.AudioScheduled(result.Start, result.Duration)
	return result, nil
}

// EndOfStream marks the end of a contiguous response. The next reset of the
// timeline to the clock is expected silence, not an underrun.
func (s *Scheduler) EndOfStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
}

// Flush discards all audio not yet rendered and returns how many buffers
// were dropped. New audio starts at the current render position.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	dropped := len(s.timeline)
	s.timeline = nil
	s.nextStart = s.rendered
	s.streaming = false
	s.mu.Unlock()

	if dropped > 0 {
		s.emitter.AudioFlushed(dropped)
	}
	return dropped
}

// Render fills out with the timeline samples at the render position, writing
// silence where nothing is scheduled, and advances the render position.
// It is called from the output device callback.
func (s *Scheduler) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.rendered
	to := from + int64(len(out))

	keep := s.timeline[:0]
	for _, buf := range s.timeline {
		if buf.startSample < to && buf.endSample() > from {
			lo := max(buf.startSample, from)
			hi := min(buf.endSample(), to)
			copy(out[lo-from:hi-from], buf.samples[lo-buf.startSample:hi-buf.startSample])
		}
		if buf.endSample() > to {
			keep = append(keep, buf)
		}
	}
	for i := len(keep); i < len(s.timeline); i++ {
		s.timeline[i] = nil
	}
	s.timeline = keep
	s.rendered = to
}

// NextStart returns where the next buffer would be placed if the clock
// has not passed it.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Duration(int(s.nextStart), s.rate)
}

// Pending returns the number of buffers not yet fully rendered.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timeline)
}

// Underruns returns the number of underruns observed.
func (s *Scheduler) Underruns() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.underruns
}
