// Package vision captures camera frames and drives the throttled video and
// detection loops that run alongside a live session.
package vision

import (
	"context"
	"sync"
	"time"

	"github.com/AltairaLabs/robolive/detection"
)

// Frame is a single JPEG camera frame.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Camera produces JPEG frames until Stop or context cancellation.
type Camera interface {
	Start(ctx context.Context) error
	Stop()
	Frames() <-chan *Frame
}

// Overlay displays detection results over the camera view.
type Overlay interface {
	Show(kind string, points []detection.Point)
}

// VideoSink receives frames for the live session.
type VideoSink interface {
	SendVideoChunk(jpeg []byte)
}

// FrameStore keeps the most recent frame. It is safe for concurrent use.
type FrameStore struct {
	mu     sync.RWMutex
	latest *Frame
}

// Put replaces the stored frame. Nil frames are ignored.
func (s *FrameStore) Put(f *Frame) {
	if f == nil {
		return
	}
	s.mu.Lock()
	s.latest = f
	s.mu.Unlock()
}

// Latest returns the most recent frame, or nil if none has arrived.
func (s *FrameStore) Latest() *Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Throttle admits at most one event per Interval.
type Throttle struct {
	Interval time.Duration
	last     time.Time
}

// Allow reports whether an event at now is admitted, and records it if so.
// Not safe for concurrent use; each loop owns its throttle.
func (t *Throttle) Allow(now time.Time) bool {
	if !t.last.IsZero() && now.Sub(t.last) < t.Interval {
		return false
	}
	t.last = now
	return true
}

// Reset forgets the last admitted event.
func (t *Throttle) Reset() {
	t.last = time.Time{}
}
