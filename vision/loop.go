package vision

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AltairaLabs/robolive/detection"
	"github.com/AltairaLabs/robolive/liveerr"
	"github.com/AltairaLabs/robolive/logger"
	"github.com/AltairaLabs/robolive/media"
)

// Loop intervals.
const (
	DefaultVideoInterval     = 200 * time.Millisecond
	DefaultDetectionInterval = 500 * time.Millisecond
)

// ObjectDetector is the subset of the detection client used by the loop.
type ObjectDetector interface {
	DetectObjects(ctx context.Context, image []byte) ([]detection.Point, error)
}

// LoopConfig wires a Loop.
type LoopConfig struct {
	Camera Camera
	// Store receives every frame. One is created when nil.
	Store *FrameStore
	// Sink gets a frame at most every VideoInterval. Optional.
	Sink VideoSink
	// Detector runs at most every DetectionInterval. Optional.
	Detector ObjectDetector
	Overlay  Overlay

	VideoInterval     time.Duration
	DetectionInterval time.Duration
}

// Loop fans camera frames out to the frame store, the live session, and the
// detector.
type Loop struct {
	cfg    LoopConfig
	video  Throttle
	detect Throttle

	inFlight atomic.Bool
	wg       sync.WaitGroup
}

// NewLoop creates a loop with defaults applied.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Store == nil {
		cfg.Store = &FrameStore{}
	}
	if cfg.VideoInterval <= 0 {
		cfg.VideoInterval = DefaultVideoInterval
	}
	if cfg.DetectionInterval <= 0 {
		cfg.DetectionInterval = DefaultDetectionInterval
	}
	return &Loop{
		cfg:    cfg,
		video:  Throttle{Interval: cfg.VideoInterval},
		detect: Throttle{Interval: cfg.DetectionInterval},
	}
}

// Store returns the loop's frame store.
func (l *Loop) Store() *FrameStore {
	return l.cfg.Store
}

// Run starts the camera and processes frames until ctx is done or the camera
// stops. It waits for an in-flight detection before returning.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Camera == nil {
		return liveerr.Device("no camera configured", nil)
	}
	if err := l.cfg.Camera.Start(ctx); err != nil {
		return liveerr.Device("camera start failed", err)
	}
	defer l.cfg.Camera.Stop()
	defer l.wg.Wait()

	frames := l.cfg.Camera.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			l.handle(ctx, f)
		}
	}
}

func (l *Loop) handle(ctx context.Context, f *Frame) {
	if f == nil || len(f.Data) == 0 {
		return
	}
	l.cfg.Store.Put(f)
	// Throttles run on capture time.
	now := f.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	if l.cfg.Sink != nil && l.video.Allow(now) {
		l.cfg.Sink.SendVideoChunk(f.Data)
	}

	if l.cfg.Detector == nil || l.inFlight.Load() {
		return
	}
	if !l.detect.Allow(now) {
		return
	}
	l.inFlight.Store(true)
	l.wg.Add(1)
	go l.runDetection(ctx, f)
}

func (l *Loop) runDetection(ctx context.Context, f *Frame) {
	defer l.wg.Done()
	defer l.inFlight.Store(false)

	img, err := media.PrepareForDetection(f.Data)
	if err != nil {
		logger.WarnContext(ctx, "detection frame unusable", "error", err)
		return
	}
	points, err := l.cfg.Detector.DetectObjects(ctx, img)
	if err != nil {
		if ctx.Err() == nil {
			logger.WarnContext(ctx, "detection failed", "error", err)
		}
		return
	}
	if l.cfg.Overlay != nil {
		l.cfg.Overlay.Show(detection.KindObjects, points)
	}
}
