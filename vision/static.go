package vision

import (
	"bytes"
	"context"
	"image"
	"sync"
	"time"

	"github.com/AltairaLabs/robolive/media"
)

// StaticCamera replays one image at a fixed interval. Non-JPEG input is
// re-encoded once on creation.
type StaticCamera struct {
	data          []byte
	width, height int
	interval      time.Duration

	mu     sync.Mutex
	frames chan *Frame
	cancel context.CancelFunc
}

// NewStaticCamera decodes data and prepares it for replay.
func NewStaticCamera(data []byte, interval time.Duration) (*StaticCamera, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if format != "jpeg" {
		if data, err = media.EncodeJPEG(img, 90); err != nil {
			return nil, err
		}
	}
	if interval <= 0 {
		interval = DefaultVideoInterval
	}
	b := img.Bounds()
	return &StaticCamera{data: data, width: b.Dx(), height: b.Dy(), interval: interval}, nil
}

// Start implements Camera.
func (c *StaticCamera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.frames = make(chan *Frame, 1)
	go c.run(ctx, c.frames)
	return nil
}

// Stop implements Camera.
func (c *StaticCamera) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Frames implements Camera.
func (c *StaticCamera) Frames() <-chan *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func (c *StaticCamera) run(ctx context.Context, frames chan<- *Frame) {
	defer close(frames)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		f := &Frame{Data: c.data, Width: c.width, Height: c.height, Timestamp: time.Now()}
		select {
		case frames <- f:
		case <-ctx.Done():
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
