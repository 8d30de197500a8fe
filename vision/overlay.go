package vision

import (
	"image"
	"sync"

	"github.com/AltairaLabs/robolive/detection"
	"github.com/AltairaLabs/robolive/logger"
)

// PixelPoint maps a normalized [y, x] point onto a width x height frame.
func PixelPoint(p detection.Point, width, height int) image.Point {
	return image.Point{
		X: p.X() * width / detection.MaxCoordinate,
		Y: p.Y() * height / detection.MaxCoordinate,
	}
}

// LogOverlay writes detections to the log in pixel coordinates of the latest
// frame. It also remembers the last result per kind.
type LogOverlay struct {
	Store *FrameStore

	mu   sync.Mutex
	last map[string][]detection.Point
}

// Show implements Overlay.
func (o *LogOverlay) Show(kind string, points []detection.Point) {
	o.mu.Lock()
	if o.last == nil {
		o.last = make(map[string][]detection.Point)
	}
	o.last[kind] = points
	o.mu.Unlock()

	var frame *Frame
	if o.Store != nil {
		frame = o.Store.Latest()
	}
	for _, p := range points {
		args := []any{"kind", kind, "label", p.Label, "y", p.Y(), "x", p.X()}
		if frame != nil && frame.Width > 0 && frame.Height > 0 {
			px := PixelPoint(p, frame.Width, frame.Height)
			args = append(args, "px", px.X, "py", px.Y)
		}
		logger.Info("detection", args...)
	}
}

// Last returns the most recent points shown for kind.
func (o *LogOverlay) Last(kind string) []detection.Point {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last[kind]
}
