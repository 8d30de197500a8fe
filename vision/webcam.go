package vision

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/AltairaLabs/robolive/logger"
)

// maxFrameBytes bounds a single MJPEG frame.
const maxFrameBytes = 1 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// WebcamConfig configures ffmpeg capture.
type WebcamConfig struct {
	DeviceIndex int
	Width       int
	Height      int
	// FPS is the rate ffmpeg emits frames at.
	FPS int
}

// DefaultWebcamConfig captures 640x480 at 5 frames per second.
func DefaultWebcamConfig() WebcamConfig {
	return WebcamConfig{Width: 640, Height: 480, FPS: 5}
}

// Webcam streams MJPEG frames from an ffmpeg child process.
type Webcam struct {
	cfg    WebcamConfig
	frames chan *Frame

	mu      sync.Mutex
	cmd     *exec.Cmd
	running bool
}

// NewWebcam creates a webcam capture.
func NewWebcam(cfg WebcamConfig) *Webcam {
	def := DefaultWebcamConfig()
	if cfg.Width == 0 {
		cfg.Width = def.Width
	}
	if cfg.Height == 0 {
		cfg.Height = def.Height
	}
	if cfg.FPS == 0 {
		cfg.FPS = def.FPS
	}
	return &Webcam{cfg: cfg}
}

// Frames implements Camera. Each Start opens a new channel, closed when that
// capture ends.
func (w *Webcam) Frames() <-chan *Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Start implements Camera.
func (w *Webcam) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", w.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	w.cmd = cmd
	w.running = true
	w.frames = make(chan *Frame, 4)

	go w.read(ctx, stdout, w.frames)
	return nil
}

// Stop implements Camera.
func (w *Webcam) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

func (w *Webcam) read(ctx context.Context, r io.Reader, frames chan<- *Frame) {
	defer close(frames)
	err := ReadMJPEG(r, func(data []byte) {
		f := &Frame{Data: data, Width: w.cfg.Width, Height: w.cfg.Height, Timestamp: time.Now()}
		select {
		case frames <- f:
		case <-ctx.Done():
		default:
			// consumer is behind; drop
		}
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn("webcam stream ended", "error", err)
	}
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd != nil {
		_ = cmd.Wait()
	}
	w.mu.Lock()
	w.cmd = nil
	w.running = false
	w.mu.Unlock()
}

func (w *Webcam) args() []string {
	size := fmt.Sprintf("%dx%d", w.cfg.Width, w.cfg.Height)
	idx := strconv.Itoa(w.cfg.DeviceIndex)

	var args []string
	switch runtime.GOOS {
	case "darwin":
		args = []string{"-f", "avfoundation", "-framerate", "30", "-video_size", size, "-i", idx}
	case "windows":
		args = []string{"-f", "dshow", "-framerate", "30", "-video_size", size, "-i", "video=" + idx}
	default:
		args = []string{"-f", "v4l2", "-framerate", "30", "-video_size", size, "-i", "/dev/video" + idx}
	}
	return append(args,
		"-an",
		"-vf", fmt.Sprintf("fps=%d", w.cfg.FPS),
		"-f", "mjpeg",
		"-q:v", "10",
		"-loglevel", "error",
		"-",
	)
}

// ReadMJPEG splits a concatenated JPEG stream into frames and calls emit for
// each. It returns nil at EOF.
func ReadMJPEG(r io.Reader, emit func([]byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256*1024), maxFrameBytes)
	sc.Split(splitJPEG)
	for sc.Scan() {
		frame := make([]byte, len(sc.Bytes()))
		copy(frame, sc.Bytes())
		emit(frame)
	}
	return sc.Err()
}

// splitJPEG is a bufio.SplitFunc yielding SOI..EOI segments. Bytes before a
// start marker are skipped.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing 0xFF that may begin a marker
		if n := len(data); n > 1 {
			return n - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if start > 0 {
			return start, nil, nil
		}
		return 0, nil, nil
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}
