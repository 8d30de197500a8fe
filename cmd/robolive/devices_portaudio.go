//go:build portaudio

package main

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/AltairaLabs/robolive/audio"
)

const (
	// inputFramesPerBuffer matches the capture block size.
	inputFramesPerBuffer = audio.DefaultCaptureBlockSize
	// outputFramesPerBuffer is 40ms at 24kHz.
	outputFramesPerBuffer = 960
)

func openAudio() (*audioDevices, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	in, err := defaultInputRate()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	return &audioDevices{
		Input:  &paInput{rate: in},
		Output: &paOutput{rate: audio.SampleRate24kHz},
		close:  portaudio.Terminate,
	}, nil
}

// defaultInputRate returns the default microphone's native rate; capture
// resamples to 16kHz.
func defaultInputRate() (int, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return 0, fmt.Errorf("no default input device: %w", err)
	}
	return int(dev.DefaultSampleRate), nil
}

// paInput is a callback-driven microphone stream.
type paInput struct {
	rate int

	mu     sync.Mutex
	stream *portaudio.Stream
}

func (d *paInput) SampleRate() int { return d.rate }

func (d *paInput) Start(onBlock func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return nil
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(d.rate), inputFramesPerBuffer, func(in []float32) {
		onBlock(in)
	})
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	d.stream = stream
	return nil
}

func (d *paInput) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}
	stream := d.stream
	d.stream = nil
	// Stop waits for the running callback to return.
	if err := stream.Stop(); err != nil {
		_ = stream.Close()
		return err
	}
	return stream.Close()
}

// paOutput is a callback-driven speaker stream.
type paOutput struct {
	rate int

	mu     sync.Mutex
	stream *portaudio.Stream
}

func (d *paOutput) SampleRate() int { return d.rate }

func (d *paOutput) Start(fill func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return nil
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(d.rate), outputFramesPerBuffer, func(out []float32) {
		fill(out)
	})
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	d.stream = stream
	return nil
}

func (d *paOutput) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}
	stream := d.stream
	d.stream = nil
	if err := stream.Stop(); err != nil {
		_ = stream.Close()
		return err
	}
	return stream.Close()
}
