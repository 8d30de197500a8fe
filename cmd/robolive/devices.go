package main

import (
	"errors"

	"github.com/AltairaLabs/robolive/audio"
)

// errNoAudioBackend is returned by openAudio in builds without a device
// backend.
var errNoAudioBackend = errors.New("built without audio support (rebuild with -tags portaudio)")

// audioDevices is an opened microphone and speaker pair.
type audioDevices struct {
	Input  audio.InputDevice
	Output audio.OutputDevice
	close  func() error
}

// Close releases the audio backend.
func (d *audioDevices) Close() error {
	if d.close == nil {
		return nil
	}
	return d.close()
}
