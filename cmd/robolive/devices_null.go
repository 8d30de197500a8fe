//go:build !portaudio

package main

func openAudio() (*audioDevices, error) {
	return nil, errNoAudioBackend
}
