// Package audio implements the microphone capture pipeline, the gapless
// playback scheduler and the PCM16 conversions they share.
//
// Outbound audio is 16 kHz mono little-endian PCM16. Inbound audio is
// 24 kHz mono PCM16, scheduled back-to-back on the output device clock.
package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// Standard sample rates.
const (
	SampleRate24kHz = 24000 // synthesized speech from the service
	SampleRate16kHz = 16000 // microphone audio sent to the service
)

// BytesPerSample is the size of one mono PCM16 sample.
const BytesPerSample = 2

// ErrOddLength indicates PCM16 data that is not a whole number of samples.
var ErrOddLength = errors.New("pcm16 data length is not a multiple of 2")

// FloatToPCM16 converts float samples to little-endian PCM16 with symmetric
// scaling: samples are clamped to [-1, 1], then -1 maps to -32768 and +1 to
// 32767 (negative values times 32768, positive values times 32767), so both
// ends of the int16 range are reachable without overflow.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(floatToInt16(s))) //nolint:gosec // two's complement PCM16
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// PCM16ToFloat is the exact inverse of FloatToPCM16's scaling: negative
// samples are divided by 32768 and positive samples by 32767.
func PCM16ToFloat(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(data)/BytesPerSample)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:])) //nolint:gosec // two's complement PCM16
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out, nil
}

// normalizePCM16 converts PCM16 to float by dividing every sample by 32768.
// This is the playback decode path.
func normalizePCM16(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(data)/BytesPerSample)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))) / 32768 //nolint:gosec // two's complement PCM16
	}
	return out, nil
}

// Int16ToPCM packs samples as little-endian PCM16.
func Int16ToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s)) //nolint:gosec // two's complement PCM16
	}
	return out
}

// PCMToInt16 unpacks little-endian PCM16.
func PCMToInt16(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, ErrOddLength
	}
	out := make([]int16, len(data)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:])) //nolint:gosec // two's complement PCM16
	}
	return out, nil
}

// Duration returns the playing time of n samples at rate.
func Duration(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(rate))
}
