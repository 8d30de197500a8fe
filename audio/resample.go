package audio

import (
	"fmt"
)

// ResamplePCM16 converts little-endian PCM16 audio between sample rates
// using linear interpolation.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	samples, err := PCMToInt16(input)
	if err != nil {
		return nil, err
	}
	out, err := ResampleInt16(samples, fromRate, toRate)
	if err != nil {
		return nil, err
	}
	return Int16ToPCM(out), nil
}

// ResampleInt16 converts samples between rates using linear interpolation.
// Equal rates return a copy.
func ResampleInt16(input []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}
	if fromRate == toRate {
		return append([]int16(nil), input...), nil
	}

	n := len(input)
	outLen := int(int64(n) * int64(toRate) / int64(fromRate))
	if n == 0 || outLen == 0 {
		return []int16{}, nil
	}

	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= n-1 {
			out[i] = input[n-1]
			continue
		}
		frac := pos - float64(idx)
		s0, s1 := float64(input[idx]), float64(input[idx+1])
		out[i] = int16(s0 + frac*(s1-s0))
	}
	return out, nil
}
