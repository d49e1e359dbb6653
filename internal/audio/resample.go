// Package audio converts captured audio into the 16 kHz mono float32 format
// the recognition engines consume.
package audio

import (
	"errors"
	"fmt"
	"math"
)

// TargetSampleRate is the only sample rate the engines accept.
const TargetSampleRate = 16000

// ErrInvalidInput reports audio that must not reach the resampler or an engine.
var ErrInvalidInput = errors.New("invalid audio input")

// ResampleTo16kMono converts mono samples at sourceRate to TargetSampleRate
// using linear interpolation between neighbouring samples.
//
// Linear interpolation aliases above the new Nyquist frequency.
//
// The returned slice never aliases samples.
func ResampleTo16kMono(samples []float32, sourceRate float64) ([]float32, error) {
	if err := validateRate(sourceRate); err != nil {
		return nil, err
	}
	if sourceRate == TargetSampleRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	ratio := TargetSampleRate / sourceRate
	outLen := int(math.Floor(float64(len(samples)) * ratio))
	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) / ratio
		idx := int(math.Floor(pos))
		frac := pos - float64(idx)

		switch {
		case idx+1 < len(samples):
			a, b := samples[idx], samples[idx+1]
			out[i] = a + (b-a)*float32(frac)
		case idx < len(samples):
			out[i] = samples[idx]
		default:
			// rounding pushed the position past the tail
			out[i] = 0
		}
	}
	return out, nil
}

func validateRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return fmt.Errorf("%w: sample rate %v must be a positive finite number", ErrInvalidInput, rate)
	}
	return nil
}

// Validate rejects buffers an engine cannot meaningfully process: empty
// buffers and buffers containing NaN or infinite samples.
func Validate(samples []float32) error {
	if len(samples) == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidInput)
	}
	for i, s := range samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: sample %d is not finite", ErrInvalidInput, i)
		}
	}
	return nil
}
