package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Buffer is mono float32 audio at a stated sample rate.
type Buffer struct {
	Samples    []float32
	SampleRate float64
}

// Duration reports the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / b.SampleRate * float64(time.Second))
}

// To16kMono resamples the buffer to TargetSampleRate.
func (b Buffer) To16kMono() (Buffer, error) {
	out, err := ResampleTo16kMono(b.Samples, b.SampleRate)
	if err != nil {
		return Buffer{}, err
	}
	return Buffer{Samples: out, SampleRate: TargetSampleRate}, nil
}

// DecodePCM16 converts interleaved little-endian signed 16-bit PCM into mono
// float32 samples in [-1, 1], averaging channels.
func DecodePCM16(pcm []byte, channels int) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channel count %d", ErrInvalidInput, channels)
	}
	frameBytes := 2 * channels
	if len(pcm)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: pcm payload of %d bytes not aligned to %d-byte frames", ErrInvalidInput, len(pcm), frameBytes)
	}
	frames := len(pcm) / frameBytes
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}

// EncodePCM16 converts float32 samples to little-endian signed 16-bit PCM,
// clipping values outside [-1, 1].
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	switch {
	case s >= 1:
		return 32767
	case s <= -1:
		return -32768
	}
	return int16(s * 32767)
}
