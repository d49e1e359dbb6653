package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadWAV decodes an integer PCM WAV stream into a mono Buffer at the file's
// native sample rate. Multi-channel input is mixed down.
func ReadWAV(r io.ReadSeeker) (Buffer, error) {
	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: decode wav: %v", ErrInvalidInput, err)
	}
	if buf == nil || buf.Format == nil {
		return Buffer{}, errors.New("decode wav: missing format")
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		return Buffer{}, fmt.Errorf("%w: wav declares %d channels", ErrInvalidInput, channels)
	}
	if err := validateRate(float64(buf.Format.SampleRate)); err != nil {
		return Buffer{}, err
	}
	depth := int(dec.BitDepth)
	if depth <= 0 || depth > 32 {
		return Buffer{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidInput, depth)
	}

	scale := float32(int64(1) << (depth - 1))
	// 8-bit wav samples are unsigned
	var offset float32
	if depth == 8 {
		offset = 128
	}
	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			v := (float32(buf.Data[i*channels+ch]) - offset) / scale
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			sum += v
		}
		mono[i] = sum / float32(channels)
	}
	return Buffer{Samples: mono, SampleRate: float64(buf.Format.SampleRate)}, nil
}

// WriteWAV encodes mono samples as a 16-bit PCM WAV stream.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if err := validateRate(float64(sampleRate)); err != nil {
		return err
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(floatToInt16(s))
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
