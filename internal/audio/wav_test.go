package audio

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	in := make([]float32, 22050)
	for i := range in {
		in[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/22050))
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteWAV(f, in, 22050); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f, err = os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf, err := ReadWAV(f)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if buf.SampleRate != 22050 {
		t.Fatalf("expected 22050 Hz, got %v", buf.SampleRate)
	}
	if len(buf.Samples) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(buf.Samples))
	}
	for i := range in {
		if math.Abs(float64(buf.Samples[i]-in[i])) > 1e-3 {
			t.Fatalf("sample %d: expected ~%v, got %v", i, in[i], buf.Samples[i])
		}
	}
	if d := buf.Duration(); d != time.Second {
		t.Fatalf("expected 1s duration, got %v", d)
	}

	resampled, err := buf.To16kMono()
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if resampled.SampleRate != TargetSampleRate || len(resampled.Samples) != 16000 {
		t.Fatalf("unexpected resampled buffer: %v Hz, %d samples", resampled.SampleRate, len(resampled.Samples))
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.wav")
	if err := os.WriteFile(path, []byte(strings.Repeat("not a wav file ", 8)), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := ReadWAV(f); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDecodePCM16(t *testing.T) {
	stereo := EncodePCM16([]float32{0.5, -0.5, 1, 1})
	mono, err := DecodePCM16(stereo, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(mono) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(mono))
	}
	if math.Abs(float64(mono[0])) > 1e-4 {
		t.Fatalf("expected mixdown to cancel, got %v", mono[0])
	}
	if math.Abs(float64(mono[1])-1) > 1e-3 {
		t.Fatalf("expected full scale, got %v", mono[1])
	}

	if _, err := DecodePCM16([]byte{1, 2, 3}, 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected misaligned payload to fail, got %v", err)
	}
	if _, err := DecodePCM16([]byte{1, 2}, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected zero channels to fail, got %v", err)
	}
}
