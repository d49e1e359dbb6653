package audio

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestResampleIdentity(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3, -0.4, 0.5}
	out, err := ResampleTo16kMono(in, TargetSampleRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, in[i], out[i])
		}
	}
	out[0] = 42
	if in[0] == 42 {
		t.Fatal("identity output aliases the input")
	}
}

func TestResampleLengthLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	rates := []float64{8000, 11025, 22050, 24000, 32000, 44100, 48000, 96000, 12345.6, 15999.9}
	for _, rate := range rates {
		for trial := 0; trial < 20; trial++ {
			n := rng.Intn(5000)
			in := make([]float32, n)
			for i := range in {
				in[i] = rng.Float32()*2 - 1
			}
			out, err := ResampleTo16kMono(in, rate)
			if err != nil {
				t.Fatalf("rate %v: unexpected error: %v", rate, err)
			}
			want := int(math.Floor(float64(n) * (TargetSampleRate / rate)))
			if len(out) != want {
				t.Fatalf("rate %v len %d: expected %d samples, got %d", rate, n, want, len(out))
			}
		}
	}
}

func TestResampleInterpolation(t *testing.T) {
	out, err := ResampleTo16kMono([]float32{0, 1, 2, 3}, 8000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float32{0, 0.5, 1, 1.5, 2, 2.5, 3, 3}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, want[i], out[i])
		}
	}
}

func TestResampleDownsample(t *testing.T) {
	in := make([]float32, 48)
	for i := range in {
		in[i] = float32(i)
	}
	out, err := ResampleTo16kMono(in, 48000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 16 {
		t.Fatalf("expected 16 samples, got %d", len(out))
	}
	for i, v := range out {
		if want := float32(3 * i); math.Abs(float64(v-want)) > 1e-4 {
			t.Fatalf("sample %d: expected %v, got %v", i, want, v)
		}
	}
}

func TestResampleTailNeverExceedsInput(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(300)
		rate := 1000 + rng.Float64()*95000
		in := make([]float32, n)
		for i := range in {
			in[i] = rng.Float32()*2 - 1
		}
		out, err := ResampleTo16kMono(in, rate)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out) == 0 {
			continue
		}
		last := float64(out[len(out)-1])
		if math.IsNaN(last) || math.IsInf(last, 0) {
			t.Fatalf("rate %v len %d: tail sample not finite", rate, n)
		}
		if last < -1.0001 || last > 1.0001 {
			t.Fatalf("rate %v len %d: tail sample %v outside input range", rate, n, last)
		}
	}
}

func TestResampleEmpty(t *testing.T) {
	for _, rate := range []float64{8000, 16000, 44100} {
		out, err := ResampleTo16kMono(nil, rate)
		if err != nil {
			t.Fatalf("rate %v: unexpected error: %v", rate, err)
		}
		if out == nil || len(out) != 0 {
			t.Fatalf("rate %v: expected empty non-nil output, got %v", rate, out)
		}
	}
}

func TestResampleRejectsInvalidRate(t *testing.T) {
	for _, rate := range []float64{0, -16000, math.NaN(), math.Inf(1)} {
		if _, err := ResampleTo16kMono([]float32{1, 2}, rate); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("rate %v: expected ErrInvalidInput, got %v", rate, err)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		samples []float32
		ok      bool
	}{
		{name: "silence", samples: make([]float32, 16000), ok: true},
		{name: "empty", samples: nil},
		{name: "nan", samples: []float32{0, float32(math.NaN())}},
		{name: "inf", samples: []float32{float32(math.Inf(-1))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.samples)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
