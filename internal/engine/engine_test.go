package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-asr/internal/config"
)

func TestMockEngine(t *testing.T) {
	ctx := context.Background()
	eng := NewMock("/models/mock")
	if !eng.ModelsPresent() {
		t.Fatal("expected mock models to be present")
	}
	if path, err := eng.ModelPath(); err != nil || path != "/models/mock" {
		t.Fatalf("unexpected model path %q (%v)", path, err)
	}
	if _, err := eng.Transcribe(ctx, make([]float32, 10)); err == nil {
		t.Fatal("expected transcribe before initialize to fail")
	}
	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	out, err := eng.Transcribe(ctx, make([]float32, 16000))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !strings.Contains(out.Text, "samples=16000") {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		t.Fatalf("confidence %v outside [0,1]", out.Confidence)
	}

	eng.Cleanup()
	eng.Cleanup()
	if _, err := eng.Transcribe(ctx, make([]float32, 10)); err == nil {
		t.Fatal("expected transcribe after cleanup to fail")
	}
}

func TestUnavailableEngine(t *testing.T) {
	eng := Unavailable()
	if err := eng.Initialize(context.Background()); !errors.Is(err, ErrPlatformUnavailable) {
		t.Fatalf("expected ErrPlatformUnavailable, got %v", err)
	}
	if _, err := eng.Transcribe(context.Background(), []float32{0}); !errors.Is(err, ErrPlatformUnavailable) {
		t.Fatalf("expected ErrPlatformUnavailable, got %v", err)
	}
	if _, err := eng.ModelPath(); !errors.Is(err, ErrPlatformUnavailable) {
		t.Fatalf("expected ErrPlatformUnavailable, got %v", err)
	}
	if eng.ModelsPresent() {
		t.Fatal("expected no models on an unavailable platform")
	}
	if !IsUnavailable(eng) {
		t.Fatal("expected IsUnavailable to recognize the stand-in engine")
	}
	eng.Cleanup()
}

func TestNewSelectsAdapter(t *testing.T) {
	if _, err := New(config.EngineConfig{Mode: "fluid"}, nil); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
	if _, err := New(config.EngineConfig{Mode: "exec", Command: "  "}, nil); err == nil {
		t.Fatal("expected empty exec command to fail")
	}

	eng, err := New(config.EngineConfig{Mode: "mock"}, nil)
	if err != nil {
		t.Fatalf("new mock: %v", err)
	}
	if !eng.ModelsPresent() {
		t.Fatal("expected mock engine")
	}
	if IsUnavailable(eng) {
		t.Fatal("mock engine reported as unavailable")
	}

	eng, err = New(config.EngineConfig{Mode: "whisper", ModelPath: filepath.Join(t.TempDir(), "ggml.bin")}, nil)
	if err != nil {
		t.Fatalf("new whisper: %v", err)
	}
	if IsUnavailable(eng) == WhisperAvailable {
		t.Fatalf("IsUnavailable = %t with WhisperAvailable = %t", IsUnavailable(eng), WhisperAvailable)
	}
	if !WhisperAvailable {
		if _, err := eng.ModelPath(); !errors.Is(err, ErrPlatformUnavailable) {
			t.Fatalf("expected whisper to be unavailable without the build tag, got %v", err)
		}
	}
	if eng.ModelsPresent() {
		t.Fatal("expected missing whisper model")
	}
}

func TestResolveModelPath(t *testing.T) {
	if got := ResolveModelPath(config.EngineConfig{Mode: "exec", ModelPath: "/srv/models"}); got != "/srv/models" {
		t.Fatalf("expected configured path, got %q", got)
	}
	got := ResolveModelPath(config.EngineConfig{Mode: "whisper"})
	if got == "" || filepath.Base(got) != "ggml-base.bin" {
		t.Fatalf("unexpected default whisper path %q", got)
	}
	if !strings.Contains(got, filepath.Join("loqa-asr", "models")) {
		t.Fatalf("expected default under loqa-asr cache dir, got %q", got)
	}
}
