// Package engine adapts external speech recognition engines to the narrow
// capability set the transcription service relies on.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loqalabs/loqa-asr/internal/config"
)

var (
	// ErrPlatformUnavailable is returned when no engine exists for this platform or build.
	ErrPlatformUnavailable = errors.New("speech recognition engine unavailable on this platform")
	// ErrNoResult is returned when an engine completes without producing a transcript.
	ErrNoResult = errors.New("transcription returned no result")
)

// Outcome captures engine output for one transcription request.
type Outcome struct {
	Text       string
	Confidence float64
}

// Engine abstracts a recognition backend. Transcribe receives 16 kHz mono
// float32 samples; adapters neither resample, cache, nor retry.
type Engine interface {
	// Initialize performs one-time setup such as loading models. It may take seconds.
	Initialize(ctx context.Context) error
	// ModelsPresent reports whether model artifacts are already available locally.
	ModelsPresent() bool
	// ModelPath returns where the engine keeps, or will keep, its artifacts.
	ModelPath() (string, error)
	Transcribe(ctx context.Context, samples []float32) (Outcome, error)
	// Cleanup releases engine resources. It must be safe on an engine that was never initialized.
	Cleanup()
}

// New builds the adapter selected by cfg.Mode. Construction never touches the
// engine itself.
func New(cfg config.EngineConfig, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(slog.String("component", "engine"), slog.String("mode", cfg.Mode))
	switch cfg.Mode {
	case "mock":
		return NewMock(ResolveModelPath(cfg)), nil
	case "exec":
		return NewExec(cfg)
	case "whisper":
		return newWhisper(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}

// ResolveModelPath returns the configured model location, or the default
// location under the user cache directory.
func ResolveModelPath(cfg config.EngineConfig) string {
	if cfg.ModelPath != "" {
		return cfg.ModelPath
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "loqa-asr", "models")
	switch cfg.Mode {
	case "whisper":
		return filepath.Join(dir, "ggml-base.bin")
	default:
		return filepath.Join(dir, cfg.Mode)
	}
}

func pathExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
