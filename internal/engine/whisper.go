//go:build whisper

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-asr/internal/config"
)

// WhisperAvailable reports whether this binary was built with whisper.cpp.
const WhisperAvailable = true

// whisperEngine runs whisper.cpp in-process. The model handle is not safe for
// concurrent decoding, so Transcribe serialises on mu.
type whisperEngine struct {
	path     string
	language string
	threads  uint
	logger   *slog.Logger

	mu    sync.Mutex
	model whisper.Model
}

func newWhisper(cfg config.EngineConfig, logger *slog.Logger) (Engine, error) {
	threads := uint(cfg.Threads)
	if threads == 0 {
		threads = uint(runtime.NumCPU())
	}
	return &whisperEngine{
		path:     ResolveModelPath(cfg),
		language: strings.TrimSpace(cfg.Language),
		threads:  threads,
		logger:   logger,
	}, nil
}

func (w *whisperEngine) Initialize(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model != nil {
		return nil
	}
	if !pathExists(w.path) {
		return fmt.Errorf("whisper model not found at %s", w.path)
	}
	model, err := whisper.New(w.path)
	if err != nil {
		return fmt.Errorf("load whisper model: %w", err)
	}
	w.model = model
	w.logger.Info("whisper model loaded", slog.String("path", w.path), slog.Bool("multilingual", model.IsMultilingual()))
	return nil
}

func (w *whisperEngine) ModelsPresent() bool { return pathExists(w.path) }

func (w *whisperEngine) ModelPath() (string, error) { return w.path, nil }

func (w *whisperEngine) Transcribe(_ context.Context, samples []float32) (Outcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return Outcome{}, errors.New("whisper model not loaded")
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Outcome{}, fmt.Errorf("create whisper context: %w", err)
	}
	wctx.SetThreads(w.threads)
	if w.language != "" && w.language != "auto" {
		if err := wctx.SetLanguage(w.language); err != nil {
			return Outcome{}, fmt.Errorf("set language %q: %w", w.language, err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Outcome{}, fmt.Errorf("whisper process: %w", err)
	}

	var text strings.Builder
	var probSum float64
	var tokens int
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("read whisper segment: %w", err)
		}
		if t := strings.TrimSpace(seg.Text); t != "" {
			if text.Len() > 0 {
				text.WriteByte(' ')
			}
			text.WriteString(t)
		}
		for _, tok := range seg.Tokens {
			probSum += float64(tok.P)
			tokens++
		}
	}

	var confidence float64
	if tokens > 0 {
		confidence = probSum / float64(tokens)
	}
	return Outcome{Text: text.String(), Confidence: confidence}, nil
}

func (w *whisperEngine) Cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return
	}
	if err := w.model.Close(); err != nil {
		w.logger.Warn("close whisper model", slog.String("error", err.Error()))
	}
	w.model = nil
}
