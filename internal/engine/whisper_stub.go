//go:build !whisper

package engine

import (
	"log/slog"

	"github.com/loqalabs/loqa-asr/internal/config"
)

// WhisperAvailable reports whether this binary was built with whisper.cpp.
const WhisperAvailable = false

func newWhisper(_ config.EngineConfig, logger *slog.Logger) (Engine, error) {
	logger.Debug("whisper.cpp support not compiled in; build with -tags whisper")
	return Unavailable(), nil
}
