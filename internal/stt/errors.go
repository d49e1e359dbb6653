package stt

import (
	"errors"

	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/engine"
)

var (
	ErrPlatformUnavailable = engine.ErrPlatformUnavailable
	ErrNotInitialized      = errors.New("transcription service not initialized")
	ErrInvalidAudio        = audio.ErrInvalidInput
	ErrClosed              = errors.New("transcription service closed")
)

// InitializationError carries the engine's setup failure. Message is the
// engine's text, unmodified.
type InitializationError struct {
	Message string
	Err     error
}

func newInitializationError(err error) *InitializationError {
	return &InitializationError{Message: err.Error(), Err: err}
}

func (e *InitializationError) Error() string { return "engine initialization failed: " + e.Message }

func (e *InitializationError) Unwrap() error { return e.Err }

// TranscriptionError carries an engine failure, or engine.ErrNoResult when the
// engine produced nothing, for a well-formed request.
type TranscriptionError struct {
	Message string
	Err     error
}

func newTranscriptionError(err error) *TranscriptionError {
	return &TranscriptionError{Message: err.Error(), Err: err}
}

func (e *TranscriptionError) Error() string { return "transcription failed: " + e.Message }

func (e *TranscriptionError) Unwrap() error { return e.Err }
