package engine

import "context"

// unavailable stands in for an engine that this platform or build lacks.
type unavailable struct{}

// Unavailable returns an engine whose operations fail with ErrPlatformUnavailable.
func Unavailable() Engine { return unavailable{} }

func (unavailable) Initialize(context.Context) error { return ErrPlatformUnavailable }

func (unavailable) ModelsPresent() bool { return false }

func (unavailable) ModelPath() (string, error) { return "", ErrPlatformUnavailable }

func (unavailable) Transcribe(context.Context, []float32) (Outcome, error) {
	return Outcome{}, ErrPlatformUnavailable
}

func (unavailable) Cleanup() {}

// IsUnavailable reports whether eng can never run on this platform or build.
func IsUnavailable(eng Engine) bool {
	_, ok := eng.(unavailable)
	return ok
}
