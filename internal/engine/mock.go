package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

type mockEngine struct {
	modelPath   string
	initialized atomic.Bool
}

// NewMock returns an engine that produces deterministic transcripts without
// loading any model. Its models are always present.
func NewMock(modelPath string) Engine {
	return &mockEngine{modelPath: modelPath}
}

func (m *mockEngine) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.initialized.Store(true)
	return nil
}

func (m *mockEngine) ModelsPresent() bool { return true }

func (m *mockEngine) ModelPath() (string, error) { return m.modelPath, nil }

func (m *mockEngine) Transcribe(_ context.Context, samples []float32) (Outcome, error) {
	if !m.initialized.Load() {
		return Outcome{}, errors.New("mock engine not initialized")
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := 0.0
	if len(samples) > 0 {
		rms = math.Sqrt(sum / float64(len(samples)))
	}
	return Outcome{
		Text:       fmt.Sprintf("[mock transcript samples=%d rms=%.3f]", len(samples), rms),
		Confidence: math.Min(1, rms),
	}, nil
}

func (m *mockEngine) Cleanup() {
	m.initialized.Store(false)
}
