// Package asr embeds the loqa speech-to-text service in another Go program.
//
// A Service starts uninitialized and performs no engine work until
// Initialize succeeds. Transcribe expects 16 kHz mono samples; use
// ResampleTo16kHzMono or TranscribeAt for audio captured at other rates.
//
//	svc, err := asr.New(asr.DefaultConfig(), nil)
//	if err != nil { ... }
//	defer svc.Close()
//	if err := svc.Initialize(ctx); err != nil { ... }
//	res, err := svc.Transcribe(ctx, samples)
package asr

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/engine"
	"github.com/loqalabs/loqa-asr/internal/stt"
)

// Config selects the recognition engine. Mode is one of mock, exec or whisper.
type Config = config.EngineConfig

// DefaultConfig returns the engine section of the daemon's default configuration.
func DefaultConfig() Config {
	return config.Default().Engine
}

type (
	State               = stt.State
	InitializationError = stt.InitializationError
	TranscriptionError  = stt.TranscriptionError
)

const (
	StateUninitialized = stt.StateUninitialized
	StateInitialized   = stt.StateInitialized
)

var (
	ErrPlatformUnavailable = stt.ErrPlatformUnavailable
	ErrNotInitialized      = stt.ErrNotInitialized
	ErrInvalidAudio        = stt.ErrInvalidAudio
	ErrClosed              = stt.ErrClosed
)

// Result is the text recognized in one buffer and the engine's confidence in it.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Service is safe for concurrent use.
type Service struct {
	svc *stt.Service
}

// New validates cfg and builds an uninitialized Service. A nil logger discards output.
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	if err := config.ValidateEngine(cfg); err != nil {
		return nil, err
	}
	eng, err := engine.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	svc, err := stt.NewService(eng, logger)
	if err != nil {
		return nil, err
	}
	return &Service{svc: svc}, nil
}

func (s *Service) Initialize(ctx context.Context) error {
	return s.svc.Initialize(ctx)
}

func (s *Service) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	out, err := s.svc.Transcribe(ctx, samples)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: out.Text, Confidence: out.Confidence}, nil
}

// TranscribeAt resamples mono samples captured at sampleRate before transcribing them.
func (s *Service) TranscribeAt(ctx context.Context, samples []float32, sampleRate float64) (Result, error) {
	resampled, err := audio.ResampleTo16kMono(samples, sampleRate)
	if err != nil {
		return Result{}, err
	}
	return s.Transcribe(ctx, resampled)
}

func (s *Service) State() State {
	return s.svc.State()
}

// Close releases the engine. Services that are never closed release it when
// garbage collected.
func (s *Service) Close() error {
	return s.svc.Close()
}

// ModelsExist reports whether cfg's engine has its models locally.
func ModelsExist(cfg Config) bool {
	return stt.ModelsExist(cfg)
}

// GetModelPath reports where cfg's engine keeps its models. It fails with
// ErrPlatformUnavailable when the engine is not built into this binary.
func GetModelPath(cfg Config) (string, error) {
	return stt.ModelPath(cfg)
}

// ResampleTo16kHzMono converts mono samples at sourceRate to 16 kHz by linear
// interpolation.
func ResampleTo16kHzMono(samples []float32, sourceRate float64) ([]float32, error) {
	return audio.ResampleTo16kMono(samples, sourceRate)
}
