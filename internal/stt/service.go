// Package stt owns the lifecycle of a recognition engine: it gates
// transcription on a successful initialization and releases the engine
// exactly once.
package stt

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/engine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const instrumentationName = "github.com/loqalabs/loqa-asr/stt"

// State is the externally observable lifecycle state of a Service.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	default:
		return "uninitialized"
	}
}

// Service guards a single engine. mu covers the initialized and closed flags
// only and is never held across an engine call, so concurrent Transcribe calls
// proceed in parallel.
type Service struct {
	engine  engine.Engine
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics serviceMetrics

	mu          sync.Mutex
	initialized bool
	closed      bool
	unavailable bool
	inflight    sync.WaitGroup
	group       singleflight.Group

	release *release
	cleanup runtime.Cleanup
}

// release runs engine cleanup at most once, from Close or from the garbage
// collector when a Service is dropped without being closed.
type release struct {
	once   sync.Once
	engine engine.Engine
	logger *slog.Logger
}

func (r *release) run() {
	r.once.Do(func() {
		r.engine.Cleanup()
		r.logger.Debug("engine released")
	})
}

// NewService wraps eng in an uninitialized Service. It makes no engine calls.
func NewService(eng engine.Engine, logger *slog.Logger) (*Service, error) {
	if eng == nil {
		return nil, errors.New("stt: engine is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(slog.String("component", "stt-service"))

	s := &Service{
		engine:      eng,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		unavailable: engine.IsUnavailable(eng),
	}
	metrics, err := newServiceMetrics(otel.Meter(instrumentationName))
	if err != nil {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	s.metrics = metrics

	s.release = &release{engine: eng, logger: logger}
	s.cleanup = runtime.AddCleanup(s, func(r *release) { r.run() }, s.release)
	return s, nil
}

// State reports whether the engine has been initialized.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return StateInitialized
	}
	return StateUninitialized
}

// Initialize prepares the engine. Overlapping calls share one engine call and
// its result; calls after a success return nil without touching the engine.
// A cancelled ctx abandons the wait but not the engine call, whose outcome
// still decides the state.
func (s *Service) Initialize(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "stt.initialize")
	defer span.End()

	s.mu.Lock()
	closed, initialized := s.closed, s.initialized
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if initialized {
		return nil
	}

	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan("initialize", func() (any, error) {
		return nil, s.initializeEngine(detached)
	})
	select {
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		return res.Err
	}
}

func (s *Service) initializeEngine(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	start := time.Now()
	err := s.engine.Initialize(ctx)
	s.metrics.recordInitialize(ctx, err)
	if err != nil {
		s.logger.Warn("engine initialization failed", slog.String("error", err.Error()))
		if errors.Is(err, engine.ErrPlatformUnavailable) {
			s.mu.Lock()
			s.unavailable = true
			s.mu.Unlock()
			return err
		}
		return newInitializationError(err)
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.logger.Info("transcription service initialized", slog.Duration("took", time.Since(start)))
	return nil
}

// Transcribe runs the engine over 16 kHz mono samples. It fails fast with
// ErrPlatformUnavailable when the engine cannot run here, and with
// ErrNotInitialized before a successful Initialize.
func (s *Service) Transcribe(ctx context.Context, samples []float32) (engine.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "stt.transcribe", trace.WithAttributes(attribute.Int("audio.samples", len(samples))))
	defer span.End()

	if err := s.acquire(); err != nil {
		span.RecordError(err)
		return engine.Outcome{}, err
	}
	defer s.inflight.Done()

	if err := audio.Validate(samples); err != nil {
		span.RecordError(err)
		return engine.Outcome{}, err
	}

	start := time.Now()
	out, err := s.engine.Transcribe(ctx, samples)
	s.metrics.recordTranscribe(ctx, err, time.Since(start))
	if err != nil {
		terr := newTranscriptionError(err)
		span.RecordError(terr)
		span.SetStatus(codes.Error, terr.Error())
		return engine.Outcome{}, terr
	}
	span.SetAttributes(attribute.Float64("stt.confidence", out.Confidence))
	return out, nil
}

// acquire registers an in-flight transcription if the service can serve one.
func (s *Service) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.unavailable {
		return ErrPlatformUnavailable
	}
	if !s.initialized {
		return ErrNotInitialized
	}
	s.inflight.Add(1)
	return nil
}

// Close rejects further calls, waits for in-flight engine calls and releases
// the engine. It is safe to call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	s.cleanup.Stop()
	s.release.run()
	s.logger.Info("transcription service closed")
	return nil
}

// ModelsExist reports whether the engine described by cfg already has its
// models locally. It needs no Service and never initializes the engine.
func ModelsExist(cfg config.EngineConfig) bool {
	eng, err := engine.New(cfg, nil)
	if err != nil {
		return false
	}
	return eng.ModelsPresent()
}

// ModelPath resolves where the engine described by cfg keeps its models.
func ModelPath(cfg config.EngineConfig) (string, error) {
	eng, err := engine.New(cfg, nil)
	if err != nil {
		return "", err
	}
	return eng.ModelPath()
}
