// Package ingest turns audio frames streamed over the bus into transcripts.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/bus"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/engine"
	"github.com/loqalabs/loqa-asr/internal/protocol"
	"github.com/loqalabs/loqa-asr/internal/transcriptstore"
	"github.com/nats-io/nats.go"
)

// Transcriber is the part of the transcription service ingest depends on.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (engine.Outcome, error)
}

// Recorder persists sessions and their published transcripts. It may be nil.
type Recorder interface {
	AppendSession(ctx context.Context, sessionID, source string) error
	AppendTranscript(ctx context.Context, tr transcriptstore.Transcript) error
}

const sessionSource = "bus"

type Service struct {
	cfg      config.IngestConfig
	bus      *bus.Client
	stt      Transcriber
	store    Recorder
	log      *slog.Logger
	sessions map[string]*sessionState
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *nats.Subscription
	wg       sync.WaitGroup
	ready    atomic.Bool
}

// sessionState buffers 16 kHz mono audio for one session. Only one
// transcription per session runs at a time.
type sessionState struct {
	Buffer        []float32
	Inflight      bool
	PendingFinal  bool
	Texts         []string
	ConfidenceSum float64
	TotalSamples  int
}

func NewService(parent context.Context, cfg config.IngestConfig, busClient *bus.Client, stt Transcriber, store Recorder, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		stt:      stt,
		store:    store,
		log:      log.With(slog.String("component", "ingest")),
		sessions: make(map[string]*sessionState),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready.Store(true)
	s.log.Info("listening for audio frames", slog.String("subject", subject))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready.Load()
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		s.log.Warn("audio frame without session id", slog.String("subject", msg.Subject))
		return
	}

	var samples []float32
	if len(frame.PCM) > 0 {
		decoded, err := decodeFrame(frame)
		if err != nil {
			s.log.Warn("dropping audio frame",
				slog.String("session_id", frame.SessionID),
				slog.Int("sequence", frame.Sequence),
				slogError(err))
			if !frame.Final {
				return
			}
		}
		samples = decoded
	}

	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	opened := state == nil
	if opened {
		state = &sessionState{}
		s.sessions[frame.SessionID] = state
	}
	state.Buffer = append(state.Buffer, samples...)
	s.mu.Unlock()

	if opened && s.store != nil {
		if err := s.store.AppendSession(s.ctx, frame.SessionID, sessionSource); err != nil {
			s.log.Warn("failed to record session", slog.String("session_id", frame.SessionID), slogError(err))
		}
	}

	s.scheduleTranscription(frame.SessionID, frame.Final)
}

func decodeFrame(frame protocol.AudioFrame) ([]float32, error) {
	mono, err := audio.DecodePCM16(frame.PCM, frame.Channels)
	if err != nil {
		return nil, err
	}
	buf, err := audio.Buffer{Samples: mono, SampleRate: float64(frame.SampleRate)}.To16kMono()
	if err != nil {
		return nil, err
	}
	return buf.Samples, nil
}

// scheduleTranscription starts a segment once a full chunk is buffered, or
// flushes the session when final is set.
func (s *Service) scheduleTranscription(sessionID string, final bool) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.Inflight {
		if final {
			state.PendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	var chunk []float32
	if final {
		chunk = state.Buffer
		state.Buffer = nil
	} else {
		if len(state.Buffer) < s.cfg.ChunkSamples {
			s.mu.Unlock()
			return
		}
		chunk = append([]float32(nil), state.Buffer[:s.cfg.ChunkSamples]...)
		state.Buffer = append(state.Buffer[:0:0], state.Buffer[s.cfg.ChunkSamples:]...)
	}
	state.Inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSegment(sessionID, chunk, final)
	}()
}

func (s *Service) runSegment(sessionID string, chunk []float32, final bool) {
	var outcome engine.Outcome
	if len(chunk) > 0 {
		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.TranscribeTimeoutMS)*time.Millisecond)
		result, err := s.stt.Transcribe(ctx, chunk)
		cancel()
		if err != nil {
			s.log.Warn("segment transcription failed", slog.String("session_id", sessionID), slogError(err))
		} else {
			outcome = result
		}
	}
	text := strings.TrimSpace(outcome.Text)

	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	state.Inflight = false
	state.TotalSamples += len(chunk)
	if text != "" {
		state.Texts = append(state.Texts, text)
		state.ConfidenceSum += outcome.Confidence
	}
	var summary protocol.Transcript
	var totalSamples int
	if final {
		summary = summarize(sessionID, state)
		totalSamples = state.TotalSamples
		delete(s.sessions, sessionID)
	}
	pendingFinal := state.PendingFinal
	more := len(state.Buffer) >= s.cfg.ChunkSamples
	s.mu.Unlock()

	if final {
		s.publishTranscript(summary, totalSamples)
		return
	}
	if text != "" && s.cfg.PublishPartial {
		s.publishTranscript(protocol.Transcript{
			SessionID:  sessionID,
			Text:       text,
			Partial:    true,
			Timestamp:  time.Now().UTC(),
			Confidence: outcome.Confidence,
			Segments:   1,
		}, len(chunk))
	}
	switch {
	case pendingFinal:
		s.scheduleTranscription(sessionID, true)
	case more:
		s.scheduleTranscription(sessionID, false)
	}
}

// summarize joins segment texts into the final transcript with mean confidence.
func summarize(sessionID string, state *sessionState) protocol.Transcript {
	msg := protocol.Transcript{
		SessionID: sessionID,
		Text:      strings.Join(state.Texts, " "),
		Timestamp: time.Now().UTC(),
		Segments:  len(state.Texts),
	}
	if n := len(state.Texts); n > 0 {
		msg.Confidence = state.ConfidenceSum / float64(n)
	}
	return msg
}

func (s *Service) publishTranscript(msg protocol.Transcript, samples int) {
	if msg.Text == "" {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if !msg.Partial {
		subject = protocol.SubjectTranscriptFinal
	}
	if err := s.bus.PublishJSON(subject, msg); err != nil {
		s.log.Warn("failed to publish transcript", slogError(err))
	}
	if s.store == nil {
		return
	}
	err := s.store.AppendTranscript(s.ctx, transcriptstore.Transcript{
		SessionID:  msg.SessionID,
		Text:       msg.Text,
		Confidence: msg.Confidence,
		Final:      !msg.Partial,
		Samples:    samples,
		CreatedAt:  msg.Timestamp,
	})
	if err != nil {
		s.log.Warn("failed to record transcript", slog.String("session_id", msg.SessionID), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
