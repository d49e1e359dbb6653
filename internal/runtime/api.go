package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/capability"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/stt"
	"github.com/loqalabs/loqa-asr/internal/transcriptstore"
)

// healthChecker is a component that can hold back readiness.
type healthChecker interface {
	Healthy() bool
}

type nodeQuerier interface {
	Query(filter func(capability.NodeInfo) bool) []capability.NodeInfo
}

// api serves the HTTP surface of the daemon. store and nodes may be nil.
type api struct {
	stt       *stt.Service
	store     *transcriptstore.Store
	checks    map[string]healthChecker
	nodes     nodeQuerier
	engineCfg config.EngineConfig
	maxBody   int64
	logger    *slog.Logger
}

type modelsResponse struct {
	Engine      string `json:"engine"`
	ModelsExist bool   `json:"models_exist"`
	ModelPath   string `json:"model_path,omitempty"`
	State       string `json:"state"`
}

type transcribeResponse struct {
	SessionID       string  `json:"session_id"`
	Text            string  `json:"text"`
	Confidence      float64 `json:"confidence"`
	AudioDurationMS int64   `json:"audio_duration_ms"`
	ProcessingMS    int64   `json:"processing_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.HandleFunc("GET /v1/models", a.handleModels)
	mux.HandleFunc("POST /v1/initialize", a.handleInitialize)
	mux.HandleFunc("POST /v1/transcribe", a.handleTranscribe)
	mux.HandleFunc("GET /v1/sessions/{id}/transcripts", a.handleSessionTranscripts)
	mux.HandleFunc("GET /v1/nodes", a.handleNodes)
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	var pending []string
	if a.stt.State() != stt.StateInitialized {
		pending = append(pending, "stt")
	}
	for _, name := range slices.Sorted(maps.Keys(a.checks)) {
		if !a.checks[name].Healthy() {
			pending = append(pending, name)
		}
	}
	if len(pending) == 0 {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready: " + strings.Join(pending, ",")))
}

func (a *api) handleModels(w http.ResponseWriter, _ *http.Request) {
	resp := modelsResponse{
		Engine:      a.engineCfg.Mode,
		ModelsExist: stt.ModelsExist(a.engineCfg),
		State:       a.stt.State().String(),
	}
	if path, err := stt.ModelPath(a.engineCfg); err == nil {
		resp.ModelPath = path
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if err := a.stt.Initialize(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": a.stt.State().String()})
}

func (a *api) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
	if err != nil {
		a.writeError(w, err)
		return
	}
	buf, err := audio.ReadWAV(bytes.NewReader(body))
	if err != nil {
		a.writeError(w, err)
		return
	}
	mono, err := buf.To16kMono()
	if err != nil {
		a.writeError(w, err)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	start := time.Now()
	out, err := a.stt.Transcribe(r.Context(), mono.Samples)
	if err != nil {
		a.writeError(w, err)
		return
	}
	processing := time.Since(start)

	a.record(r.Context(), sessionID, out.Text, out.Confidence, len(mono.Samples))
	a.logger.Info("transcribed upload",
		slog.String("session_id", sessionID),
		slog.Duration("audio", buf.Duration()),
		slog.Duration("processing", processing))

	writeJSON(w, http.StatusOK, transcribeResponse{
		SessionID:       sessionID,
		Text:            out.Text,
		Confidence:      out.Confidence,
		AudioDurationMS: buf.Duration().Milliseconds(),
		ProcessingMS:    processing.Milliseconds(),
	})
}

func (a *api) record(ctx context.Context, sessionID, text string, confidence float64, samples int) {
	if a.store == nil || text == "" {
		return
	}
	if err := a.store.AppendSession(ctx, sessionID, "http"); err != nil {
		a.logger.Warn("failed to record session", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return
	}
	err := a.store.AppendTranscript(ctx, transcriptstore.Transcript{
		SessionID:  sessionID,
		Text:       text,
		Confidence: confidence,
		Final:      true,
		Samples:    samples,
	})
	if err != nil {
		a.logger.Warn("failed to record transcript", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
}

func (a *api) handleSessionTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	transcripts, err := a.store.ListSessionTranscripts(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if transcripts == nil {
		transcripts = []transcriptstore.Transcript{}
	}
	writeJSON(w, http.StatusOK, transcripts)
}

// handleNodes lists peers advertising transcription; ready=true keeps only
// those whose engine is initialized.
func (a *api) handleNodes(w http.ResponseWriter, r *http.Request) {
	if a.nodes == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "capability announcements are disabled"})
		return
	}
	filter := capability.WithCapabilityFilter(capability.Transcribe)
	switch r.URL.Query().Get("ready") {
	case "":
	case "true":
		filter = capability.WithAttributeFilter(capability.Transcribe, "ready", "true")
	case "false":
		filter = capability.WithAttributeFilter(capability.Transcribe, "ready", "false")
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "ready must be true or false"})
		return
	}
	nodes := a.nodes.Query(filter)
	slices.SortFunc(nodes, func(x, y capability.NodeInfo) int { return strings.Compare(x.ID, y.ID) })
	if nodes == nil {
		nodes = []capability.NodeInfo{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Warn("request failed", slog.Int("status", status), slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var (
		maxBytes *http.MaxBytesError
		initErr  *stt.InitializationError
		trErr    *stt.TranscriptionError
	)
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, stt.ErrInvalidAudio):
		return http.StatusBadRequest
	case errors.Is(err, stt.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, stt.ErrPlatformUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, stt.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &initErr), errors.As(err, &trErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
