package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd       []string
	initCmd   []string
	modelPath string
	cfg       config.EngineConfig
	mu        sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewExec returns an engine that shells out to an external recognizer. The
// command receives --audio <wav> [--model <path>] [--language <code>] and must
// print {"text": ..., "confidence": ...} on stdout.
func NewExec(cfg config.EngineConfig) (Engine, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	var initArgs []string
	if cfg.InitCommand != "" {
		initArgs, err = parseCommand(cfg.InitCommand)
		if err != nil {
			return nil, fmt.Errorf("parse engine init command: %w", err)
		}
	}
	return &execEngine{cmd: args, initCmd: initArgs, modelPath: ResolveModelPath(cfg), cfg: cfg}, nil
}

func parseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	return parser.Parse(command)
}

func (e *execEngine) Initialize(ctx context.Context) error {
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return fmt.Errorf("engine command %q not found: %w", e.cmd[0], err)
	}
	if len(e.initCmd) == 0 {
		return nil
	}

	args := append([]string{}, e.initCmd[1:]...)
	args = append(args, "--model", e.modelPath)
	command := exec.CommandContext(ctx, e.initCmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("engine init command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

func (e *execEngine) ModelsPresent() bool { return pathExists(e.modelPath) }

func (e *execEngine) ModelPath() (string, error) { return e.modelPath, nil }

func (e *execEngine) Transcribe(ctx context.Context, samples []float32) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp("", "loqa_asr_*.wav")
	if err != nil {
		return Outcome{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, samples, audio.TargetSampleRate); err != nil {
		return Outcome{}, err
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name(), "--sample-rate", strconv.Itoa(audio.TargetSampleRate))
	if pathExists(e.modelPath) {
		args = append(args, "--model", e.modelPath)
	}
	if e.cfg.Language != "" && e.cfg.Language != "auto" {
		args = append(args, "--language", e.cfg.Language)
	}
	if e.cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(e.cfg.Threads))
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Outcome{}, fmt.Errorf("engine command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	payload := bytes.TrimSpace(stdout.Bytes())
	if len(payload) == 0 {
		return Outcome{}, ErrNoResult
	}
	var resp execResult
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Outcome{}, fmt.Errorf("decode engine response: %w", err)
	}
	return Outcome{Text: resp.Text, Confidence: resp.Confidence}, nil
}

func (e *execEngine) Cleanup() {}
