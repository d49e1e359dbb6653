package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-asr/internal/config"
)

const fakeRecognizer = `#!/bin/sh
audio=""
while [ $# -gt 0 ]; do
  case "$1" in
    --audio) audio="$2"; shift ;;
  esac
  shift
done
[ -f "$audio" ] || { echo "missing audio" >&2; exit 2; }
printf '{"text":"hello from %s","confidence":0.75}' "$(basename "$audio" | cut -c1-9)"
`

const fakeInstaller = `#!/bin/sh
model=""
while [ $# -gt 0 ]; do
  case "$1" in
    --model) model="$2"; shift ;;
  esac
  shift
done
mkdir -p "$(dirname "$model")" && : > "$model"
`

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecEngineTranscribe(t *testing.T) {
	ctx := context.Background()
	script := writeScript(t, "fake-asr.sh", fakeRecognizer)
	installer := writeScript(t, "fake-install.sh", fakeInstaller)
	modelPath := filepath.Join(t.TempDir(), "models", "fake.bin")

	eng, err := NewExec(config.EngineConfig{Mode: "exec", Command: script, InitCommand: installer, ModelPath: modelPath, Language: "en"})
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	if eng.ModelsPresent() {
		t.Fatal("expected model to be absent before initialize")
	}
	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !eng.ModelsPresent() {
		t.Fatal("expected init command to install the model")
	}

	out, err := eng.Transcribe(ctx, make([]float32, 1600))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if out.Text != "hello from loqa_asr_" {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if out.Confidence != 0.75 {
		t.Fatalf("unexpected confidence %v", out.Confidence)
	}
}

func TestExecEngineFailures(t *testing.T) {
	ctx := context.Background()

	silent := writeScript(t, "silent.sh", "#!/bin/sh\nexit 0\n")
	eng, err := NewExec(config.EngineConfig{Mode: "exec", Command: silent})
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	if _, err := eng.Transcribe(ctx, make([]float32, 10)); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}

	failing := writeScript(t, "failing.sh", "#!/bin/sh\necho 'model corrupt' >&2\nexit 3\n")
	eng, err = NewExec(config.EngineConfig{Mode: "exec", Command: failing})
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	if _, err := eng.Transcribe(ctx, make([]float32, 10)); err == nil || !strings.Contains(err.Error(), "model corrupt") {
		t.Fatalf("expected stderr in error, got %v", err)
	}

	eng, err = NewExec(config.EngineConfig{Mode: "exec", Command: filepath.Join(t.TempDir(), "does-not-exist")})
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	if err := eng.Initialize(ctx); err == nil {
		t.Fatal("expected initialize to fail for a missing command")
	}
}
