package transcriptstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-asr/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.TranscriptStoreConfig{RetentionMode: "ephemeral"}
	ts, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })
	if ts.db != nil {
		t.Fatal("ephemeral store opened a database")
	}
	if err := ts.AppendTranscript(ctx, Transcript{SessionID: "s", Text: "dropped"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := ts.ListSessionTranscripts(ctx, "s", 10)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected nothing retained, got %v (%v)", got, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	cfg := config.TranscriptStoreConfig{Path: filepath.Join(t.TempDir(), "transcripts.db"), RetentionMode: "session"}
	ts, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open transcript store: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })

	sessionID := "session-123"
	if err := ts.AppendSession(ctx, sessionID, "http"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := ts.AppendTranscript(ctx, Transcript{SessionID: sessionID, Text: "turn on", Confidence: 0.5, Samples: 16000}); err != nil {
		t.Fatalf("append partial: %v", err)
	}
	if err := ts.AppendTranscript(ctx, Transcript{SessionID: sessionID, Text: "turn on the lights", Confidence: 0.8, Final: true, Samples: 32000}); err != nil {
		t.Fatalf("append final: %v", err)
	}
	if err := ts.AppendTranscript(ctx, Transcript{SessionID: "implicit", Text: "created on demand"}); err != nil {
		t.Fatalf("append without session: %v", err)
	}

	got, err := ts.ListSessionTranscripts(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 transcripts, got %d", len(got))
	}
	if got[0].Final || got[0].Text != "turn on" {
		t.Fatalf("unexpected first transcript %+v", got[0])
	}
	if !got[1].Final || got[1].Confidence != 0.8 || got[1].Samples != 32000 {
		t.Fatalf("unexpected final transcript %+v", got[1])
	}
	if got[1].CreatedAt.IsZero() {
		t.Fatal("expected created_at to be populated")
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	ctx := context.Background()
	cfg := config.TranscriptStoreConfig{Path: filepath.Join(t.TempDir(), "transcripts.db"), RetentionMode: "session", RetentionDays: 1, MaxSessions: 1}
	ts, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open transcript store: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })

	ts.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := ts.AppendTranscript(ctx, Transcript{SessionID: "old-session", Text: "stale"}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}

	ts.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := ts.AppendTranscript(ctx, Transcript{SessionID: "new-session", Text: "fresh"}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}
	if err := ts.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	old, err := ts.ListSessionTranscripts(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(old) != 0 {
		t.Fatal("expected old session pruned")
	}
	fresh, err := ts.ListSessionTranscripts(ctx, "new-session", 10)
	if err != nil || len(fresh) != 1 {
		t.Fatalf("expected new session kept, got %v (%v)", fresh, err)
	}
}

func TestPruneSessionCapByMode(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		mode string
		kept int
	}{
		{"session", 2},
		{"persistent", 3},
	} {
		t.Run(tc.mode, func(t *testing.T) {
			cfg := config.TranscriptStoreConfig{Path: filepath.Join(t.TempDir(), "transcripts.db"), RetentionMode: tc.mode, RetentionDays: 30, MaxSessions: 2}
			ts, err := Open(ctx, cfg, newLogger())
			if err != nil {
				t.Fatalf("open transcript store: %v", err)
			}
			t.Cleanup(func() { _ = ts.Close() })

			base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
			for i, id := range []string{"a", "b", "c"} {
				ts.clock = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
				if err := ts.AppendSession(ctx, id, "bus"); err != nil {
					t.Fatalf("append session: %v", err)
				}
				if err := ts.AppendTranscript(ctx, Transcript{SessionID: id, Text: "hello " + id}); err != nil {
					t.Fatalf("append transcript: %v", err)
				}
			}
			if err := ts.Prune(ctx); err != nil {
				t.Fatalf("prune: %v", err)
			}

			kept := 0
			for _, id := range []string{"a", "b", "c"} {
				got, err := ts.ListSessionTranscripts(ctx, id, 10)
				if err != nil {
					t.Fatalf("list transcripts: %v", err)
				}
				kept += len(got)
			}
			if kept != tc.kept {
				t.Fatalf("expected %d sessions kept, got %d", tc.kept, kept)
			}
			if tc.mode == "session" {
				if got, _ := ts.ListSessionTranscripts(ctx, "a", 10); len(got) != 0 {
					t.Fatal("expected the oldest session to be dropped")
				}
			}
		})
	}
}
