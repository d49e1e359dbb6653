package transcriptstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-asr/internal/config"
	_ "modernc.org/sqlite"
)

// Transcript is one recorded recognition result.
type Transcript struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Final      bool      `json:"final"`
	Samples    int       `json:"samples"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store wraps a SQLite-backed transcript history.
type Store struct {
	db    *sql.DB
	cfg   config.TranscriptStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the transcript store according to config. Ephemeral mode
// keeps nothing and never touches disk.
func Open(ctx context.Context, cfg config.TranscriptStoreConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("component", "transcript-store"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("transcript store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("transcript store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    source TEXT,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    confidence REAL NOT NULL,
    final INTEGER NOT NULL,
    samples INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_created ON transcripts(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// AppendSession ensures a session row exists. source records where the audio
// came from, e.g. "http" or "bus".
func (s *Store) AppendSession(ctx context.Context, sessionID, source string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, source, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET source=excluded.source`,
		sessionID, source, s.clock().UnixNano())
	return err
}

// AppendTranscript records a transcript, creating its session row when needed.
func (s *Store) AppendTranscript(ctx context.Context, tr Transcript) (err error) {
	if s.disabled() {
		return nil
	}
	if tr.SessionID == "" {
		return errors.New("transcript session id must not be empty")
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = s.clock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(session_id, source, created_at) VALUES(?, '', ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		tr.SessionID, tr.CreatedAt.UnixNano()); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, text, confidence, final, samples, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		tr.SessionID, tr.Text, tr.Confidence, tr.Final, tr.Samples, tr.CreatedAt.UnixNano()); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// ListSessionTranscripts retrieves up to limit transcripts for a session ordered ascending by time.
func (s *Store) ListSessionTranscripts(ctx context.Context, sessionID string, limit int) ([]Transcript, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, confidence, final, samples, created_at
		 FROM transcripts WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transcripts []Transcript
	for rows.Next() {
		var tr Transcript
		var created int64
		if err := rows.Scan(&tr.ID, &tr.SessionID, &tr.Text, &tr.Confidence, &tr.Final, &tr.Samples, &created); err != nil {
			return nil, err
		}
		tr.CreatedAt = time.Unix(0, created).UTC()
		transcripts = append(transcripts, tr)
	}
	return transcripts, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
// Both modes drop transcripts older than retention_days; only session mode
// also caps history at the newest max_sessions sessions.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.RetentionMode == "session" && s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
