package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; existing databases with an older version are rejected.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the
// expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Chunk status values.
const (
	ChunkStatusPending     = "pending"
	ChunkStatusGated       = "gated"
	ChunkStatusTranscribed = "transcribed"
	ChunkStatusFailed      = "failed"
)

// Store manages session and chunk persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// SessionRecord is one capture session row.
type SessionRecord struct {
	ID             string     `json:"id"`
	WireID         uint32     `json:"wire_id"`
	CandidateID    string     `json:"candidate_id"`
	InterviewID    string     `json:"interview_id"`
	DeviceLabel    string     `json:"device_label"`
	SampleRate     int        `json:"sample_rate"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	FramesReceived uint32     `json:"frames_received"`
	FramesLost     uint32     `json:"frames_lost"`
	ChunksEmitted  uint64     `json:"chunks_emitted"`
}

// ChunkRecord is one emitted chunk row.
type ChunkRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Index       uint64    `json:"index"`
	StartSample uint64    `json:"start_sample"`
	EndSample   uint64    `json:"end_sample"`
	SampleRate  int       `json:"sample_rate"`
	DurationMS  int64     `json:"duration_ms"`
	RMS         float64   `json:"rms"`
	Peak        float64   `json:"peak"`
	Clipped     int       `json:"clipped"`
	Status      string    `json:"status"`
	Transcript  string    `json:"transcript,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open opens (creating if necessary) the SQLite database at path and
// initializes or verifies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// A single writer avoids most SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to recreate)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}

	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 5 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		_, lastErr = s.db.ExecContext(ctx, query, args...)
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, rec *SessionRecord) error {
	err := s.execWithRetry(ctx, `
		INSERT INTO sessions (id, wire_id, candidate_id, interview_id, device_label, sample_rate, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WireID, rec.CandidateID, rec.InterviewID, rec.DeviceLabel,
		rec.SampleRate, rec.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", rec.ID, err)
	}
	return nil
}

// EndSession marks a session as ended and records its final counters.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time, framesReceived, framesLost uint32, chunksEmitted uint64) error {
	err := s.execWithRetry(ctx, `
		UPDATE sessions
		SET ended_at = ?, frames_received = ?, frames_lost = ?, chunks_emitted = ?
		WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano), framesReceived, framesLost, chunksEmitted, id,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	return nil
}

// InsertChunk inserts a new chunk row.
func (s *Store) InsertChunk(ctx context.Context, rec *ChunkRecord) error {
	status := rec.Status
	if status == "" {
		status = ChunkStatusPending
	}
	err := s.execWithRetry(ctx, `
		INSERT INTO chunks (id, session_id, idx, start_sample, end_sample, sample_rate,
			duration_ms, rms, peak, clipped, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Index, rec.StartSample, rec.EndSample, rec.SampleRate,
		rec.DurationMS, rec.RMS, rec.Peak, rec.Clipped, status,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert chunk %s: %w", rec.ID, err)
	}
	return nil
}

// SetChunkTranscript records a successful transcription for a chunk.
func (s *Store) SetChunkTranscript(ctx context.Context, id, transcript string, confidence float64) error {
	err := s.execWithRetry(ctx, `
		UPDATE chunks SET status = ?, transcript = ?, confidence = ? WHERE id = ?`,
		ChunkStatusTranscribed, transcript, confidence, id,
	)
	if err != nil {
		return fmt.Errorf("set transcript for chunk %s: %w", id, err)
	}
	return nil
}

// SetChunkStatus updates a chunk's status without touching its transcript.
func (s *Store) SetChunkStatus(ctx context.Context, id, status string) error {
	err := s.execWithRetry(ctx, `UPDATE chunks SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set status for chunk %s: %w", id, err)
	}
	return nil
}

// GetSession returns one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, wire_id, candidate_id, interview_id, device_label, sample_rate,
			started_at, ended_at, frames_received, frames_lost, chunks_emitted
		FROM sessions WHERE id = ?`, id)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wire_id, candidate_id, interview_id, device_label, sample_rate,
			started_at, ended_at, frames_received, frames_lost, chunks_emitted
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// ListChunks returns all chunks for a session in emission order.
func (s *Store) ListChunks(ctx context.Context, sessionID string) ([]*ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, idx, start_sample, end_sample, sample_rate,
			duration_ms, rms, peak, clipped, status, transcript, confidence, created_at
		FROM chunks WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chunks for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var chunks []*ChunkRecord
	for rows.Next() {
		var rec ChunkRecord
		var transcript sql.NullString
		var confidence sql.NullFloat64
		var createdAt string

		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Index, &rec.StartSample, &rec.EndSample,
			&rec.SampleRate, &rec.DurationMS, &rec.RMS, &rec.Peak, &rec.Clipped,
			&rec.Status, &transcript, &confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}

		rec.Transcript = transcript.String
		rec.Confidence = confidence.Float64
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

		chunks = append(chunks, &rec)
	}
	return chunks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var startedAt string
	var endedAt sql.NullString

	if err := row.Scan(&rec.ID, &rec.WireID, &rec.CandidateID, &rec.InterviewID, &rec.DeviceLabel,
		&rec.SampleRate, &startedAt, &endedAt, &rec.FramesReceived, &rec.FramesLost,
		&rec.ChunksEmitted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err == nil {
			rec.EndedAt = &t
		}
	}

	return &rec, nil
}
