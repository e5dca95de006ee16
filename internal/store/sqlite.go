package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/recall-study/internal/domain"
	"github.com/ashureev/recall-study/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries    = 3
	writeRetryDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS participants (
		participant_id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_participants_last_seen ON participants(last_seen_at);

	CREATE TABLE IF NOT EXISTS results (
		result_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		participant_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		record_json TEXT NOT NULL,
		transcript_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_created ON results(created_at);
	CREATE INDEX IF NOT EXISTS idx_results_participant ON results(participant_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetParticipant retrieves a participant by ID.
func (s *SQLiteStore) GetParticipant(ctx context.Context, participantID string) (*domain.Participant, error) {
	query := `
		SELECT participant_id, label, last_seen_at, created_at, updated_at
		FROM participants WHERE participant_id = ?`

	var p domain.Participant
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, participantID).Scan(
		&p.ParticipantID, &p.Label, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan participant row: %w", err)
	}

	p.LastSeenAt = time.Unix(lastSeen, 0)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// UpsertParticipant creates or updates a participant record.
func (s *SQLiteStore) UpsertParticipant(ctx context.Context, p *domain.Participant) error {
	query := `
	INSERT INTO participants (participant_id, label, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(participant_id) DO UPDATE SET
		label = excluded.label,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, writeRetries, writeRetryDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			p.ParticipantID, p.Label, p.LastSeenAt.Unix(),
			p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a participant.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, participantID string, lastSeen time.Time) error {
	query := `UPDATE participants SET last_seen_at = ?, updated_at = ? WHERE participant_id = ?`

	var result sql.Result
	err := shared.RetryOnConflict(ctx, writeRetries, writeRetryDelay, func() error {
		var err error
		result, err = s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), participantID)
		return err
	})
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "participant_id", participantID)
	}
	return nil
}

// SaveResult stores an exported study result. A session is stored once;
// saving it again replaces the earlier record.
func (s *SQLiteStore) SaveResult(ctx context.Context, r *domain.StoredResult) error {
	recordJSON, err := json.Marshal(r.Record)
	if err != nil {
		return fmt.Errorf("encode result record: %w", err)
	}

	query := `
	INSERT INTO results (result_id, session_id, participant_id, file_name, record_json, transcript_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		file_name = excluded.file_name,
		record_json = excluded.record_json,
		transcript_json = excluded.transcript_json,
		created_at = excluded.created_at`

	var transcript any
	if r.TranscriptJSON != "" {
		transcript = r.TranscriptJSON
	}

	err = shared.RetryOnConflict(ctx, writeRetries, writeRetryDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			r.ResultID, r.SessionID, r.ParticipantID, r.FileName,
			string(recordJSON), transcript, r.CreatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// GetResult retrieves a stored result by ID.
func (s *SQLiteStore) GetResult(ctx context.Context, resultID string) (*domain.StoredResult, error) {
	query := `
		SELECT result_id, session_id, participant_id, file_name, record_json, transcript_json, created_at
		FROM results WHERE result_id = ?`

	r, err := scanResult(s.db.QueryRowContext(ctx, query, resultID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListResults returns the newest results first.
func (s *SQLiteStore) ListResults(ctx context.Context, limit int) ([]*domain.StoredResult, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT result_id, session_id, participant_id, file_name, record_json, transcript_json, created_at
		FROM results ORDER BY created_at DESC, result_id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close results rows", "error", closeErr)
		}
	}()

	var out []*domain.StoredResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// DeleteInactiveParticipants removes participants unseen for ttl that never stored a result.
func (s *SQLiteStore) DeleteInactiveParticipants(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		DELETE FROM participants
		WHERE last_seen_at < ?
		AND participant_id NOT IN (SELECT participant_id FROM results)`

	var result sql.Result
	err := shared.RetryOnConflict(ctx, writeRetries, writeRetryDelay, func() error {
		var err error
		result, err = s.db.ExecContext(ctx, query, threshold)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete inactive participants: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*domain.StoredResult, error) {
	var r domain.StoredResult
	var recordJSON string
	var transcript sql.NullString
	var createdAt int64

	if err := row.Scan(
		&r.ResultID, &r.SessionID, &r.ParticipantID, &r.FileName,
		&recordJSON, &transcript, &createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan result row: %w", err)
	}
	if err := json.Unmarshal([]byte(recordJSON), &r.Record); err != nil {
		return nil, fmt.Errorf("decode result record %s: %w", r.ResultID, err)
	}
	r.TranscriptJSON = transcript.String
	r.CreatedAt = time.UnixMilli(createdAt)
	return &r, nil
}
