// Package store owns the ordered collection of finalized transcripts and the
// recorded audio files they reference.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"talkey/internal/domain"
)

// ErrNotFound is returned when a transcript id does not exist.
var ErrNotFound = errors.New("transcript not found")

// Store is the SQLite-backed transcript collection, newest first. The
// orchestrator is the only insert path; deletion comes from user commands
// and never disturbs an in-progress session.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id        TEXT PRIMARY KEY,
	createdAt REAL NOT NULL,
	text      TEXT NOT NULL,
	audioPath TEXT NOT NULL,
	duration  REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_createdAt ON transcripts(createdAt DESC);
`

// Open opens (or creates) the transcript database with WAL enabled.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert adds a finalized transcript. Empty text is rejected; a transcript
// record is never created for an empty transcription.
func (s *Store) Insert(t domain.Transcript) error {
	if t.Text == "" {
		return errors.New("refusing to store empty transcript text")
	}
	_, err := s.db.Exec(`
		INSERT INTO transcripts (id, createdAt, text, audioPath, duration)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, unixFromTime(t.CreatedAt), t.Text, t.AudioPath, t.Duration)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// List returns up to limit transcripts, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]domain.Transcript, error) {
	query := `
		SELECT id, createdAt, text, audioPath, duration
		FROM transcripts
		ORDER BY createdAt DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []domain.Transcript
	for rows.Next() {
		var t domain.Transcript
		var createdAt float64
		if err := rows.Scan(&t.ID, &createdAt, &t.Text, &t.AudioPath, &t.Duration); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		t.CreatedAt = timeFromUnix(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes one transcript and returns the audio path it referenced so
// the caller can release the file.
func (s *Store) Delete(id string) (string, error) {
	var audioPath string
	err := s.db.QueryRow(`SELECT audioPath FROM transcripts WHERE id = ?`, id).Scan(&audioPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lookup transcript: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM transcripts WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("delete transcript: %w", err)
	}
	return audioPath, nil
}

// Clear removes every transcript and returns all referenced audio paths.
func (s *Store) Clear() ([]string, error) {
	rows, err := s.db.Query(`SELECT audioPath FROM transcripts`)
	if err != nil {
		return nil, fmt.Errorf("query audio paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan audio path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM transcripts`); err != nil {
		return nil, fmt.Errorf("clear transcripts: %w", err)
	}
	return paths, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
