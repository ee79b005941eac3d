package pipeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RunStore persists pipeline run records in sqlite. The record itself is a
// JSON blob; id, timestamps and status are lifted into columns for listing
// without deserialization.
type RunStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunStore opens a run store and ensures its schema.
func NewRunStore(db *sql.DB, log zerolog.Logger) (*RunStore, error) {
	s := &RunStore{
		db:  db,
		log: log.With().Str("component", "run_store").Logger(),
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RunStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id         TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			status     TEXT NOT NULL,
			objective  TEXT NOT NULL,
			payload    BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pipeline_runs_created
			ON pipeline_runs(created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to create pipeline_runs schema: %w", err)
	}
	return nil
}

// Save upserts a run record.
func (s *RunStore) Save(run *RunResult) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to serialize run %s: %w", run.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO pipeline_runs (id, created_at, status, objective, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload
	`, run.ID, run.CreatedAt.UTC().Format(time.RFC3339), string(run.Status), run.Objective, payload)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// Get loads one run by id. Returns sql.ErrNoRows when absent.
func (s *RunStore) Get(id string) (*RunResult, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM pipeline_runs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		return nil, err
	}

	var run RunResult
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("failed to deserialize run %s: %w", id, err)
	}
	return &run, nil
}

// List returns the most recent runs, newest first.
func (s *RunStore) List(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, status, objective
		FROM pipeline_runs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			summary   RunSummary
			createdAt string
			status    string
		)
		if err := rows.Scan(&summary.ID, &createdAt, &status, &summary.Objective); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run timestamp %q: %w", createdAt, err)
		}
		summary.CreatedAt = ts
		summary.Status = RunStatus(status)
		out = append(out, summary)
	}
	return out, rows.Err()
}
