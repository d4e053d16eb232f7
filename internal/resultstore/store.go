package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
	_ "modernc.org/sqlite"

	diffimage "snapdiff/internal/diff/image"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    reference   TEXT NOT NULL,
    candidate   TEXT NOT NULL,
    fuzz        REAL NOT NULL,
    started_at  TEXT NOT NULL,
    finished_at TEXT,
    pairs       INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS results (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id         TEXT NOT NULL REFERENCES runs(id),
    pair_id        TEXT NOT NULL,
    diff_path      TEXT NOT NULL,
    fuzz           REAL NOT NULL,
    precision_bits REAL NOT NULL,
    absolute_error INTEGER NOT NULL,
    regions        TEXT NOT NULL DEFAULT '[]',
    created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_diff_path ON results(diff_path, fuzz);
`

type Run struct {
	ID         string
	Reference  string
	Candidate  string
	Fuzz       float64
	StartedAt  time.Time
	FinishedAt time.Time
	Pairs      int
	Skipped    int
}

// Store keeps the history of runs and the metrics of every pair compared in
// them, so later runs can report metrics for diffs they did not recompute.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Errorf("failed to open result store: %w", err)
	}
	// Writes come from several comparison workers.
	db.SetMaxOpenConns(1)

	s, err := NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, xerrors.Errorf("failed to create result store schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a run and returns its ID.
func (s *Store) CreateRun(ctx context.Context, reference string, candidate string, fuzz float64) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, reference, candidate, fuzz, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, reference, candidate, fuzz, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", xerrors.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, pairs int, skipped int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, pairs = ?, skipped = ? WHERE id = ?`,
		s.now().UTC().Format(time.RFC3339Nano), pairs, skipped, runID,
	)
	if err != nil {
		return xerrors.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

func (s *Store) RecordResult(ctx context.Context, runID string, pairID string, fuzz float64, result diffimage.DiffResult) error {
	regions, err := json.Marshal(result.Regions)
	if err != nil {
		return xerrors.Errorf("failed to marshal regions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (run_id, pair_id, diff_path, fuzz, precision_bits, absolute_error, regions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, pairID, result.DiffImagePath, fuzz, result.PrecisionBits, result.AbsoluteError, string(regions),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return xerrors.Errorf("failed to record result for %s: %w", pairID, err)
	}
	return nil
}

// Latest returns the most recent result recorded for diffPath at the given
// fuzz, or nil when there is none.
func (s *Store) Latest(ctx context.Context, diffPath string, fuzz float64) (*diffimage.DiffResult, error) {
	var (
		result  diffimage.DiffResult
		regions string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT diff_path, precision_bits, absolute_error, regions FROM results
		 WHERE diff_path = ? AND fuzz = ?
		 ORDER BY id DESC LIMIT 1`,
		diffPath, fuzz,
	).Scan(&result.DiffImagePath, &result.PrecisionBits, &result.AbsoluteError, &regions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("failed to query result for %s: %w", diffPath, err)
	}

	if err := json.Unmarshal([]byte(regions), &result.Regions); err != nil {
		return nil, xerrors.Errorf("failed to unmarshal regions: %w", err)
	}
	return &result, nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reference, candidate, fuzz, started_at, COALESCE(finished_at, ''), pairs, skipped
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, xerrors.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                     Run
			startedAt, finishedAt string
		)
		if err := rows.Scan(&r.ID, &r.Reference, &r.Candidate, &r.Fuzz, &startedAt, &finishedAt, &r.Pairs, &r.Skipped); err != nil {
			return nil, xerrors.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if finishedAt != "" {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
