// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/customer-engine/pkg/types"
)

// SQLiteStore persists jobs as JSON snapshots in a SQLite database so job
// status survives restarts and can be shared by processes on one host.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and its schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store requires a path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes read-modify-write transactions.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0,
			snapshot TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_finished ON jobs(status, finished_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Create inserts j.
func (s *SQLiteStore) Create(ctx context.Context, j types.Job) error {
	snap, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, subject, status, created_at, finished_at, snapshot) VALUES (?, ?, ?, ?, ?, ?)`,
		j.ID, j.SubjectName, string(j.Status), j.CreatedAt.UnixNano(), unixOrZero(j.FinishedAt), string(snap))
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", j.ID, err)
	}
	return nil
}

// Get loads the job snapshot.
func (s *SQLiteStore) Get(ctx context.Context, id string) (types.Job, error) {
	return s.load(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) load(ctx context.Context, q queryRower, id string) (types.Job, error) {
	var snap string
	err := q.QueryRowContext(ctx, `SELECT snapshot FROM jobs WHERE id = ?`, id).Scan(&snap)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.Job{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	var j types.Job
	if err := json.Unmarshal([]byte(snap), &j); err != nil {
		return types.Job{}, fmt.Errorf("decoding job %s: %w", id, err)
	}
	return j, nil
}

// Update applies fn inside a transaction.
func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*types.Job) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := s.load(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := fn(&j); err != nil {
		return err
	}

	snap, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, finished_at = ?, snapshot = ? WHERE id = ?`,
		string(j.Status), unixOrZero(j.FinishedAt), string(snap), id); err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	return tx.Commit()
}

// Sweep deletes terminal jobs that finished before cutoff.
func (s *SQLiteStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND finished_at > 0 AND finished_at < ?`,
		string(types.StatusCompleted), string(types.StatusCompletedWithErrors), string(types.StatusFailed),
		cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweeping jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting swept jobs: %w", err)
	}
	return int(n), nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
