package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	"github.com/kurihiro0119/contribution-mirror/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		branch TEXT NOT NULL DEFAULT '',
		target_branch TEXT NOT NULL,
		since_cursor TEXT NOT NULL DEFAULT '',
		next_cursor TEXT NOT NULL DEFAULT '',
		events_seen INTEGER NOT NULL DEFAULT 0,
		commit_count INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		status TEXT NOT NULL,
		error_code TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS run_commits (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		event_id TEXT NOT NULL,
		sha TEXT NOT NULL,
		message TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_run_commits_event ON run_commits(event_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRun inserts or updates a run
func (s *postgresStorage) SaveRun(ctx context.Context, run *domain.RunRecord) error {
	since, _ := run.Since.MarshalText()
	next, _ := run.Next.MarshalText()

	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, branch, target_branch, since_cursor, next_cursor,
			events_seen, commit_count, state, status, error_code, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			branch = EXCLUDED.branch,
			target_branch = EXCLUDED.target_branch,
			since_cursor = EXCLUDED.since_cursor,
			next_cursor = EXCLUDED.next_cursor,
			events_seen = EXCLUDED.events_seen,
			commit_count = EXCLUDED.commit_count,
			state = EXCLUDED.state,
			status = EXCLUDED.status,
			error_code = EXCLUDED.error_code,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`,
		run.ID,
		run.Branch,
		run.TargetBranch,
		string(since),
		string(next),
		run.EventsSeen,
		run.CommitCount,
		string(run.State),
		string(run.Status),
		run.ErrorCode,
		run.Error,
		run.StartedAt.UTC(),
		finished,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, branch, target_branch, since_cursor, next_cursor, events_seen, commit_count,
	state, status, error_code, error, started_at, finished_at`

// GetRun retrieves one run by id
func (s *postgresStorage) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first
func (s *postgresStorage) ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveCommits replaces the audit trail of a run using COPY
func (s *postgresStorage) SaveCommits(ctx context.Context, runID string, commits []domain.CommitRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_commits WHERE run_id = $1`, runID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("run_commits", "run_id", "seq", "event_id", "sha", "message", "timestamp"))
	if err != nil {
		return err
	}

	for i, c := range commits {
		if _, err := stmt.ExecContext(ctx, runID, i, c.EventID, c.SHA, c.Message, c.Timestamp.UTC()); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to save commit for event %s: %w", c.EventID, err)
		}
	}

	// flush the COPY buffer
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	return tx.Commit()
}

// GetCommits returns the audit trail of a run in replay order
func (s *postgresStorage) GetCommits(ctx context.Context, runID string) ([]domain.CommitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, sha, message, timestamp FROM run_commits
		WHERE run_id = $1
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []domain.CommitRecord
	for rows.Next() {
		var c domain.CommitRecord
		if err := rows.Scan(&c.EventID, &c.SHA, &c.Message, &c.Timestamp); err != nil {
			return nil, err
		}
		c.Timestamp = c.Timestamp.UTC()
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.RunRecord, error) {
	var (
		run         domain.RunRecord
		since, next string
		state       string
		status      string
		finished    sql.NullTime
	)
	err := row.Scan(&run.ID, &run.Branch, &run.TargetBranch, &since, &next,
		&run.EventsSeen, &run.CommitCount, &state, &status, &run.ErrorCode, &run.Error,
		&run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	if err := run.Since.UnmarshalText([]byte(since)); err != nil {
		return nil, fmt.Errorf("run %s has invalid since cursor: %w", run.ID, err)
	}
	if err := run.Next.UnmarshalText([]byte(next)); err != nil {
		return nil, fmt.Errorf("run %s has invalid next cursor: %w", run.ID, err)
	}
	run.State = domain.PublishState(state)
	run.Status = domain.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	if finished.Valid {
		t := finished.Time.UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}
