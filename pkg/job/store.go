package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a job row is missing.
var ErrNotFound = errors.New("job: not found")

// DBTX is the subset of pgx used by this store.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const jobColumns = `id, tenant_id, project_id, name, schedule, location, test_ids, enabled, last_run_at, created_at, updated_at`

// Store provides typed access to jobs.
type Store struct {
	db DBTX
}

// NewStore creates a Store bound to db.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.TenantID, &j.ProjectID, &j.Name, &j.Schedule, &j.Location, &j.TestIDs, &j.Enabled, &j.LastRunAt, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// Get resolves a single job by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("job: get: %w", err)
	}
	return j, nil
}

// ListEnabled returns every enabled job across all tenants, used to seed the
// cron trigger loop's in-memory schedule table at startup and on each
// refresh tick.
func (s *Store) ListEnabled(ctx context.Context) ([]Job, error) {
	rows, err := s.db.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE enabled`)
	if err != nil {
		return nil, fmt.Errorf("job: list enabled: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.TenantID, &j.ProjectID, &j.Name, &j.Schedule, &j.Location, &j.TestIDs, &j.Enabled, &j.LastRunAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("job: scan: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job: iterate: %w", err)
	}
	return out, nil
}

// MarkRun stamps a job's last trigger time.
func (s *Store) MarkRun(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE jobs SET last_run_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("job: mark run: %w", err)
	}
	return nil
}
