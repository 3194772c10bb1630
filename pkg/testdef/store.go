package testdef

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a test definition row is missing.
var ErrNotFound = errors.New("testdef: not found")

// DBTX is the subset of pgx used by this store.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const testColumns = `id, tenant_id, project_id, name, type, script, version, created_at, updated_at`

// Store provides typed access to test definitions.
type Store struct {
	db DBTX
}

// NewStore creates a Store bound to db.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

func scanTest(row pgx.Row) (Test, error) {
	var t Test
	err := row.Scan(&t.ID, &t.TenantID, &t.ProjectID, &t.Name, &t.Type, &t.Script, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// Get resolves a single test definition, scoped defense-in-depth to projectID.
func (s *Store) Get(ctx context.Context, projectID, id uuid.UUID) (Test, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+testColumns+` FROM tests WHERE id = $1 AND project_id = $2`,
		id, projectID,
	)
	t, err := scanTest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Test{}, ErrNotFound
	}
	if err != nil {
		return Test{}, fmt.Errorf("testdef: get: %w", err)
	}
	return t, nil
}

// Create inserts a new test definition at version 1.
func (s *Store) Create(ctx context.Context, t Test) (Test, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO tests (tenant_id, project_id, name, type, script, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 1, now(), now())
		 RETURNING `+testColumns,
		t.TenantID, t.ProjectID, t.Name, t.Type, t.Script,
	)
	created, err := scanTest(row)
	if err != nil {
		return Test{}, fmt.Errorf("testdef: create: %w", err)
	}
	return created, nil
}

// UpdateScript bumps a test definition's version and replaces its script
// body in place; prior script bodies are not kept.
func (s *Store) UpdateScript(ctx context.Context, projectID, id uuid.UUID, script string) (Test, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE tests SET script = $1, version = version + 1, updated_at = now()
		 WHERE id = $2 AND project_id = $3
		 RETURNING `+testColumns,
		script, id, projectID,
	)
	t, err := scanTest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Test{}, ErrNotFound
	}
	if err != nil {
		return Test{}, fmt.Errorf("testdef: update script: %w", err)
	}
	return t, nil
}

// ListByProject returns every test definition owned by a project.
func (s *Store) ListByProject(ctx context.Context, projectID uuid.UUID) ([]Test, error) {
	rows, err := s.db.Query(ctx, `SELECT `+testColumns+` FROM tests WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("testdef: list by project: %w", err)
	}
	defer rows.Close()

	var out []Test
	for rows.Next() {
		var t Test
		if err := rows.Scan(&t.ID, &t.TenantID, &t.ProjectID, &t.Name, &t.Type, &t.Script, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("testdef: scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("testdef: iterate: %w", err)
	}
	return out, nil
}
