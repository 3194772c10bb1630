package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when no report exists for an entity.
var ErrNotFound = errors.New("report: not found")

// DBTX is the subset of pgx used by this store.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const reportColumns = `id, entity_type, entity_id, report_path, s3_url, status, created_at`

// Store provides typed access to reports.
type Store struct {
	db DBTX
}

// NewStore creates a Store bound to db.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// Create writes a report row, one per terminal run (and its parent test, if
// any) per §3.
func (s *Store) Create(ctx context.Context, r Report) (Report, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO reports (entity_type, entity_id, report_path, s3_url, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING `+reportColumns,
		r.EntityType, r.EntityID, r.ReportPath, r.S3URL, r.Status,
	)
	var out Report
	err := row.Scan(&out.ID, &out.EntityType, &out.EntityID, &out.ReportPath, &out.S3URL, &out.Status, &out.CreatedAt)
	if err != nil {
		return Report{}, fmt.Errorf("report: create: %w", err)
	}
	return out, nil
}

// GetLatest resolves the most recent report for an entity, used by the
// test-scoped SSE endpoint's strict pass/fail agreement rule (§4.7).
func (s *Store) GetLatest(ctx context.Context, entityType EntityType, entityID uuid.UUID) (Report, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at DESC LIMIT 1`,
		entityType, entityID,
	)
	var out Report
	err := row.Scan(&out.ID, &out.EntityType, &out.EntityID, &out.ReportPath, &out.S3URL, &out.Status, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Report{}, ErrNotFound
	}
	if err != nil {
		return Report{}, fmt.Errorf("report: get latest: %w", err)
	}
	return out, nil
}
