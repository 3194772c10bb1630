package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/supercheck-io/supercheck/internal/apperr"
)

// ErrNotFound is returned when a run row is missing.
var ErrNotFound = errors.New("run: not found")

// DBTX is the subset of pgx used by this store, satisfied by both
// *pgxpool.Pool and pgx.Tx so admission (C3) can run CreateRun inside the
// same transaction as its capacity checks.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the State Store Client (C1) for the runs entity.
type Store struct {
	db DBTX
}

// NewStore creates a Store bound to db.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// CreateRun persists a new run in the queued state (§4.1: the run record is
// the single source of truth for status; it is created before the job is
// handed to the queue substrate).
func (s *Store) CreateRun(ctx context.Context, projectID uuid.UUID, jobID *uuid.UUID, trigger Trigger, location string, meta Metadata) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("run: generate id: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO runs (id, job_id, project_id, status, trigger, location, started_at, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), $7, now())`,
		id, jobID, projectID, StatusQueued, trigger, location, meta,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("run: create: %w", err)
	}
	return id, nil
}

// TransitionRun moves a run from a specific expected state to a new one
// (§4.5 state machine). Any row not currently in `from` is left untouched
// and reported as a state conflict rather than silently overwritten.
func (s *Store) TransitionRun(ctx context.Context, runID uuid.UUID, from, to Status, durationMS *int64, errorDetails *string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = now(), duration_ms = $2, error_details = $3
		 WHERE id = $4 AND status = $5`,
		to, durationMS, errorDetails, runID, from,
	)
	if err != nil {
		return fmt.Errorf("run: transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindStateConflict, fmt.Sprintf("run is not in status %q", from))
	}
	return nil
}

// MarkRunning transitions a leased run from queued to running with no
// completion fields set.
func (s *Store) MarkRunning(ctx context.Context, runID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE runs SET status = $1 WHERE id = $2 AND status = $3`,
		StatusRunning, runID, StatusQueued,
	)
	if err != nil {
		return fmt.Errorf("run: mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindStateConflict, "run is not queued")
	}
	return nil
}

// Cancel performs the unconditional cancellation write of §4.2/§4.9: it sets
// cancelled whenever the run has not already reached a terminal status, and
// is a no-op (not an error) once it has.
func (s *Store) Cancel(ctx context.Context, runID uuid.UUID) error {
	terminal := []Status{StatusPassed, StatusFailed, StatusError, StatusCancelled, StatusTimedOut}
	tag, err := s.db.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = now() WHERE id = $2 AND status != ALL($3)`,
		StatusCancelled, runID, terminal,
	)
	if err != nil {
		return fmt.Errorf("run: cancel: %w", err)
	}
	_ = tag
	return nil
}

// GetRun loads a single run by id.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (Run, error) {
	var r Run
	err := s.db.QueryRow(ctx,
		`SELECT id, job_id, project_id, status, trigger, location, started_at, completed_at, duration_ms, error_details, artifact_paths, metadata, created_at
		 FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.JobID, &r.ProjectID, &r.Status, &r.Trigger, &r.Location, &r.StartedAt, &r.CompletedAt, &r.DurationMS, &r.ErrorDetails, &r.ArtifactPaths, &r.Metadata, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("run: get: %w", err)
	}
	return r, nil
}

// AppendArtifactPath records an uploaded artifact's storage key against the run.
func (s *Store) AppendArtifactPath(ctx context.Context, runID uuid.UUID, path string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE runs SET artifact_paths = array_append(artifact_paths, $1) WHERE id = $2`,
		path, runID,
	)
	if err != nil {
		return fmt.Errorf("run: append artifact path: %w", err)
	}
	return nil
}

// ListByProject returns a project's runs newest-first, offset-paginated for
// the run-listing endpoint.
func (s *Store) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]Run, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, job_id, project_id, status, trigger, location, started_at, completed_at, duration_ms, error_details, metadata, created_at
		 FROM runs WHERE project_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		projectID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("run: list by project: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.JobID, &r.ProjectID, &r.Status, &r.Trigger, &r.Location, &r.StartedAt, &r.CompletedAt, &r.DurationMS, &r.ErrorDetails, &r.Metadata, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("run: list by project: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run: list by project: %w", err)
	}
	return out, nil
}

// CountByProject counts all runs for a project, for the run-listing
// endpoint's total_items.
func (s *Store) CountByProject(ctx context.Context, projectID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM runs WHERE project_id = $1`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("run: count by project: %w", err)
	}
	return n, nil
}

// CountByProjectAndStatus counts runs for a project currently in any of the
// given statuses, used by admission's capacity check (§4.3 step 2).
func (s *Store) CountByProjectAndStatus(ctx context.Context, projectID uuid.UUID, statuses ...Status) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM runs WHERE project_id = $1 AND status = ANY($2)`,
		projectID, statuses,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("run: count by project and status: %w", err)
	}
	return n, nil
}

// CountEarlierQueued reports how many runs for the project were queued
// strictly before createdBefore, used to report a submission's FIFO
// position (§4.3 step 6).
func (s *Store) CountEarlierQueued(ctx context.Context, projectID uuid.UUID, createdBefore time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM runs WHERE project_id = $1 AND status = $2 AND created_at < $3`,
		projectID, StatusQueued, createdBefore,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("run: count earlier queued: %w", err)
	}
	return n, nil
}

// Variable is a project-scoped run variable (§4.1: ResolveProjectVariables).
// Secret variables are decrypted by the caller via SecretCipher before use.
type Variable struct {
	Key         string
	Value       string
	IsSecret    bool
	Nonce       []byte
	Ciphertext  []byte
}

// ResolveProjectVariables loads a project's variables, leaving secret values
// encrypted (Nonce/Ciphertext set, Value empty) for the caller to decrypt
// with a SecretCipher bound to that project's key.
func (s *Store) ResolveProjectVariables(ctx context.Context, projectID uuid.UUID) ([]Variable, error) {
	rows, err := s.db.Query(ctx,
		`SELECT key, value, is_secret, nonce, ciphertext FROM project_variables WHERE project_id = $1`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("run: resolve project variables: %w", err)
	}
	defer rows.Close()

	var out []Variable
	for rows.Next() {
		var v Variable
		if err := rows.Scan(&v.Key, &v.Value, &v.IsSecret, &v.Nonce, &v.Ciphertext); err != nil {
			return nil, fmt.Errorf("run: scan project variable: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run: iterate project variables: %w", err)
	}
	return out, nil
}

// Decrypted resolves v's plaintext value, decrypting it with cipher when it
// is a secret.
func (v Variable) Decrypted(cipher *SecretCipher) (string, error) {
	if !v.IsSecret {
		return v.Value, nil
	}
	return cipher.Decrypt(v.Nonce, v.Ciphertext)
}
