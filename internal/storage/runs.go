package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sightline-hq/sightline/internal/model"
)

// CreateRun inserts a new audit run in pending state and returns it.
func (db *DB) CreateRun(ctx context.Context, orgID uuid.UUID, req model.CreateRunRequest) (model.AuditRun, error) {
	run := model.AuditRun{
		ID:        uuid.New(),
		OrgID:     orgID,
		AppID:     req.AppID,
		Name:      req.Name,
		Status:    model.RunStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO audit_runs (id, org_id, app_id, name, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.OrgID, run.AppID, run.Name, string(run.Status), run.CreatedAt,
	)
	if err != nil {
		return model.AuditRun{}, fmt.Errorf("storage: create run: %w", err)
	}
	return run, nil
}

const runColumns = `id, org_id, app_id, name, status, total_queries, completed_queries, started_at, completed_at, created_at`

func scanRun(row pgx.Row) (model.AuditRun, error) {
	var r model.AuditRun
	err := row.Scan(
		&r.ID, &r.OrgID, &r.AppID, &r.Name, &r.Status,
		&r.TotalQueries, &r.CompletedQueries, &r.StartedAt, &r.CompletedAt, &r.CreatedAt,
	)
	return r, err
}

// GetRun retrieves a run by id, scoped to the given org.
func (db *DB) GetRun(ctx context.Context, orgID, id uuid.UUID) (model.AuditRun, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM audit_runs WHERE id = $1 AND org_id = $2`, id, orgID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AuditRun{}, ErrNotFound
		}
		return model.AuditRun{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs for an org, newest first.
func (db *DB) ListRuns(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]model.AuditRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM audit_runs WHERE org_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, orgID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.AuditRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// MarkRunRunning transitions a run to running. The start timestamp is
// stamped only once so a resumed run keeps its original start time.
func (db *DB) MarkRunRunning(ctx context.Context, orgID, id uuid.UUID) error {
	return db.setRunStatus(ctx, orgID, id,
		`UPDATE audit_runs SET status = 'running', started_at = COALESCE(started_at, now())
		 WHERE id = $1 AND org_id = $2`)
}

// MarkRunCompleted transitions a run to completed and stamps completion time.
func (db *DB) MarkRunCompleted(ctx context.Context, orgID, id uuid.UUID) error {
	return db.setRunStatus(ctx, orgID, id,
		`UPDATE audit_runs SET status = 'completed', completed_at = now()
		 WHERE id = $1 AND org_id = $2`)
}

// MarkRunPaused records a user-initiated stop. The run stays resumable.
func (db *DB) MarkRunPaused(ctx context.Context, orgID, id uuid.UUID) error {
	return db.setRunStatus(ctx, orgID, id,
		`UPDATE audit_runs SET status = 'paused' WHERE id = $1 AND org_id = $2`)
}

// MarkRunError records an unrecoverable failure during setup or processing.
func (db *DB) MarkRunError(ctx context.Context, orgID, id uuid.UUID) error {
	return db.setRunStatus(ctx, orgID, id,
		`UPDATE audit_runs SET status = 'error' WHERE id = $1 AND org_id = $2`)
}

// Status transitions retry on serialization conflicts since concurrent
// progress counter bumps touch the same row.
func (db *DB) setRunStatus(ctx context.Context, orgID, id uuid.UUID, query string) error {
	var tag pgconn.CommandTag
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		var execErr error
		tag, execErr = db.pool.Exec(ctx, query, id, orgID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("storage: update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRunQueriesGenerated records the size of a freshly generated batch and
// resets the run to pending so the processing pass can pick it up.
func (db *DB) SetRunQueriesGenerated(ctx context.Context, orgID, id uuid.UUID, total int) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE audit_runs SET total_queries = $3, completed_queries = 0, status = 'pending'
		 WHERE id = $1 AND org_id = $2`,
		id, orgID, total,
	)
	if err != nil {
		return fmt.Errorf("storage: set run queries generated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRunCompleted bumps the run's completed counter, capped at
// total_queries so the persisted invariant holds even under a double bump.
func (db *DB) IncrementRunCompleted(ctx context.Context, orgID, id uuid.UUID) error {
	var tag pgconn.CommandTag
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		var execErr error
		tag, execErr = db.pool.Exec(ctx,
			`UPDATE audit_runs
			 SET completed_queries = LEAST(completed_queries + 1, total_queries)
			 WHERE id = $1 AND org_id = $2`,
			id, orgID,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("storage: increment run completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
