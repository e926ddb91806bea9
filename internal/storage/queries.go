package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sightline-hq/sightline/internal/model"
)

// InsertQueries bulk-inserts generated audit queries using the COPY
// protocol. Items are written in slice order; the seq column preserves that
// order for priority tie-breaking even when created_at collides.
func (db *DB) InsertQueries(ctx context.Context, queries []model.AuditQuery) (int64, error) {
	if len(queries) == 0 {
		return 0, nil
	}

	columns := []string{"id", "run_id", "org_id", "query_text", "category", "variables", "priority", "status", "created_at"}

	rows := make([][]any, len(queries))
	for i, q := range queries {
		vars := q.Variables
		if vars == nil {
			vars = map[string]string{}
		}
		rows[i] = []any{
			q.ID, q.RunID, q.OrgID, q.Text, q.Category, vars,
			q.Priority, string(q.Status), q.CreatedAt,
		}
	}

	// Dedicated COPY timeout so a hung Postgres cannot stall run generation
	// indefinitely.
	copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	count, err := db.pool.CopyFrom(
		copyCtx,
		pgx.Identifier{"audit_queries"},
		columns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: copy queries: %w", err)
	}
	return count, nil
}

const queryColumns = `id, run_id, org_id, query_text, category, variables, priority, status, error_message, created_at`

func scanQuery(row pgx.Row) (model.AuditQuery, error) {
	var q model.AuditQuery
	err := row.Scan(
		&q.ID, &q.RunID, &q.OrgID, &q.Text, &q.Category, &q.Variables,
		&q.Priority, &q.Status, &q.ErrorMessage, &q.CreatedAt,
	)
	return q, err
}

// PendingQueries returns a run's still-pending items in processing order:
// priority descending (largest number first), insertion order within a band.
func (db *DB) PendingQueries(ctx context.Context, orgID, runID uuid.UUID) ([]model.AuditQuery, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+queryColumns+`
		 FROM audit_queries
		 WHERE run_id = $1 AND org_id = $2 AND status = 'pending'
		 ORDER BY priority DESC, created_at ASC, seq ASC`,
		runID, orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: pending queries: %w", err)
	}
	defer rows.Close()

	var queries []model.AuditQuery
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan query: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// ListQueries returns a run's items, optionally filtered by status, in
// processing order.
func (db *DB) ListQueries(ctx context.Context, orgID, runID uuid.UUID, status model.QueryStatus) ([]model.AuditQuery, error) {
	sql := `SELECT ` + queryColumns + `
		 FROM audit_queries
		 WHERE run_id = $1 AND org_id = $2`
	args := []any{runID, orgID}
	if status != "" {
		sql += ` AND status = $3`
		args = append(args, string(status))
	}
	sql += ` ORDER BY priority DESC, created_at ASC, seq ASC`

	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list queries: %w", err)
	}
	defer rows.Close()

	var queries []model.AuditQuery
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan query: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// MarkQueryCompleted records a successful outcome for one item.
func (db *DB) MarkQueryCompleted(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE audit_queries SET status = 'completed', error_message = NULL
		 WHERE id = $1 AND org_id = $2`,
		id, orgID,
	)
	if err != nil {
		return fmt.Errorf("storage: mark query completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkQueryError records a failed outcome for one item. The item is not
// re-selected by later passes of the same run.
func (db *DB) MarkQueryError(ctx context.Context, orgID, id uuid.UUID, message string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE audit_queries SET status = 'error', error_message = $3
		 WHERE id = $1 AND org_id = $2`,
		id, orgID, message,
	)
	if err != nil {
		return fmt.Errorf("storage: mark query error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
