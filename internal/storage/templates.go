package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sightline-hq/sightline/internal/model"
)

// CreateTemplate inserts a query template into the org's library.
func (db *DB) CreateTemplate(ctx context.Context, orgID uuid.UUID, req model.CreateTemplateRequest) (model.QueryTemplate, error) {
	tpl := model.QueryTemplate{
		ID:               uuid.New(),
		OrgID:            orgID,
		Category:         req.Category,
		Text:             req.Text,
		DefaultVariables: req.DefaultVariables,
		Priority:         req.Priority,
		CreatedAt:        time.Now().UTC(),
	}
	if tpl.DefaultVariables == nil {
		tpl.DefaultVariables = map[string]string{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO query_templates (id, org_id, category, template_text, default_variables, priority, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tpl.ID, tpl.OrgID, tpl.Category, tpl.Text, tpl.DefaultVariables, tpl.Priority, tpl.CreatedAt,
	)
	if err != nil {
		return model.QueryTemplate{}, fmt.Errorf("storage: create template: %w", err)
	}
	return tpl, nil
}

// ListTemplates returns an org's templates, highest priority first. When ids
// is non-empty only those templates are returned; unknown ids are silently
// absent from the result, callers compare lengths if that matters.
func (db *DB) ListTemplates(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]model.QueryTemplate, error) {
	sql := `SELECT id, org_id, category, template_text, default_variables, priority, created_at
		 FROM query_templates WHERE org_id = $1`
	args := []any{orgID}
	if len(ids) > 0 {
		sql += ` AND id = ANY($2)`
		args = append(args, ids)
	}
	sql += ` ORDER BY priority DESC, created_at ASC`

	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list templates: %w", err)
	}
	defer rows.Close()

	var templates []model.QueryTemplate
	for rows.Next() {
		var t model.QueryTemplate
		if err := rows.Scan(&t.ID, &t.OrgID, &t.Category, &t.Text, &t.DefaultVariables, &t.Priority, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}
