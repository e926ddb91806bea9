package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sightline-hq/sightline/internal/model"
)

// generate materializes the run's query batch. Prebuilt queries are used
// verbatim when supplied; otherwise one query per template is rendered from
// the template's own default variables. With neither source the run cannot
// proceed and ErrNoQuerySource is returned.
func (r *Runner) generate(ctx context.Context, opts Options) (int, error) {
	var queries []model.AuditQuery
	now := time.Now().UTC()

	switch {
	case len(opts.Queries) > 0:
		queries = make([]model.AuditQuery, len(opts.Queries))
		for i, q := range opts.Queries {
			queries[i] = model.AuditQuery{
				ID:        uuid.New(),
				RunID:     r.runID,
				OrgID:     r.orgID,
				Text:      q.Text,
				Category:  q.Category,
				Variables: q.Variables,
				Priority:  q.Priority,
				Status:    model.QueryStatusPending,
				CreatedAt: now,
			}
		}

	case len(opts.Templates) > 0:
		queries = make([]model.AuditQuery, len(opts.Templates))
		for i, tpl := range opts.Templates {
			queries[i] = model.AuditQuery{
				ID:        uuid.New(),
				RunID:     r.runID,
				OrgID:     r.orgID,
				Text:      tpl.Render(),
				Category:  tpl.Category,
				Variables: tpl.DefaultVariables,
				Priority:  tpl.Priority,
				Status:    model.QueryStatusPending,
				CreatedAt: now,
			}
		}

	default:
		return 0, ErrNoQuerySource
	}

	inserted, err := r.store.InsertQueries(ctx, queries)
	if err != nil {
		return 0, fmt.Errorf("runner: insert generated queries: %w", err)
	}
	if err := r.store.SetRunQueriesGenerated(ctx, r.orgID, r.runID, int(inserted)); err != nil {
		return 0, fmt.Errorf("runner: record generated total: %w", err)
	}

	r.logger.Info("queries generated", "count", inserted)
	return int(inserted), nil
}
