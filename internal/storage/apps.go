package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sightline-hq/sightline/internal/model"
)

// CreateApp inserts a tracked app for an org and returns it.
func (db *DB) CreateApp(ctx context.Context, orgID uuid.UUID, req model.CreateAppRequest) (model.App, error) {
	app := model.App{
		ID:        uuid.New(),
		OrgID:     orgID,
		Name:      req.Name,
		StoreRef:  req.StoreRef,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO apps (id, org_id, name, store_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		app.ID, app.OrgID, app.Name, app.StoreRef, app.CreatedAt,
	)
	if err != nil {
		return model.App{}, fmt.Errorf("storage: create app: %w", err)
	}
	return app, nil
}

// GetApp retrieves an app by id, scoped to the given org.
func (db *DB) GetApp(ctx context.Context, orgID, id uuid.UUID) (model.App, error) {
	var app model.App
	err := db.pool.QueryRow(ctx,
		`SELECT id, org_id, name, store_ref, created_at
		 FROM apps WHERE id = $1 AND org_id = $2`, id, orgID,
	).Scan(&app.ID, &app.OrgID, &app.Name, &app.StoreRef, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.App{}, ErrNotFound
		}
		return model.App{}, fmt.Errorf("storage: get app: %w", err)
	}
	return app, nil
}

// ListApps returns all apps for an org, newest first.
func (db *DB) ListApps(ctx context.Context, orgID uuid.UUID) ([]model.App, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, org_id, name, store_ref, created_at
		 FROM apps WHERE org_id = $1
		 ORDER BY created_at DESC`, orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list apps: %w", err)
	}
	defer rows.Close()

	var apps []model.App
	for rows.Next() {
		var a model.App
		if err := rows.Scan(&a.ID, &a.OrgID, &a.Name, &a.StoreRef, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan app: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}
