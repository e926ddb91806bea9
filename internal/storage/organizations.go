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

// CreateOrganization inserts a new tenant. apiKeyHash may be empty for orgs
// that authenticate through an external identity provider.
func (db *DB) CreateOrganization(ctx context.Context, name, apiKeyHash string) (model.Organization, error) {
	org := model.Organization{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if apiKeyHash != "" {
		org.APIKeyHash = &apiKeyHash
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, api_key_hash, created_at)
		 VALUES ($1, $2, $3, $4)`,
		org.ID, org.Name, org.APIKeyHash, org.CreatedAt,
	)
	if err != nil {
		return model.Organization{}, fmt.Errorf("storage: create organization: %w", err)
	}
	return org, nil
}

// GetOrganization retrieves an organization by id.
func (db *DB) GetOrganization(ctx context.Context, id uuid.UUID) (model.Organization, error) {
	var org model.Organization
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, api_key_hash, created_at FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.APIKeyHash, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Organization{}, ErrNotFound
		}
		return model.Organization{}, fmt.Errorf("storage: get organization: %w", err)
	}
	return org, nil
}

// EnsureOrganization creates an organization with a fixed id if it does not
// exist, updating the key hash if it does. Used by the bootstrap path in main.
func (db *DB) EnsureOrganization(ctx context.Context, id uuid.UUID, name, apiKeyHash string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, api_key_hash, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, api_key_hash = EXCLUDED.api_key_hash`,
		id, name, nullable(apiKeyHash),
	)
	if err != nil {
		return fmt.Errorf("storage: ensure organization: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
