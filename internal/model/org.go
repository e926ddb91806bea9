package model

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the tenant boundary. Every run, query, app, and template
// is scoped to exactly one organization; storage rejects cross-org access.
type Organization struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	APIKeyHash *string   `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// App is a tracked entity (app or brand) whose visibility is audited.
type App struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	Name      string    `json:"name"`
	StoreRef  string    `json:"store_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
