// Package model defines the core domain types for Sightline.
//
// Types correspond directly to database tables and API payloads. They use
// strong typing (UUIDs, time.Time, string enums) and avoid interface{}
// wherever possible.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of an audit run.
//
// A run is created pending, moves to running when the batch loop starts,
// and ends in completed (all items processed), paused (user-initiated stop
// mid-run, resumable), or error (failure during setup or the loop itself).
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPaused    RunStatus = "paused"
	RunStatusError     RunStatus = "error"
)

// AuditRun is one batch execution of visibility queries against a tracked app.
type AuditRun struct {
	ID               uuid.UUID  `json:"id"`
	OrgID            uuid.UUID  `json:"org_id"`
	AppID            uuid.UUID  `json:"app_id"`
	Name             string     `json:"name"`
	Status           RunStatus  `json:"status"`
	TotalQueries     int        `json:"total_queries"`
	CompletedQueries int        `json:"completed_queries"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Terminal reports whether the run can no longer make progress without a
// new Start call.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusPaused || s == RunStatusError
}
