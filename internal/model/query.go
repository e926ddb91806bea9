package model

import (
	"time"

	"github.com/google/uuid"
)

// QueryStatus is the processing state of a single audit query.
// There is no persisted "processing" state: an item stays pending until the
// runner records its outcome, so a crashed pass leaves it re-selectable.
type QueryStatus string

const (
	QueryStatusPending   QueryStatus = "pending"
	QueryStatusCompleted QueryStatus = "completed"
	QueryStatusError     QueryStatus = "error"
)

// AuditQuery is one unit of work within an audit run: a natural-language
// query whose AI response is scanned for mentions of the tracked app.
type AuditQuery struct {
	ID           uuid.UUID         `json:"id"`
	RunID        uuid.UUID         `json:"run_id"`
	OrgID        uuid.UUID         `json:"org_id"`
	Text         string            `json:"query_text"`
	Category     string            `json:"category"`
	Variables    map[string]string `json:"variables"`
	Priority     int               `json:"priority"`
	Status       QueryStatus       `json:"status"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}
