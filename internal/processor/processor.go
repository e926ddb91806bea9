// Package processor defines the boundary to the remote per-item processor:
// the service that submits one query to the conversational AI and evaluates
// whether the tracked app was mentioned in the response.
//
// Latency, retries against the AI provider, and analysis heuristics are the
// processor's own concern. The runner treats any error from Process as a
// per-item failure and keeps going.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Request identifies one query to evaluate.
type Request struct {
	QueryID        uuid.UUID `json:"query_id"`
	QueryText      string    `json:"query_text"`
	AuditRunID     uuid.UUID `json:"audit_run_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	AppID          uuid.UUID `json:"app_id"`
}

// Result is the processor's verdict for one query.
type Result struct {
	Mentioned bool   `json:"mentioned"`
	Position  *int   `json:"position,omitempty"` // rank of the app within the response, when mentioned
	Summary   string `json:"summary,omitempty"`
}

// Processor evaluates a single query. Implementations must be safe for
// concurrent use; the runner issues at most one call at a time per run.
type Processor interface {
	Process(ctx context.Context, req Request) (Result, error)
}

// Error is a failure reported by the remote processor, with the HTTP status
// code when the failure came from an HTTP response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("processor: %s (%d)", e.Message, e.StatusCode)
	}
	return "processor: " + e.Message
}

// IsRateLimited reports whether err is a 429 from the processor.
func IsRateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == 429
}
