package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length and range limits for caller-supplied input. These keep a
// single oversized field from filling Postgres TEXT columns or producing
// queries the remote processor will reject anyway.
const (
	MaxNameLen      = 200
	MaxQueryTextLen = 4 * 1024
	MaxCategoryLen  = 100
	MaxVariables    = 32
	MaxPriority     = 100
	MaxBatchQueries = 500
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	OrgID  uuid.UUID `json:"org_id"`
	APIKey string    `json:"api_key"`
}

// AuthTokenResponse carries the issued bearer token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateAppRequest is the request body for POST /v1/apps.
type CreateAppRequest struct {
	Name     string `json:"name"`
	StoreRef string `json:"store_ref,omitempty"`
}

// Validate checks required fields and length limits.
func (r CreateAppRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Name) > MaxNameLen {
		return fmt.Errorf("name exceeds maximum length of %d characters", MaxNameLen)
	}
	return nil
}

// CreateRunRequest is the request body for POST /v1/runs.
type CreateRunRequest struct {
	AppID uuid.UUID `json:"app_id"`
	Name  string    `json:"name"`
}

// Validate checks required fields and length limits.
func (r CreateRunRequest) Validate() error {
	if r.AppID == uuid.Nil {
		return fmt.Errorf("app_id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Name) > MaxNameLen {
		return fmt.Errorf("name exceeds maximum length of %d characters", MaxNameLen)
	}
	return nil
}

// PrebuiltQuery is a caller-supplied, already-generated query. When a start
// request carries prebuilt queries they are used verbatim and take priority
// over the template library.
type PrebuiltQuery struct {
	Text      string            `json:"text"`
	Category  string            `json:"category,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Priority  int               `json:"priority,omitempty"`
}

// Validate checks a single prebuilt query.
func (q PrebuiltQuery) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("text is required")
	}
	if len(q.Text) > MaxQueryTextLen {
		return fmt.Errorf("text exceeds maximum length of %d bytes", MaxQueryTextLen)
	}
	if len(q.Category) > MaxCategoryLen {
		return fmt.Errorf("category exceeds maximum length of %d characters", MaxCategoryLen)
	}
	if len(q.Variables) > MaxVariables {
		return fmt.Errorf("variables exceeds maximum of %d entries", MaxVariables)
	}
	if q.Priority < 0 || q.Priority > MaxPriority {
		return fmt.Errorf("priority must be between 0 and %d", MaxPriority)
	}
	return nil
}

// StartRunRequest is the request body for POST /v1/runs/{run_id}/start.
// Both fields are optional: a run that already has queries needs neither,
// and an empty template_ids list falls back to the org's full library.
type StartRunRequest struct {
	Queries     []PrebuiltQuery `json:"queries,omitempty"`
	TemplateIDs []uuid.UUID     `json:"template_ids,omitempty"`
}

// Validate checks batch size and each prebuilt query.
func (r StartRunRequest) Validate() error {
	if len(r.Queries) > MaxBatchQueries {
		return fmt.Errorf("queries exceeds maximum batch size of %d", MaxBatchQueries)
	}
	for i, q := range r.Queries {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("queries[%d]: %w", i, err)
		}
	}
	return nil
}

// CreateTemplateRequest is the request body for POST /v1/templates.
type CreateTemplateRequest struct {
	Category         string            `json:"category,omitempty"`
	Text             string            `json:"template_text"`
	DefaultVariables map[string]string `json:"default_variables,omitempty"`
	Priority         int               `json:"priority,omitempty"`
}

// Validate checks required fields and length limits.
func (r CreateTemplateRequest) Validate() error {
	if r.Text == "" {
		return fmt.Errorf("template_text is required")
	}
	if len(r.Text) > MaxQueryTextLen {
		return fmt.Errorf("template_text exceeds maximum length of %d bytes", MaxQueryTextLen)
	}
	if len(r.Category) > MaxCategoryLen {
		return fmt.Errorf("category exceeds maximum length of %d characters", MaxCategoryLen)
	}
	if len(r.DefaultVariables) > MaxVariables {
		return fmt.Errorf("default_variables exceeds maximum of %d entries", MaxVariables)
	}
	if r.Priority < 0 || r.Priority > MaxPriority {
		return fmt.Errorf("priority must be between 0 and %d", MaxPriority)
	}
	return nil
}

// ProgressResponse is the payload for GET /v1/runs/{run_id}/progress.
type ProgressResponse struct {
	RunID     uuid.UUID `json:"run_id"`
	Status    RunStatus `json:"status"`
	Running   bool      `json:"running"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Log       []string  `json:"log"`
}
