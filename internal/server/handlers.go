package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sightline-hq/sightline/internal/auth"
	"github.com/sightline-hq/sightline/internal/model"
	"github.com/sightline-hq/sightline/internal/runner"
	"github.com/sightline-hq/sightline/internal/storage"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	store               Store
	manager             *runner.Manager
	jwtMgr              *auth.JWTManager
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

func meta(r *http.Request) model.ResponseMeta {
	return model.ResponseMeta{
		RequestID: RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{Data: data, Meta: meta(r)})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message},
		Meta:  meta(r),
	})
}

// writeStoreError maps storage errors onto API errors. Unknown errors are
// logged and reported as opaque 500s.
func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "resource not found")
		return
	}
	h.logger.Error("storage error", "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
}

// decodeJSON decodes the request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// pathUUID parses the named path segment as a UUID.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}

// HandleHealth reports liveness. Unauthenticated.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// HandleAuthToken exchanges an org API key for a bearer token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if req.OrgID == uuid.Nil || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "org_id and api_key are required")
		return
	}

	org, err := h.store.GetOrganization(r.Context(), req.OrgID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Burn comparable time so an unknown org is indistinguishable
			// from a wrong key.
			auth.DummyVerify()
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
			return
		}
		h.writeStoreError(w, r, err)
		return
	}
	if org.APIKeyHash == nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	ok, err := auth.VerifyAPIKey(req.APIKey, *org.APIKeyHash)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.Issue(org.ID)
	if err != nil {
		h.logger.Error("issue token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}
