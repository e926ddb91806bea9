package server

import (
	"net/http"

	"github.com/sightline-hq/sightline/internal/model"
)

// HandleCreateApp registers a tracked app for the org.
func (h *Handlers) HandleCreateApp(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())

	var req model.CreateAppRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	app, err := h.store.CreateApp(r.Context(), orgID, req)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, app)
}

// HandleListApps lists the org's tracked apps.
func (h *Handlers) HandleListApps(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())

	apps, err := h.store.ListApps(r.Context(), orgID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apps)
}
