package server

import (
	"net/http"

	"github.com/sightline-hq/sightline/internal/model"
)

// HandleCreateTemplate adds a query template to the org's library.
func (h *Handlers) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())

	var req model.CreateTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	tpl, err := h.store.CreateTemplate(r.Context(), orgID, req)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, tpl)
}

// HandleListTemplates lists the org's template library, highest priority
// first.
func (h *Handlers) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())

	templates, err := h.store.ListTemplates(r.Context(), orgID, nil)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, templates)
}
