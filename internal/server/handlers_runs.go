package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sightline-hq/sightline/internal/model"
	"github.com/sightline-hq/sightline/internal/runner"
	"github.com/sightline-hq/sightline/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func listParams(r *http.Request) (limit, offset int) {
	limit = defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxListLimit)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// HandleCreateRun creates a pending audit run for an app.
func (h *Handlers) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())

	var req model.CreateRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	// The app must exist in this org before a run can reference it.
	if _, err := h.store.GetApp(r.Context(), orgID, req.AppID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "app_id does not reference a known app")
			return
		}
		h.writeStoreError(w, r, err)
		return
	}

	run, err := h.store.CreateRun(r.Context(), orgID, req)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, run)
}

// HandleListRuns lists the org's runs, newest first.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	limit, offset := listParams(r)

	runs, err := h.store.ListRuns(r.Context(), orgID, limit, offset)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, runs)
}

// HandleGetRun returns a single run.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run id")
		return
	}

	run, err := h.store.GetRun(r.Context(), orgID, runID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleStartRun launches a processing pass for the run in the background
// and responds 202. The optional body supplies prebuilt queries or template
// ids for first-start generation; a paused run resumes with no body at all.
// A second start while a pass is executing gets 409.
func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run id")
		return
	}

	run, err := h.store.GetRun(r.Context(), orgID, runID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	var req model.StartRunRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	opts := runner.Options{Queries: req.Queries}
	if run.TotalQueries == 0 && len(req.Queries) == 0 {
		// First start without prebuilt queries: generate from the template
		// library. An empty template_ids list means the whole library.
		templates, err := h.store.ListTemplates(r.Context(), orgID, req.TemplateIDs)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		if len(templates) == 0 {
			// No source at all. The run cannot ever produce results, so the
			// failure is recorded on the run and reported to the caller.
			if err := h.store.MarkRunError(r.Context(), orgID, runID); err != nil {
				h.logger.Warn("mark run error failed", "run_id", runID, "error", err)
			}
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				"run has no queries and no prebuilt queries or templates were provided")
			return
		}
		opts.Templates = templates
	}

	// The pass outlives the request; detach from its cancellation but keep
	// its values (request id, trace context).
	if _, err := h.manager.Start(context.WithoutCancel(r.Context()), orgID, run.AppID, runID, opts); err != nil {
		if errors.Is(err, runner.ErrRunActive) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "run already has an active pass")
			return
		}
		h.logger.Error("start run", "run_id", runID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}

	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"run_id":   runID,
		"status":   "started",
		"progress": fmt.Sprintf("/v1/runs/%s/progress", runID),
	})
}

// HandleStopRun requests a cooperative stop and responds 202. The in-flight
// query finishes; the run lands in paused shortly after. Stopping a run with
// no active pass is a no-op.
func (h *Handlers) HandleStopRun(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run id")
		return
	}

	if _, err := h.store.GetRun(r.Context(), orgID, runID); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	stopping := h.manager.Stop(runID)
	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"run_id":   runID,
		"stopping": stopping,
	})
}

// HandleRunProgress returns the live progress view when a runner exists in
// this process, falling back to the persisted run record otherwise.
func (h *Handlers) HandleRunProgress(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run id")
		return
	}

	run, err := h.store.GetRun(r.Context(), orgID, runID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	resp := model.ProgressResponse{
		RunID:  runID,
		Status: run.Status,
	}

	if rn, ok := h.manager.Runner(runID); ok {
		snap := rn.Progress().Snapshot()
		resp.Running = rn.IsRunning()
		resp.Current = snap.Current
		resp.Total = snap.Total
		resp.Completed = snap.Completed
		resp.Failed = snap.Failed
		resp.Log = snap.Log
		writeJSON(w, r, http.StatusOK, resp)
		return
	}

	// No runner in this process (e.g. after a restart): reconstruct counters
	// from the persisted state. The trace log is in-memory only and is gone.
	failed, err := h.store.ListQueries(r.Context(), orgID, runID, model.QueryStatusError)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	resp.Total = run.TotalQueries
	resp.Completed = run.CompletedQueries
	resp.Failed = len(failed)
	resp.Current = run.CompletedQueries + len(failed)
	resp.Log = []string{}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleListRunQueries lists a run's queries, optionally filtered by status.
func (h *Handlers) HandleListRunQueries(w http.ResponseWriter, r *http.Request) {
	orgID := OrgIDFromContext(r.Context())
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run id")
		return
	}

	var status model.QueryStatus
	switch s := r.URL.Query().Get("status"); s {
	case "":
	case string(model.QueryStatusPending), string(model.QueryStatusCompleted), string(model.QueryStatusError):
		status = model.QueryStatus(s)
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "status must be pending, completed or error")
		return
	}

	if _, err := h.store.GetRun(r.Context(), orgID, runID); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	queries, err := h.store.ListQueries(r.Context(), orgID, runID, status)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, queries)
}
