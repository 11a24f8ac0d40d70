package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

// ScheduleBackend starts schedule generation and lists pages.
type ScheduleBackend interface {
	GenerateSchedule(ctx context.Context, pageID string) (string, error)
	ListSchedulePages(ctx context.Context, query url.Values) (json.RawMessage, error)
}

// SchedulesHandler runs the schedule-generation flow.
type SchedulesHandler struct {
	backend ScheduleBackend
	watcher Watcher
	logger  *logging.Logger
}

// NewSchedulesHandler creates a schedules handler.
func NewSchedulesHandler(backend ScheduleBackend, watcher Watcher, logger *logging.Logger) *SchedulesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SchedulesHandler{backend: backend, watcher: watcher, logger: logger}
}

// Generate starts generation for a page, waits for the job, and reloads the
// schedule list only when the job resolved.
func (h *SchedulesHandler) Generate(w http.ResponseWriter, r *http.Request) {
	pageID := strings.TrimSpace(chi.URLParam(r, "pageID"))
	if pageID == "" {
		writeError(w, http.StatusBadRequest, "schedule page id required")
		return
	}
	opts, err := watchOptions(r, flowGenerate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.Labels["page_id"] = pageID

	jobID, err := h.backend.GenerateSchedule(r.Context(), pageID)
	if err != nil {
		writeStartError(w, h.logger, "schedule generation", err)
		return
	}

	out := h.watcher.Watch(r.Context(), callerKey(r, flowGenerate), jobID, opts).Wait()
	resp := JobResponse{JobID: jobID, Outcome: newOutcomeResponse(out)}
	if out.Succeeded() {
		pages, err := h.backend.ListSchedulePages(r.Context(), nil)
		if err != nil {
			h.logger.Warn("schedule reload after generation failed", "job_id", jobID, "error", err)
			resp.ReloadError = "schedule list reload failed"
		} else {
			resp.Schedules = pages
		}
	}
	writeJSON(w, outcomeStatus(out), resp)
}
