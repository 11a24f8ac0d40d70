package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/history"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/watch"
	"github.com/wolfman30/hospital-scheduling-admin/internal/tenancy"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

const (
	flowWait     = "wait"
	flowUpload   = "upload"
	flowGenerate = "generate"
)

// Watcher starts job watches for a logical caller.
type Watcher interface {
	Watch(ctx context.Context, key, jobID string, opts watch.Options) *watch.Session
}

// HistoryLister reads settled watch sessions.
type HistoryLister interface {
	ListRecent(ctx context.Context, hospitalID string, limit int) ([]history.Record, error)
}

// JobsHandler exposes job watches over HTTP and websocket.
type JobsHandler struct {
	watcher     Watcher
	history     HistoryLister
	logger      *logging.Logger
	allowOrigin func(origin string) bool
}

// NewJobsHandler creates a jobs handler. history may be nil.
func NewJobsHandler(watcher Watcher, history HistoryLister, logger *logging.Logger) *JobsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &JobsHandler{watcher: watcher, history: history, logger: logger}
}

// WithOriginCheck restricts browser websocket upgrades to origins allow
// accepts. Browsers skip CORS for websockets, so the handshake checks it.
// Clients that send no Origin are not browsers and are let through.
func (h *JobsHandler) WithOriginCheck(allow func(origin string) bool) *JobsHandler {
	h.allowOrigin = allow
	return h
}

func (h *JobsHandler) handshake(cfg *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	if h.allowOrigin != nil && !h.allowOrigin(origin) {
		return fmt.Errorf("origin %q not allowed", origin)
	}
	var err error
	cfg.Origin, err = websocket.Origin(cfg, r)
	return err
}

// OutcomeResponse is the JSON form of a settled watch.
type OutcomeResponse struct {
	SessionID  string    `json:"session_id"`
	JobID      string    `json:"job_id"`
	Strategy   string    `json:"strategy"`
	State      string    `json:"state"`
	Reason     string    `json:"reason"`
	Message    string    `json:"message,omitempty"`
	Job        *jobs.Job `json:"job,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

func newOutcomeResponse(o watch.Outcome) OutcomeResponse {
	return OutcomeResponse{
		SessionID:  o.SessionID,
		JobID:      o.JobID,
		Strategy:   string(o.Strategy),
		State:      string(o.State),
		Reason:     o.Reason(),
		Message:    o.Message(),
		Job:        o.Job,
		DurationMS: o.Duration.Milliseconds(),
	}
}

// Wait blocks until the job settles. Disconnecting cancels the watch.
func (h *JobsHandler) Wait(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id required")
		return
	}
	opts, err := watchOptions(r, flowParam(r, flowWait))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := h.watcher.Watch(r.Context(), callerKey(r, opts.Labels["flow"]), jobID, opts).Wait()
	writeJSON(w, outcomeStatus(out), newOutcomeResponse(out))
}

type wsMessage struct {
	Type      string           `json:"type"` // "watching", "outcome", "error"
	SessionID string           `json:"session_id,omitempty"`
	JobID     string           `json:"job_id,omitempty"`
	Strategy  string           `json:"strategy,omitempty"`
	Outcome   *OutcomeResponse `json:"outcome,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// WebSocket pushes a single outcome message once the job settles. The client
// closing the socket cancels the watch.
func (h *JobsHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	opts, err := watchOptions(r, flowParam(r, flowWait))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := callerKey(r, opts.Labels["flow"])
	// The hijacked connection outlives r.Context() semantics, so keep only its values.
	ctx := context.WithoutCancel(r.Context())

	websocket.Server{Handshake: h.handshake, Handler: func(conn *websocket.Conn) {
		defer conn.Close()
		if jobID == "" {
			_ = websocket.JSON.Send(conn, wsMessage{Type: "error", Error: "job id required"})
			return
		}
		session := h.watcher.Watch(ctx, key, jobID, opts)
		if err := websocket.JSON.Send(conn, wsMessage{
			Type:      "watching",
			SessionID: session.ID(),
			JobID:     jobID,
			Strategy:  string(session.Strategy()),
		}); err != nil {
			session.Cancel()
			return
		}

		disconnected := make(chan struct{})
		go func() {
			defer close(disconnected)
			var discard []byte
			for {
				if err := websocket.Message.Receive(conn, &discard); err != nil {
					return
				}
			}
		}()

		select {
		case <-session.Done():
		case <-disconnected:
			session.Cancel()
			h.logger.Debug("job websocket closed by client", "job_id", jobID, "session_id", session.ID())
			return
		}
		resp := newOutcomeResponse(session.Wait())
		if err := websocket.JSON.Send(conn, wsMessage{Type: "outcome", SessionID: resp.SessionID, JobID: jobID, Outcome: &resp}); err != nil {
			h.logger.Debug("job websocket send failed", "job_id", jobID, "error", err)
		}
	}}.ServeHTTP(w, r)
}

// ListWatches returns recent watch sessions for the tenant.
func (h *JobsHandler) ListWatches(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "watch history is not configured")
		return
	}
	hospitalID, ok := tenancy.HospitalIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing hospital id")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	records, err := h.history.ListRecent(r.Context(), hospitalID, limit)
	if err != nil {
		h.logger.Error("list job watches failed", "hospital_id", hospitalID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load watch history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watches": records})
}

// outcomeStatus maps a settlement onto an HTTP status.
func outcomeStatus(o watch.Outcome) int {
	switch o.State {
	case watch.StateResolved:
		return http.StatusOK
	case watch.StateCancelled:
		return http.StatusAccepted
	}
	var streamErr *jobs.StreamError
	var failedErr *jobs.JobFailedError
	switch {
	case errors.Is(o.Err, jobs.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.As(o.Err, &failedErr), errors.As(o.Err, &streamErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func watchOptions(r *http.Request, flow string) (watch.Options, error) {
	q := r.URL.Query()
	strategy, err := watch.ParseStrategy(q.Get("strategy"), "")
	if err != nil {
		return watch.Options{}, err
	}
	timeout, err := parseTimeout(q.Get("timeout"))
	if err != nil {
		return watch.Options{}, err
	}
	labels := map[string]string{"flow": flow}
	if hospitalID, ok := tenancy.HospitalIDFromContext(r.Context()); ok {
		labels["hospital_id"] = hospitalID
	}
	if subject, ok := tenancy.SubjectFromContext(r.Context()); ok {
		labels["subject"] = subject
	}
	return watch.Options{Strategy: strategy, Timeout: timeout, Labels: labels}, nil
}

// parseTimeout accepts a Go duration ("90s") or whole milliseconds.
func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms < 0 {
			return 0, errors.New("timeout must not be negative")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, errors.New("timeout must be a duration like 90s or milliseconds")
	}
	return d, nil
}

func flowParam(r *http.Request, fallback string) string {
	if flow := strings.TrimSpace(r.URL.Query().Get("flow")); flow != "" {
		return flow
	}
	return fallback
}

func callerKey(r *http.Request, flow string) string {
	hospitalID, _ := tenancy.HospitalIDFromContext(r.Context())
	subject, ok := tenancy.SubjectFromContext(r.Context())
	if !ok {
		subject = "anonymous"
	}
	return watch.CallerKey(hospitalID, subject, flow)
}
