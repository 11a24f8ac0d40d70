package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

const defaultMaxUploadBytes = 20 << 20

// ExtractionStarter submits a roster document for extraction.
type ExtractionStarter interface {
	UploadForExtraction(ctx context.Context, fileName string, r io.Reader) (string, error)
}

// UploadsHandler runs the upload-and-extract flow: submit, then wait for the job.
type UploadsHandler struct {
	starter  ExtractionStarter
	watcher  Watcher
	logger   *logging.Logger
	maxBytes int64
}

// NewUploadsHandler creates an uploads handler.
func NewUploadsHandler(starter ExtractionStarter, watcher Watcher, logger *logging.Logger) *UploadsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &UploadsHandler{starter: starter, watcher: watcher, logger: logger, maxBytes: defaultMaxUploadBytes}
}

// JobResponse pairs the created job with its outcome.
type JobResponse struct {
	JobID     string          `json:"job_id"`
	Outcome   OutcomeResponse `json:"outcome"`
	Schedules any             `json:"schedules,omitempty"`
	// ReloadError is set when the job resolved but the follow-up reload failed.
	ReloadError string `json:"reload_error,omitempty"`
}

// Upload accepts a multipart "file" field.
func (h *UploadsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	name := filepath.Base(strings.TrimSpace(header.Filename))
	if name == "" || name == "." || name == "/" {
		writeError(w, http.StatusBadRequest, "file name required")
		return
	}
	opts, err := watchOptions(r, flowUpload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := h.starter.UploadForExtraction(r.Context(), name, file)
	if err != nil {
		writeStartError(w, h.logger, "extraction upload", err)
		return
	}
	h.logger.Info("extraction job created", "job_id", jobID, "file", name)

	out := h.watcher.Watch(r.Context(), callerKey(r, flowUpload), jobID, opts).Wait()
	writeJSON(w, outcomeStatus(out), JobResponse{JobID: jobID, Outcome: newOutcomeResponse(out)})
}

func writeStartError(w http.ResponseWriter, logger *logging.Logger, op string, err error) {
	if errors.Is(err, jobs.ErrAuthExpired) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "session expired, sign in again", "code": "auth_expired"})
		return
	}
	if errors.Is(err, context.Canceled) {
		writeError(w, http.StatusAccepted, op+" cancelled")
		return
	}
	logger.Warn(op+" failed", "error", err)
	writeError(w, http.StatusBadGateway, jobs.FailureMessage(err))
}
