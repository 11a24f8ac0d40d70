package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs"
	"github.com/wolfman30/hospital-scheduling-admin/internal/observability/metrics"
	"github.com/wolfman30/hospital-scheduling-admin/internal/tenancy"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

const (
	defaultUserAgent = "hospital-scheduling-admin/0.1"
	defaultTimeout   = 15 * time.Second
	// maxResponseBytes caps JSON bodies; schedule page lists are the largest.
	maxResponseBytes = 8 << 20

	hospitalHeader = "X-Hospital-Id"
)

// Config controls how the backend client behaves.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient serves request/response calls. StreamClient serves the event
	// stream and must not carry a whole-request timeout.
	HTTPClient   *http.Client
	StreamClient *http.Client
	Logger       *logging.Logger
	UserAgent    string
	Metrics      *metrics.BackendMetrics
}

// Client wraps the scheduling backend endpoints used by the admin BFF.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *logging.Logger
	userAgent    string
	metrics      *metrics.BackendMetrics
	tracer       trace.Tracer
	maxBody      int64
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("jobclient: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("jobclient: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	streamClient := cfg.StreamClient
	if streamClient == nil {
		streamClient = &http.Client{Transport: httpClient.Transport}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:      baseURL,
		httpClient:   httpClient,
		streamClient: streamClient,
		logger:       logger,
		userAgent:    userAgent,
		metrics:      cfg.Metrics,
		tracer:       otel.Tracer("schedadmin/jobclient"),
		maxBody:      maxResponseBytes,
	}, nil
}

// BaseURL returns the normalized backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJob loads the current state of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("jobclient: job id required")
	}
	data, err := c.invoke(ctx, "get_job", jobID, http.MethodGet, "/job/"+url.PathEscape(jobID), nil, nil, "")
	if err != nil {
		return nil, err
	}
	var job jobs.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, &jobs.TransportError{Op: "fetch", JobID: jobID, Err: fmt.Errorf("decode job: %w", err)}
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return &job, nil
}

// OpenStream opens the server-sent event stream for a job. Cancelling ctx
// aborts the connection; the caller owns the returned body.
func (c *Client) OpenStream(ctx context.Context, jobID string) (io.ReadCloser, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("jobclient: job id required")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/job/"+url.PathEscape(jobID)+"/stream", nil, nil, "")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest("open_stream", 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &jobs.TransportError{Op: "stream", JobID: jobID, Err: err}
	}
	c.metrics.ObserveRequest("open_stream", resp.StatusCode, time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusError("stream", jobID, resp.StatusCode, data)
	}
	return resp.Body, nil
}

// UploadForExtraction posts a roster document and returns the extraction job id.
func (c *Client) UploadForExtraction(ctx context.Context, fileName string, r io.Reader) (string, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", errors.New("jobclient: file name required")
	}
	if r == nil {
		return "", errors.New("jobclient: file reader required")
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("jobclient: create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("jobclient: copy upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("jobclient: close multipart writer: %w", err)
	}
	data, err := c.invoke(ctx, "upload_extraction", "", http.MethodPost, "/extraction/upload", nil, buf.Bytes(), writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	return decodeJobID("upload", data)
}

// GenerateSchedule starts schedule generation for a page and returns the job id.
func (c *Client) GenerateSchedule(ctx context.Context, pageID string) (string, error) {
	if strings.TrimSpace(pageID) == "" {
		return "", errors.New("jobclient: schedule page id required")
	}
	path := fmt.Sprintf("/schedule-page/%s/generate-from-demands", url.PathEscape(pageID))
	data, err := c.invoke(ctx, "generate_schedule", "", http.MethodPost, path, nil, []byte("{}"), "application/json")
	if err != nil {
		return "", err
	}
	return decodeJobID("generate", data)
}

// ListSchedulePages returns the raw schedule page list for the tenant.
func (c *Client) ListSchedulePages(ctx context.Context, query url.Values) (json.RawMessage, error) {
	data, err := c.invoke(ctx, "list_schedule_pages", "", http.MethodGet, "/schedule-page", query, nil, "")
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, &jobs.TransportError{Op: "list_schedule_pages", Err: errors.New("response is not json")}
	}
	return json.RawMessage(data), nil
}

func (c *Client) invoke(ctx context.Context, operation, jobID, method, path string, query url.Values, body []byte, contentType string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "backend."+operation, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	))
	defer span.End()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := c.newRequest(ctx, method, path, query, bodyReader, contentType)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(operation, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &jobs.TransportError{Op: operation, JobID: jobID, Err: err}
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest(operation, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if readErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &jobs.TransportError{Op: operation, JobID: jobID, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", readErr)}
	}
	if int64(len(data)) > c.maxBody {
		span.SetStatus(codes.Error, "response too large")
		return nil, &jobs.TransportError{Op: operation, JobID: jobID, StatusCode: resp.StatusCode, Err: fmt.Errorf("response exceeds %d bytes", c.maxBody)}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	c.logger.Debug("backend request rejected",
		"operation", operation,
		"status", resp.StatusCode,
	)
	return nil, statusError(operation, jobID, resp.StatusCode, data)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path, query), body)
	if err != nil {
		return nil, fmt.Errorf("jobclient: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if token, ok := CredentialFromContext(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if hospitalID, ok := tenancy.HospitalIDFromContext(ctx); ok {
		req.Header.Set(hospitalHeader, hospitalID)
	}
	if body != nil {
		ct := contentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	return req, nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		full = full + "?" + query.Encode()
	}
	return full
}

type apiError struct {
	Detail  string `json:"detail,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// statusError maps a non-2xx response; 401 means the credential must be renewed.
func statusError(op, jobID string, status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return jobs.ErrAuthExpired
	}
	var parsed apiError
	detail := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, candidate := range []string{parsed.Detail, parsed.Message, parsed.Error} {
			if strings.TrimSpace(candidate) != "" {
				detail = strings.TrimSpace(candidate)
				break
			}
		}
	}
	var cause error
	if detail != "" {
		cause = errors.New(detail)
	}
	return &jobs.TransportError{Op: op, JobID: jobID, StatusCode: status, Err: cause}
}

func decodeJobID(op string, data []byte) (string, error) {
	var body struct {
		JobID json.RawMessage `json:"job_id"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", &jobs.TransportError{Op: op, Err: fmt.Errorf("decode job id: %w", err)}
	}
	id := strings.Trim(strings.TrimSpace(string(body.JobID)), `"`)
	if id == "" || id == "null" {
		return "", &jobs.TransportError{Op: op, Err: errors.New("response has no job_id")}
	}
	return id, nil
}
