package jobclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs"
	"github.com/wolfman30/hospital-scheduling-admin/internal/observability/metrics"
	"github.com/wolfman30/hospital-scheduling-admin/internal/tenancy"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL:    server.URL + "/",
		HTTPClient: server.Client(),
		Logger:     logging.Discard(),
		Metrics:    metrics.NewBackendMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func callerContext() context.Context {
	ctx := tenancy.WithHospitalID(context.Background(), "hosp-1")
	return WithCredential(ctx, "token-abc")
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected base url validation error")
	}
	client, err := New(Config{BaseURL: "http://backend.local/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.BaseURL() != "http://backend.local" {
		t.Fatalf("expected trimmed base url, got %s", client.BaseURL())
	}
	if client.httpClient.Timeout != defaultTimeout {
		t.Fatalf("expected default timeout, got %s", client.httpClient.Timeout)
	}
	if client.streamClient.Timeout != 0 {
		t.Fatalf("stream client must not have a request timeout")
	}
}

func TestGetJobForwardsCredentialAndTenant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/job/42" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-abc" {
			t.Fatalf("unexpected auth header %q", got)
		}
		if got := r.Header.Get("X-Hospital-Id"); got != "hosp-1" {
			t.Fatalf("unexpected hospital header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"42","status":"RUNNING","job_type":"extraction"}`))
	}))
	defer server.Close()

	job, err := newTestClient(t, server).GetJob(callerContext(), "42")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != jobs.StatusRunning || job.JobType != "extraction" {
		t.Fatalf("unexpected job: %#v", job)
	}
}

func TestGetJobUnauthorizedIsAuthExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"token expired"}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).GetJob(callerContext(), "42")
	if !errors.Is(err, jobs.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestGetJobServerErrorIsTransportError(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"detail":"solver offline"}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).GetJob(callerContext(), "42")
	var transportErr *jobs.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if transportErr.StatusCode != http.StatusServiceUnavailable || !strings.Contains(err.Error(), "solver offline") {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retries, got %d calls", calls)
	}
}

func TestOpenStreamReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/job/42/stream" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Fatalf("unexpected accept header %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: status\ndata: {\"status\":\"COMPLETED\"}\n\n"))
	}))
	defer server.Close()

	body, err := newTestClient(t, server).OpenStream(callerContext(), "42")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(data), "COMPLETED") {
		t.Fatalf("unexpected stream body %q", string(data))
	}
}

func TestOpenStreamCancelAbortsConnection(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(callerContext())
	body, err := newTestClient(t, server).OpenStream(ctx, "42")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer body.Close()

	done := make(chan error, 1)
	go func() {
		_, err := body.Read(make([]byte, 16))
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected read to fail after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("read did not abort after cancel")
	}
}

func TestOpenStreamUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(t, server).OpenStream(callerContext(), "42")
	if !errors.Is(err, jobs.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestUploadForExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/extraction/upload" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "roster.csv" || string(data) != "name,shift\n" {
			t.Fatalf("unexpected upload %s %q", header.Filename, string(data))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"job_id":17}`))
	}))
	defer server.Close()

	jobID, err := newTestClient(t, server).UploadForExtraction(callerContext(), "roster.csv", strings.NewReader("name,shift\n"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if jobID != "17" {
		t.Fatalf("expected job id 17, got %s", jobID)
	}
}

func TestGenerateSchedule(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/schedule-page/9/generate-from-demands" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"job_id":"abc-123"}`))
	}))
	defer server.Close()

	jobID, err := newTestClient(t, server).GenerateSchedule(callerContext(), "9")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if jobID != "abc-123" {
		t.Fatalf("expected abc-123, got %s", jobID)
	}
}

func TestGenerateScheduleMissingJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).GenerateSchedule(callerContext(), "9")
	var transportErr *jobs.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestListSchedulePagesPassesQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/schedule-page" || r.URL.Query().Get("status") != "draft" {
			t.Fatalf("unexpected request %s", r.URL.String())
		}
		w.Write([]byte(`[{"id":9,"name":"March"}]`))
	}))
	defer server.Close()

	pages, err := newTestClient(t, server).ListSchedulePages(callerContext(), url.Values{"status": {"draft"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(string(pages), "March") {
		t.Fatalf("unexpected pages %s", string(pages))
	}
}

func TestCredentialFromContext(t *testing.T) {
	if _, ok := CredentialFromContext(context.Background()); ok {
		t.Fatalf("expected no credential")
	}
	if _, ok := CredentialFromContext(WithCredential(context.Background(), "  ")); ok {
		t.Fatalf("expected blank credential to be ignored")
	}
	token, ok := CredentialFromContext(WithCredential(context.Background(), "abc"))
	if !ok || token != "abc" {
		t.Fatalf("expected abc, got %q", token)
	}
}

func TestOversizedResponseIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[` + strings.Repeat(`{"id":1},`, 64) + `{"id":2}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	client.maxBody = 128
	_, err := client.ListSchedulePages(callerContext(), nil)
	var transportErr *jobs.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeds 128 bytes") {
		t.Fatalf("unexpected error: %v", err)
	}
}
