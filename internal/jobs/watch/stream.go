package watch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/sse"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

const (
	eventTypeStatus  = "status"
	eventTypeError   = "error"
	eventTypeTimeout = "timeout"

	defaultReadSize = 4096
)

// StreamOpener opens the job event stream (GET /job/{id}/stream).
// Cancelling ctx must abort the underlying connection.
type StreamOpener interface {
	OpenStream(ctx context.Context, jobID string) (io.ReadCloser, error)
}

// StreamOpenerFunc adapts a function to StreamOpener.
type StreamOpenerFunc func(ctx context.Context, jobID string) (io.ReadCloser, error)

func (f StreamOpenerFunc) OpenStream(ctx context.Context, jobID string) (io.ReadCloser, error) {
	return f(ctx, jobID)
}

// StreamWatcher resolves a job from the first terminal event on its stream.
type StreamWatcher struct {
	opener       StreamOpener
	logger       *logging.Logger
	readSize     int
	maxFrameSize int
	onParseError func(*jobs.ParseError)
}

// NewStreamWatcher builds a stream watcher over opener.
func NewStreamWatcher(opener StreamOpener, logger *logging.Logger) *StreamWatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &StreamWatcher{
		opener:   opener,
		logger:   logger,
		readSize: defaultReadSize,
	}
}

// OnParseError registers a hook for swallowed status payload errors.
func (s *StreamWatcher) OnParseError(fn func(*jobs.ParseError)) {
	s.onParseError = fn
}

type statusPayload struct {
	jobs.Job
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Watch blocks until a terminal event arrives, the stream fails or ends, or ctx is done.
// The stream is closed exactly once before Watch returns.
func (s *StreamWatcher) Watch(ctx context.Context, jobID string) (*jobs.Job, error) {
	if s == nil || s.opener == nil {
		return nil, errors.New("watch: stream watcher has no opener")
	}
	body, err := s.opener.OpenStream(ctx, jobID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyOpenError(jobID, err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if closeErr := body.Close(); closeErr != nil {
				s.logger.Debug("job stream close failed", "job_id", jobID, "error", closeErr)
			}
		})
	}
	stop := context.AfterFunc(ctx, release)
	defer func() {
		stop()
		release()
	}()

	parser := sse.Parser{MaxFrameSize: s.maxFrameSize}
	buf := make([]byte, s.readSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, evt := range parser.Feed(buf[:n]) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				if job, done, dispatchErr := s.dispatch(jobID, evt); done {
					return job, dispatchErr
				}
			}
			if frameErr := parser.Err(); frameErr != nil {
				return nil, &jobs.TransportError{Op: "stream", JobID: jobID, Err: frameErr}
			}
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(readErr, io.EOF) {
				return nil, jobs.ErrStreamEnded
			}
			return nil, &jobs.TransportError{Op: "stream", JobID: jobID, Err: readErr}
		}
	}
}

// dispatch applies one event; done reports that the watch is over.
func (s *StreamWatcher) dispatch(jobID string, evt sse.Event) (*jobs.Job, bool, error) {
	switch evt.Type {
	case eventTypeError, eventTypeTimeout:
		return nil, true, &jobs.StreamError{
			JobID:   jobID,
			Event:   evt.Type,
			Message: eventDetail(evt),
		}
	case eventTypeStatus:
		if evt.Data == "" {
			return nil, false, nil
		}
		var payload statusPayload
		if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil {
			s.reportParseError(&jobs.ParseError{JobID: jobID, Payload: evt.Data, Err: err})
			return nil, false, nil
		}
		job := payload.Job
		if job.ID == "" {
			job.ID = jobID
		}
		switch job.Status {
		case jobs.StatusCompleted:
			return &job, true, nil
		case jobs.StatusFailed:
			if job.ErrorMessage == "" {
				job.ErrorMessage = firstNonEmpty(payload.Error, payload.Detail)
			}
			msg := job.FailureMessage()
			return &job, true, &jobs.StreamError{
				JobID:   jobID,
				Event:   evt.Type,
				Message: msg,
				Err:     &jobs.JobFailedError{JobID: jobID, Message: msg},
			}
		case jobs.StatusPending, jobs.StatusRunning:
			return nil, false, nil
		default:
			s.logger.Warn("ignoring job status event with unknown status", "job_id", jobID, "status", string(job.Status))
			return nil, false, nil
		}
	default:
		return nil, false, nil
	}
}

func (s *StreamWatcher) reportParseError(err *jobs.ParseError) {
	s.logger.Warn("ignoring unparsable job status event", "job_id", err.JobID, "error", err.Err)
	if s.onParseError != nil {
		s.onParseError(err)
	}
}

// eventDetail extracts a message from an error/timeout payload, which may be plain
// text or a JSON object.
func eventDetail(evt sse.Event) string {
	data := strings.TrimSpace(evt.Data)
	if strings.HasPrefix(data, "{") {
		var body struct {
			ErrorMessage string `json:"error_message"`
			Detail       string `json:"detail"`
			Message      string `json:"message"`
			Error        string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &body); err == nil {
			data = firstNonEmpty(body.ErrorMessage, body.Detail, body.Message, body.Error)
		}
	}
	if data != "" {
		return data
	}
	if evt.Type == eventTypeTimeout {
		return "job stream timed out"
	}
	return "job stream reported an error"
}

func classifyOpenError(jobID string, err error) error {
	if errors.Is(err, jobs.ErrAuthExpired) {
		return err
	}
	var transportErr *jobs.TransportError
	if errors.As(err, &transportErr) {
		return err
	}
	return &jobs.TransportError{Op: "stream", JobID: jobID, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
