package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired means the backend rejected the caller credential (HTTP 401).
	ErrAuthExpired = errors.New("jobs: credential expired")
	// ErrCancelled means the caller withdrew interest before a terminal status was seen.
	ErrCancelled = errors.New("jobs: watch cancelled")
	// ErrWatchTimeout is a caller-side deadline; it is a cancellation, not a failure.
	ErrWatchTimeout = fmt.Errorf("%w: caller timeout elapsed", ErrCancelled)
	// ErrStreamEnded means the event stream closed before any terminal event.
	ErrStreamEnded = errors.New("jobs: stream ended before terminal status")
	// ErrInvalidStatus means the backend reported a status outside the known set.
	ErrInvalidStatus = errors.New("jobs: invalid job status")
)

// TransportError wraps a network or HTTP failure talking to the backend.
type TransportError struct {
	Op         string
	JobID      string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("jobs: %s job %s: http status %d: %v", e.Op, e.JobID, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("jobs: %s job %s: http status %d", e.Op, e.JobID, e.StatusCode)
	default:
		return fmt.Sprintf("jobs: %s job %s: %v", e.Op, e.JobID, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// JobFailedError reports a job that reached FAILED.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("jobs: job %s failed: %s", e.JobID, e.Message)
}

// StreamError reports a terminal failure signalled on the event stream:
// an "error" or "timeout" event, or a FAILED status event (Err is then a *JobFailedError).
type StreamError struct {
	JobID   string
	Event   string
	Message string
	Err     error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("jobs: stream %s event for job %s: %s", e.Event, e.JobID, e.Message)
}

func (e *StreamError) Unwrap() error { return e.Err }

// ParseError is a status event whose payload was not valid JSON. It never ends a watch.
type ParseError struct {
	JobID   string
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("jobs: unparsable status payload for job %s: %v", e.JobID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FailureMessage returns the user-facing detail carried by a watch error.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var streamErr *StreamError
	if errors.As(err, &streamErr) && streamErr.Message != "" {
		return streamErr.Message
	}
	var failedErr *JobFailedError
	if errors.As(err, &failedErr) && failedErr.Message != "" {
		return failedErr.Message
	}
	return err.Error()
}
