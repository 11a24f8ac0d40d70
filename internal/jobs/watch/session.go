package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs"
)

// Strategy selects the transport used to observe a job.
type Strategy string

const (
	StrategyPoll   Strategy = "POLL"
	StrategyStream Strategy = "STREAM"
)

// ParseStrategy accepts "poll" or "stream" in any case; empty means fallback.
func ParseStrategy(raw string, fallback Strategy) (Strategy, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return fallback, nil
	case string(StrategyPoll):
		return StrategyPoll, nil
	case string(StrategyStream):
		return StrategyStream, nil
	default:
		return "", fmt.Errorf("watch: unknown strategy %q", raw)
	}
}

// State is the lifecycle of a watch session. Only ACTIVE has outgoing transitions.
type State string

const (
	StateActive    State = "ACTIVE"
	StateResolved  State = "RESOLVED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// Outcome is the settlement of a session.
type Outcome struct {
	SessionID string
	JobID     string
	Strategy  Strategy
	State     State
	Job       *jobs.Job
	Err       error
	Labels    map[string]string
	StartedAt time.Time
	Duration  time.Duration
}

// Succeeded reports a COMPLETED job.
func (o Outcome) Succeeded() bool { return o.State == StateResolved }

// Cancelled reports that no outcome is known. Callers must treat it as a no-op.
func (o Outcome) Cancelled() bool { return o.State == StateCancelled }

// Message returns the user-facing failure detail, empty for success and cancellation.
func (o Outcome) Message() string {
	if o.State != StateFailed {
		return ""
	}
	return jobs.FailureMessage(o.Err)
}

// Reason is a low-cardinality label describing why the session settled.
func (o Outcome) Reason() string {
	switch o.State {
	case StateResolved:
		return "completed"
	case StateCancelled:
		if errors.Is(o.Err, jobs.ErrWatchTimeout) {
			return "timeout"
		}
		return "cancelled"
	case StateFailed:
		var streamErr *jobs.StreamError
		var failedErr *jobs.JobFailedError
		var transportErr *jobs.TransportError
		switch {
		case errors.Is(o.Err, jobs.ErrAuthExpired):
			return "auth_expired"
		case errors.Is(o.Err, jobs.ErrStreamEnded):
			return "stream_ended"
		case errors.As(o.Err, &failedErr):
			return "job_failed"
		case errors.As(o.Err, &streamErr):
			return "stream_" + streamErr.Event
		case errors.As(o.Err, &transportErr):
			return "transport"
		}
		return "error"
	default:
		return "active"
	}
}

// Session is one in-flight wait for a job. It settles exactly once.
type Session struct {
	id        string
	jobID     string
	strategy  Strategy
	startedAt time.Time
	labels    map[string]string

	cancelTransport context.CancelFunc
	released        chan struct{}
	done            chan struct{}
	onSettle        func(Outcome)

	mu      sync.Mutex
	state   State
	outcome Outcome
	timer   *time.Timer
}

func newSession(id, jobID string, strategy Strategy, cancel context.CancelFunc) *Session {
	return &Session{
		id:              id,
		jobID:           jobID,
		strategy:        strategy,
		startedAt:       time.Now(),
		cancelTransport: cancel,
		released:        make(chan struct{}),
		done:            make(chan struct{}),
		state:           StateActive,
	}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) JobID() string      { return s.jobID }
func (s *Session) Strategy() Strategy { return s.strategy }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session leaves ACTIVE.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session settles.
func (s *Session) Wait() Outcome {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Outcome returns the settlement if there is one.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		return Outcome{}, false
	}
	return s.outcome, true
}

// Cancel settles an ACTIVE session as CANCELLED and returns once its transport
// resource has been released. Cancelling a settled session is a no-op.
func (s *Session) Cancel() {
	s.cancelWith(jobs.ErrCancelled)
}

func (s *Session) cancelWith(reason error) {
	o, ok := s.mark(Outcome{State: StateCancelled, Err: reason})
	if !ok {
		<-s.done
		return
	}
	// Stop the transport before anyone observes CANCELLED, so no fetch or read
	// happens after Done closes.
	s.cancelTransport()
	<-s.released
	s.publish(o)
}

func (s *Session) expireAfter(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.timer = time.AfterFunc(d, func() { s.cancelWith(jobs.ErrWatchTimeout) })
}

// settle records o if the session is still ACTIVE; later calls are dropped.
func (s *Session) settle(o Outcome) bool {
	o, ok := s.mark(o)
	if !ok {
		return false
	}
	s.publish(o)
	return true
}

// mark moves an ACTIVE session to o.State. Done stays open until publish.
func (s *Session) mark(o Outcome) (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return Outcome{}, false
	}
	o.SessionID = s.id
	o.JobID = s.jobID
	o.Strategy = s.strategy
	o.Labels = s.labels
	o.StartedAt = s.startedAt
	o.Duration = time.Since(s.startedAt)
	if o.State == StateCancelled {
		o.Job = nil
	}
	s.state = o.State
	s.outcome = o
	if s.timer != nil {
		s.timer.Stop()
	}
	return o, true
}

func (s *Session) publish(o Outcome) {
	close(s.done)
	if s.onSettle != nil {
		s.onSettle(o)
	}
}
