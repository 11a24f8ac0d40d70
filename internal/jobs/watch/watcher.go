// Package watch waits for asynchronous backend jobs to reach a terminal status,
// either by polling GET /job/{id} or by reading the job event stream.
package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs"
	"github.com/wolfman30/hospital-scheduling-admin/internal/observability/metrics"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

const recordTimeout = 5 * time.Second

// TerminalCache remembers jobs that already reached a terminal status.
// Terminal jobs never reopen, so a hit settles a session without a transport.
type TerminalCache interface {
	Lookup(ctx context.Context, jobID string) (*jobs.Job, bool, error)
	Store(ctx context.Context, job *jobs.Job) error
}

// OutcomeRecorder persists settled sessions.
type OutcomeRecorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Config wires the collaborators shared by every session of a Watcher.
type Config struct {
	Fetcher  StatusFetcher
	Opener   StreamOpener
	Strategy Strategy
	Interval time.Duration
	Timeout  time.Duration
	Cache    TerminalCache
	Recorder OutcomeRecorder
	Metrics  *metrics.WatchMetrics
	Logger   *logging.Logger
}

// Options tune a single watch; zero values fall back to the Watcher config.
type Options struct {
	Strategy Strategy
	Interval time.Duration
	Timeout  time.Duration
	// Labels are copied onto the outcome for logs and history (flow, hospital).
	Labels map[string]string
}

// Watcher owns at most one ACTIVE session for its logical caller.
// Starting a new watch cancels the previous one first.
type Watcher struct {
	cfg    Config
	poller *Poller
	stream *StreamWatcher
	logger *logging.Logger
	tracer trace.Tracer

	startMu sync.Mutex
	mu      sync.Mutex
	current *Session

	// pins counts Registry.Watch calls in flight; guarded by the Registry's mutex.
	pins int
}

// New builds a Watcher. The default strategy is STREAM when an opener is set.
func New(cfg Config) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyStream
	}
	w := &Watcher{
		cfg:    cfg,
		logger: cfg.Logger,
		tracer: otel.Tracer("schedadmin/job-watch"),
	}
	if cfg.Fetcher != nil {
		w.poller = NewPoller(cfg.Fetcher, cfg.Interval)
	}
	if cfg.Opener != nil {
		w.stream = NewStreamWatcher(cfg.Opener, cfg.Logger)
		w.stream.OnParseError(func(*jobs.ParseError) { cfg.Metrics.ObserveParseError() })
	}
	return w
}

// Watch starts observing jobID and returns the session immediately.
// ctx cancellation settles the session as CANCELLED.
func (w *Watcher) Watch(ctx context.Context, jobID string, opts Options) *Session {
	w.startMu.Lock()
	defer w.startMu.Unlock()

	w.CancelActive()

	opts = w.resolve(opts)
	runCtx, cancel := context.WithCancel(ctx)
	s := newSession(uuid.NewString(), jobID, opts.Strategy, cancel)
	s.labels = opts.Labels
	// Settlement side effects keep the caller's values (tenant, credential) but
	// not its cancellation.
	values := context.WithoutCancel(ctx)
	s.onSettle = func(o Outcome) { w.finish(values, o) }

	w.mu.Lock()
	w.current = s
	w.mu.Unlock()

	w.cfg.Metrics.ObserveStarted(string(opts.Strategy))
	w.logger.Debug("job watch started",
		"session_id", s.id,
		"job_id", jobID,
		"strategy", string(opts.Strategy),
	)
	s.expireAfter(opts.Timeout)
	go w.run(runCtx, s, opts)
	return s
}

// Await is Watch followed by Wait.
func (w *Watcher) Await(ctx context.Context, jobID string, opts Options) Outcome {
	return w.Watch(ctx, jobID, opts).Wait()
}

// CancelActive cancels the caller's ACTIVE session, if any, and waits for its
// transport to be released.
func (w *Watcher) CancelActive() {
	w.mu.Lock()
	prev := w.current
	w.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
}

// Active returns the current ACTIVE session, or nil.
func (w *Watcher) Active() *Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil || w.current.State() != StateActive {
		return nil
	}
	return w.current
}

// Idle reports whether the watcher has no ACTIVE session.
func (w *Watcher) Idle() bool {
	return w.Active() == nil
}

func (w *Watcher) resolve(opts Options) Options {
	if opts.Strategy == "" {
		opts.Strategy = w.cfg.Strategy
	}
	if opts.Strategy == StrategyStream && w.stream == nil && w.poller != nil {
		opts.Strategy = StrategyPoll
	}
	if opts.Timeout == 0 {
		opts.Timeout = w.cfg.Timeout
	}
	return opts
}

func (w *Watcher) run(ctx context.Context, s *Session, opts Options) {
	ctx, span := w.tracer.Start(ctx, "watch.session", trace.WithAttributes(
		attribute.String("job.id", s.jobID),
		attribute.String("watch.strategy", string(s.strategy)),
	))
	defer span.End()

	job, err := w.observe(ctx, s, opts)
	close(s.released)
	s.settle(classify(ctx, job, err))

	outcome, _ := s.Outcome()
	span.SetAttributes(attribute.String("watch.state", string(outcome.State)))
	if outcome.State == StateFailed {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Reason())
	}
}

func (w *Watcher) observe(ctx context.Context, s *Session, opts Options) (*jobs.Job, error) {
	if w.cfg.Cache != nil {
		job, ok, err := w.cfg.Cache.Lookup(ctx, s.jobID)
		if err != nil {
			w.logger.Warn("terminal status cache lookup failed", "job_id", s.jobID, "error", err)
		} else if ok && job.Status.IsTerminal() {
			w.cfg.Metrics.ObserveCacheHit()
			return job, nil
		}
	}

	switch s.strategy {
	case StrategyPoll:
		if w.poller == nil {
			return nil, errors.New("watch: poll strategy requires a status fetcher")
		}
		return w.poller.poll(ctx, s.jobID, opts.Interval)
	case StrategyStream:
		if w.stream == nil {
			return nil, errors.New("watch: stream strategy requires a stream opener")
		}
		return w.stream.Watch(ctx, s.jobID)
	default:
		return nil, errors.New("watch: unknown strategy " + string(s.strategy))
	}
}

// classify maps a transport result onto a settlement. ctx is the session's
// transport context; its cancellation always means CANCELLED.
func classify(ctx context.Context, job *jobs.Job, err error) Outcome {
	if err == nil && job != nil {
		switch job.Status {
		case jobs.StatusCompleted:
			return Outcome{State: StateResolved, Job: job}
		case jobs.StatusFailed:
			return Outcome{State: StateFailed, Job: job, Err: &jobs.JobFailedError{JobID: job.ID, Message: job.FailureMessage()}}
		}
	}
	if ctx.Err() != nil {
		return Outcome{State: StateCancelled, Err: jobs.ErrCancelled}
	}
	if err == nil {
		err = &jobs.TransportError{Op: "watch", Err: errors.New("transport returned no terminal job")}
	}
	return Outcome{State: StateFailed, Job: job, Err: err}
}

func (w *Watcher) finish(values context.Context, o Outcome) {
	w.cfg.Metrics.ObserveSettled(string(o.Strategy), string(o.State), o.Reason(), o.Duration)

	attrs := []any{
		"session_id", o.SessionID,
		"job_id", o.JobID,
		"strategy", string(o.Strategy),
		"state", string(o.State),
		"reason", o.Reason(),
		"duration_ms", o.Duration.Milliseconds(),
	}
	for k, v := range o.Labels {
		attrs = append(attrs, k, v)
	}
	switch o.State {
	case StateFailed:
		w.logger.Warn("job watch failed", append(attrs, "error", o.Err)...)
	case StateCancelled:
		w.logger.Debug("job watch cancelled", attrs...)
	default:
		w.logger.Info("job watch resolved", attrs...)
	}

	if w.cfg.Cache == nil && w.cfg.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(values, recordTimeout)
	defer cancel()
	if w.cfg.Cache != nil && o.Job != nil && o.Job.Status.IsTerminal() {
		if err := w.cfg.Cache.Store(ctx, o.Job); err != nil {
			w.logger.Warn("terminal status cache store failed", "job_id", o.JobID, "error", err)
		}
	}
	if w.cfg.Recorder != nil {
		if err := w.cfg.Recorder.Record(ctx, o); err != nil {
			w.logger.Warn("job watch outcome record failed", "session_id", o.SessionID, "error", err)
		}
	}
}
