package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs"
)

// DefaultPollInterval is the cadence between status fetches.
const DefaultPollInterval = 2 * time.Second

// StatusFetcher loads the current state of a job (GET /job/{id}).
type StatusFetcher interface {
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
}

// StatusFetcherFunc adapts a function to StatusFetcher.
type StatusFetcherFunc func(ctx context.Context, jobID string) (*jobs.Job, error)

func (f StatusFetcherFunc) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	return f(ctx, jobID)
}

// Poller fetches job status on a fixed cadence until it is terminal.
// The first fetch is issued immediately; each later fetch starts one interval
// after the previous response.
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPoller builds a poller; a non-positive interval means DefaultPollInterval.
func NewPoller(fetcher StatusFetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		sleep:    sleepContext,
	}
}

// Interval returns the configured cadence.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Poll blocks until the job is terminal, a fetch fails, or ctx is done.
func (p *Poller) Poll(ctx context.Context, jobID string) (*jobs.Job, error) {
	return p.poll(ctx, jobID, p.interval)
}

func (p *Poller) poll(ctx context.Context, jobID string, interval time.Duration) (*jobs.Job, error) {
	if p == nil || p.fetcher == nil {
		return nil, errors.New("watch: poller has no status fetcher")
	}
	if interval <= 0 {
		interval = p.interval
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		job, err := p.fetcher.GetJob(ctx, jobID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, classifyFetchError(jobID, err)
		}
		if job == nil {
			return nil, &jobs.TransportError{Op: "fetch", JobID: jobID, Err: errors.New("empty job payload")}
		}
		if !job.Status.Valid() {
			return nil, &jobs.TransportError{Op: "fetch", JobID: jobID, Err: fmt.Errorf("%w %q", jobs.ErrInvalidStatus, job.Status)}
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		if err := p.sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func classifyFetchError(jobID string, err error) error {
	if errors.Is(err, jobs.ErrAuthExpired) {
		return err
	}
	var transportErr *jobs.TransportError
	if errors.As(err, &transportErr) {
		return err
	}
	return &jobs.TransportError{Op: "fetch", JobID: jobID, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
