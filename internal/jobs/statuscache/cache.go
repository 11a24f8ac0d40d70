// Package statuscache keeps terminal job statuses in Redis so repeated waits on
// a finished job settle without touching the backend. Entries belong to one
// hospital and one credential, and never outlive that credential, so a hit
// cannot hand another user's result to a caller or hide an expired session.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/jobclient"
	"github.com/wolfman30/hospital-scheduling-admin/internal/tenancy"
)

const (
	keyPrefix  = "job_status:"
	DefaultTTL = 24 * time.Hour
)

// Store is a Redis-backed terminal status cache scoped by hospital and credential.
type Store struct {
	redis  *redis.Client
	ttl    time.Duration
	now    func() time.Time
	tracer trace.Tracer
}

// New returns nil when redisClient is nil so callers can wire it unconditionally.
func New(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		redis:  redisClient,
		ttl:    ttl,
		now:    time.Now,
		tracer: otel.Tracer("schedadmin.internal.jobs.statuscache"),
	}
}

// Lookup returns a cached terminal job for the tenant and credential in ctx.
// Callers without a credential of known expiry always miss.
func (s *Store) Lookup(ctx context.Context, jobID string) (*jobs.Job, bool, error) {
	if s == nil || s.redis == nil {
		return nil, false, nil
	}
	if jobID == "" {
		return nil, false, errors.New("statuscache: job id required")
	}
	key, _, ok := s.cacheKey(ctx, jobID)
	if !ok {
		return nil, false, nil
	}
	ctx, span := s.tracer.Start(ctx, "statuscache.lookup", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	raw, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, fmt.Errorf("statuscache: get: %w", err)
	}
	var job jobs.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, false, fmt.Errorf("statuscache: decode: %w", err)
	}
	if !job.Status.IsTerminal() {
		return nil, false, nil
	}
	return &job, true, nil
}

// Store saves job if it is terminal; non-terminal jobs are ignored. The entry
// expires no later than the credential in ctx.
func (s *Store) Store(ctx context.Context, job *jobs.Job) error {
	if s == nil || s.redis == nil || job == nil || !job.Status.IsTerminal() {
		return nil
	}
	if job.ID == "" {
		return errors.New("statuscache: job id required")
	}
	key, expiresAt, ok := s.cacheKey(ctx, job.ID)
	if !ok {
		return nil
	}
	ttl := s.ttl
	if left := expiresAt.Sub(s.now()); left < ttl {
		ttl = left
	}
	if ttl < time.Second {
		return nil
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("statuscache: marshal: %w", err)
	}
	ctx, span := s.tracer.Start(ctx, "statuscache.store", trace.WithAttributes(attribute.String("job.id", job.ID)))
	defer span.End()

	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("statuscache: set: %w", err)
	}
	return nil
}

// cacheKey is job_status:{hospital}:{credential}:{job}.
func (s *Store) cacheKey(ctx context.Context, jobID string) (string, time.Time, bool) {
	scope, expiresAt, ok := jobclient.CredentialScope(ctx, s.now())
	if !ok {
		return "", time.Time{}, false
	}
	hospitalID, ok := tenancy.HospitalIDFromContext(ctx)
	if !ok {
		hospitalID = "_"
	}
	return keyPrefix + hospitalID + ":" + scope + ":" + jobID, expiresAt, true
}
