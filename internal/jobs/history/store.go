// Package history persists settled job watch sessions to Postgres so operators
// can see which uploads and schedule generations finished, failed, or were
// abandoned.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/watch"
	"github.com/wolfman30/hospital-scheduling-admin/internal/tenancy"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Record is one row of job_watch_sessions.
type Record struct {
	SessionID  string            `json:"session_id"`
	HospitalID string            `json:"hospital_id"`
	JobID      string            `json:"job_id"`
	Strategy   string            `json:"strategy"`
	State      string            `json:"state"`
	Reason     string            `json:"reason"`
	Message    string            `json:"message,omitempty"`
	JobStatus  string            `json:"job_status,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMS int64             `json:"duration_ms"`
}

// Store implements watch.OutcomeRecorder on Postgres.
type Store struct {
	db db
}

// NewStore builds a Postgres-backed history store.
func NewStore(db db) *Store {
	if db == nil {
		panic("history: db cannot be nil")
	}
	return &Store{db: db}
}

var _ watch.OutcomeRecorder = (*Store)(nil)

// Record inserts a settled outcome. Replays of the same session are ignored.
func (s *Store) Record(ctx context.Context, o watch.Outcome) error {
	if o.SessionID == "" {
		return errors.New("history: session id required")
	}
	hospitalID, _ := tenancy.HospitalIDFromContext(ctx)
	if hospitalID == "" {
		hospitalID = o.Labels["hospital_id"]
	}
	labels := []byte("{}")
	if len(o.Labels) > 0 {
		encoded, err := json.Marshal(o.Labels)
		if err != nil {
			return fmt.Errorf("history: marshal labels: %w", err)
		}
		labels = encoded
	}
	var jobStatus string
	if o.Job != nil {
		jobStatus = string(o.Job.Status)
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO job_watch_sessions (
			session_id, hospital_id, job_id, strategy, state, reason,
			message, job_status, labels, started_at, duration_ms
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (session_id) DO NOTHING
	`, o.SessionID, hospitalID, o.JobID, string(o.Strategy), string(o.State), o.Reason(),
		o.Message(), jobStatus, labels, o.StartedAt.UTC(), o.Duration.Milliseconds()); err != nil {
		return fmt.Errorf("history: insert session: %w", err)
	}
	return nil
}

// ListRecent returns the newest sessions for a hospital.
func (s *Store) ListRecent(ctx context.Context, hospitalID string, limit int) ([]Record, error) {
	if hospitalID == "" {
		return nil, errors.New("history: hospital id required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT session_id, hospital_id, job_id, strategy, state, reason,
		       message, job_status, labels, started_at, duration_ms
		FROM job_watch_sessions
		WHERE hospital_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, hospitalID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var rec Record
		var labels []byte
		if err := rows.Scan(&rec.SessionID, &rec.HospitalID, &rec.JobID, &rec.Strategy, &rec.State, &rec.Reason,
			&rec.Message, &rec.JobStatus, &labels, &rec.StartedAt, &rec.DurationMS); err != nil {
			return nil, fmt.Errorf("history: scan session: %w", err)
		}
		if len(labels) > 0 {
			if err := json.Unmarshal(labels, &rec.Labels); err != nil {
				return nil, fmt.Errorf("history: decode labels: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate sessions: %w", err)
	}
	return out, nil
}
