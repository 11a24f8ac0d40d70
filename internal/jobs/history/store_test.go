package history

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/watch"
	"github.com/wolfman30/hospital-scheduling-admin/internal/tenancy"
)

func TestRecordInsertsOutcome(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	outcome := watch.Outcome{
		SessionID: "sess-1",
		JobID:     "42",
		Strategy:  watch.StrategyStream,
		State:     watch.StateFailed,
		Job:       &jobs.Job{ID: "42", Status: jobs.StatusFailed},
		Err:       &jobs.JobFailedError{JobID: "42", Message: "boom"},
		Labels:    map[string]string{"flow": "generate"},
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
	}

	mock.ExpectExec("INSERT INTO job_watch_sessions").
		WithArgs("sess-1", "hosp-1", "42", "STREAM", "FAILED", "job_failed", "boom", "FAILED", []byte(`{"flow":"generate"}`), started, int64(1500)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := tenancy.WithHospitalID(context.Background(), "hosp-1")
	if err := NewStore(mock).Record(ctx, outcome); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordCancelledOutcome(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	outcome := watch.Outcome{
		SessionID: "sess-2",
		JobID:     "43",
		Strategy:  watch.StrategyPoll,
		State:     watch.StateCancelled,
		Err:       jobs.ErrWatchTimeout,
		Labels:    map[string]string{"hospital_id": "hosp-9"},
	}
	mock.ExpectExec("INSERT INTO job_watch_sessions").
		WithArgs("sess-2", "hosp-9", "43", "POLL", "CANCELLED", "timeout", "", "", pgxmock.AnyArg(), pgxmock.AnyArg(), int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := NewStore(mock).Record(context.Background(), outcome); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordPropagatesDBError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO job_watch_sessions").WillReturnError(errors.New("connection refused"))

	err = NewStore(mock).Record(context.Background(), watch.Outcome{SessionID: "sess-3", State: watch.StateResolved})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRecordRequiresSessionID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	if err := NewStore(mock).Record(context.Background(), watch.Outcome{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestListRecent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := mock.NewRows([]string{
		"session_id", "hospital_id", "job_id", "strategy", "state", "reason",
		"message", "job_status", "labels", "started_at", "duration_ms",
	}).
		AddRow("sess-1", "hosp-1", "42", "STREAM", "RESOLVED", "completed", "", "COMPLETED", []byte(`{"flow":"upload"}`), started, int64(900)).
		AddRow("sess-0", "hosp-1", "41", "POLL", "CANCELLED", "cancelled", "", "", []byte(`{}`), started.Add(-time.Minute), int64(100))
	mock.ExpectQuery("SELECT session_id").WithArgs("hosp-1", maxListLimit).WillReturnRows(rows)

	records, err := NewStore(mock).ListRecent(context.Background(), "hosp-1", 10000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Labels["flow"] != "upload" || records[0].JobStatus != "COMPLETED" {
		t.Fatalf("unexpected first record: %#v", records[0])
	}
	if records[1].State != "CANCELLED" {
		t.Fatalf("unexpected second record: %#v", records[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListRecentRequiresHospital(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	if _, err := NewStore(mock).ListRecent(context.Background(), "", 5); err == nil {
		t.Fatalf("expected validation error")
	}
}
