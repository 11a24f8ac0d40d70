// Command jobwatch waits for one backend job from the terminal and prints its
// outcome as JSON. Exit status: 0 resolved, 1 failed, 2 usage, 3 cancelled.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	appconfig "github.com/wolfman30/hospital-scheduling-admin/internal/config"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/jobclient"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/watch"
	"github.com/wolfman30/hospital-scheduling-admin/internal/tenancy"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

const (
	exitResolved  = 0
	exitFailed    = 1
	exitUsage     = 2
	exitCancelled = 3
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], appconfig.Load(), os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type result struct {
	SessionID  string `json:"session_id"`
	JobID      string `json:"job_id"`
	Strategy   string `json:"strategy"`
	State      string `json:"state"`
	Reason     string `json:"reason"`
	Message    string `json:"message,omitempty"`
	Job        any    `json:"job,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func run(ctx context.Context, args []string, cfg *appconfig.Config, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("jobwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		jobID    = fs.String("job", "", "job id to watch (required)")
		strategy = fs.String("strategy", cfg.JobWatchStrategy, "POLL or STREAM")
		timeout  = fs.Duration("timeout", cfg.JobWatchTimeout, "give up after this long (0 waits forever)")
		interval = fs.Duration("interval", cfg.JobPollInterval, "poll interval")
		token    = fs.String("token", os.Getenv("BACKEND_TOKEN"), "bearer token for the backend")
		hospital = fs.String("hospital", os.Getenv("HOSPITAL_ID"), "hospital id sent as X-Hospital-Id")
		baseURL  = fs.String("backend", cfg.BackendBaseURL, "backend base url")
		verbose  = fs.Bool("v", false, "log watch progress to stderr")
	)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *jobID == "" && fs.NArg() > 0 {
		*jobID = fs.Arg(0)
	}
	if *jobID == "" {
		fmt.Fprintln(stderr, "jobwatch: -job is required")
		fs.Usage()
		return exitUsage
	}
	parsed, err := watch.ParseStrategy(*strategy, watch.StrategyStream)
	if err != nil {
		fmt.Fprintf(stderr, "jobwatch: %v\n", err)
		return exitUsage
	}

	level := "error"
	if *verbose {
		level = "debug"
	}
	logger := logging.NewWithWriter(stderr, level)

	client, err := jobclient.New(jobclient.Config{
		BaseURL: *baseURL,
		Timeout: cfg.BackendTimeout,
		Logger:  logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "jobwatch: %v\n", err)
		return exitUsage
	}

	ctx = jobclient.WithCredential(ctx, *token)
	if *hospital != "" {
		ctx = tenancy.WithHospitalID(ctx, *hospital)
	}

	watcher := watch.New(watch.Config{
		Fetcher:  client,
		Opener:   client,
		Strategy: parsed,
		Interval: *interval,
		Logger:   logger,
	})
	out := watcher.Await(ctx, *jobID, watch.Options{Timeout: *timeout, Labels: map[string]string{"flow": "cli"}})

	res := result{
		SessionID:  out.SessionID,
		JobID:      out.JobID,
		Strategy:   string(out.Strategy),
		State:      string(out.State),
		Reason:     out.Reason(),
		Message:    out.Message(),
		DurationMS: out.Duration.Milliseconds(),
	}
	if out.Job != nil {
		res.Job = out.Job
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)

	switch out.State {
	case watch.StateResolved:
		return exitResolved
	case watch.StateCancelled:
		return exitCancelled
	default:
		return exitFailed
	}
}
