// Package scheduler runs workflow files on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/autoflow/internal/logging"
)

// Job is one scheduled workflow.
type Job struct {
	Name     string
	Cron     string
	Workflow string
}

// JobStatus is the observable state of a job.
type JobStatus struct {
	Name          string    `json:"name"`
	Cron          string    `json:"cron"`
	Workflow      string    `json:"workflow"`
	NextRunAt     time.Time `json:"next_run_at,omitempty"`
	LastRunAt     time.Time `json:"last_run_at,omitempty"`
	LastRunStatus string    `json:"last_run_status,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Runs          int       `json:"runs"`
}

// Run statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Runner executes one scheduled workflow. A non-nil error marks the run failed.
type Runner interface {
	RunJob(ctx context.Context, job Job) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job) error

func (f RunnerFunc) RunJob(ctx context.Context, job Job) error { return f(ctx, job) }

type jobState struct {
	job    Job
	entry  cron.EntryID
	status JobStatus
}

// Scheduler fires jobs from a cron table. Runs are serialized: at most one
// workflow executes at a time, and a job that is still running when it fires
// again is skipped.
type Scheduler struct {
	runner Runner
	parser cron.Parser
	logger *slog.Logger
	cron   *cron.Cron
	now    func() time.Time

	mu      sync.Mutex
	jobs    map[string]*jobState
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	// runMu serializes workflow runs across all jobs.
	runMu sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler. Cron expressions take five fields, an
// optional leading seconds field, or a descriptor such as @hourly.
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	logger = logging.WithModule(logger, "scheduler")
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		runner:   runner,
		parser:   parser,
		logger:   logger,
		cron:     cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{logger})),
		now:      time.Now,
		jobs:     make(map[string]*jobState),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("scheduled job has no name")
	}
	if _, err := s.parser.Parse(job.Cron); err != nil {
		return fmt.Errorf("job %q: parse cron expression %q: %w", job.Name, job.Cron, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already scheduled", job.Name)
	}

	name := job.Name
	id, err := s.cron.AddFunc(job.Cron, func() { s.fire(name) })
	if err != nil {
		return fmt.Errorf("job %q: %w", job.Name, err)
	}
	s.jobs[name] = &jobState{
		job:    job,
		entry:  id,
		status: JobStatus{Name: job.Name, Cron: job.Cron, Workflow: job.Workflow},
	}
	return nil
}

// Remove unschedules a job. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.jobs[name]; ok {
		s.cron.Remove(st.entry)
		delete(s.jobs, name)
	}
}

// Start begins firing jobs. Runs use a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels running workflows and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// RunNow runs the named job immediately on the caller's goroutine, sharing
// the serialization of scheduled runs.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	st, ok := s.jobs[name]
	var job Job
	if ok {
		job = st.job
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	return s.run(ctx, job)
}

// Jobs returns the status of every job, sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, st := range s.jobs {
		status := st.status
		if s.started {
			status.NextRunAt = s.cron.Entry(st.entry).Next
		} else if next, err := s.CalculateNextRun(st.job.Cron, s.now()); err == nil {
			status.NextRunAt = next
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	st, ok := s.jobs[name]
	ctx := s.ctx
	var job Job
	if ok {
		job = st.job
	}
	s.mu.Unlock()
	if !ok || ctx == nil {
		return
	}
	if err := s.run(ctx, job); err != nil {
		s.logger.Error("scheduled job failed",
			slog.String("job", job.Name),
			slog.String("error", err.Error()),
		)
	}
}

// run executes job once unless it is already in flight.
func (s *Scheduler) run(ctx context.Context, job Job) error {
	if !s.tryAcquire(job.Name) {
		s.logger.Warn("job still running, skipping", slog.String("job", job.Name))
		s.record(job.Name, StatusSkipped, nil)
		return nil
	}
	defer s.releaseJob(job.Name)

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.Info("running scheduled job",
		slog.String("job", job.Name),
		slog.String("workflow", job.Workflow),
	)
	err := s.runner.RunJob(ctx, job)
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	s.record(job.Name, status, err)
	return err
}

func (s *Scheduler) record(name, status string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[name]
	if !ok {
		return
	}
	st.status.LastRunStatus = status
	if status == StatusSkipped {
		return
	}
	st.status.LastRunAt = s.now().UTC()
	st.status.Runs++
	st.status.LastError = ""
	if err != nil {
		st.status.LastError = err.Error()
	}
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
