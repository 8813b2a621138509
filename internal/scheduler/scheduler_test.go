package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/logging"
)

// recordingRunner counts runs and tracks the peak number of concurrent runs.
type recordingRunner struct {
	mu      sync.Mutex
	runs    []string
	active  atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	failFor map[string]error
}

func (r *recordingRunner) RunJob(ctx context.Context, job Job) error {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.runs = append(r.runs, job.Name)
	r.mu.Unlock()
	return r.failFor[job.Name]
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func newTestScheduler(r Runner) *Scheduler {
	return NewScheduler(r, logging.Discard())
}

func TestAdd_Validation(t *testing.T) {
	s := newTestScheduler(&recordingRunner{})

	require.NoError(t, s.Add(Job{Name: "nightly", Cron: "0 2 * * *", Workflow: "a.yaml"}))
	assert.Error(t, s.Add(Job{Name: "nightly", Cron: "0 3 * * *", Workflow: "b.yaml"}), "duplicate name")
	assert.Error(t, s.Add(Job{Name: "", Cron: "@hourly"}))
	assert.Error(t, s.Add(Job{Name: "bad", Cron: "not a cron"}))
}

func TestCalculateNextRun(t *testing.T) {
	s := newTestScheduler(&recordingRunner{})
	from := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)

	next, err := s.CalculateNextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC), next)

	next, err = s.CalculateNextRun("30 0 12 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 30, 0, time.UTC), next)

	_, err = s.CalculateNextRun("61 * * * *", from)
	assert.Error(t, err)
}

func TestRunNow(t *testing.T) {
	r := &recordingRunner{failFor: map[string]error{"broken": errors.New("boom")}}
	s := newTestScheduler(r)
	require.NoError(t, s.Add(Job{Name: "ok", Cron: "@daily", Workflow: "ok.yaml"}))
	require.NoError(t, s.Add(Job{Name: "broken", Cron: "@daily", Workflow: "broken.yaml"}))

	require.NoError(t, s.RunNow(context.Background(), "ok"))
	require.EqualError(t, s.RunNow(context.Background(), "broken"), "boom")
	assert.Error(t, s.RunNow(context.Background(), "missing"))

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "broken", jobs[0].Name)
	assert.Equal(t, StatusError, jobs[0].LastRunStatus)
	assert.Equal(t, "boom", jobs[0].LastError)
	assert.Equal(t, "ok", jobs[1].Name)
	assert.Equal(t, StatusSuccess, jobs[1].LastRunStatus)
	assert.Equal(t, 1, jobs[1].Runs)
	assert.False(t, jobs[1].LastRunAt.IsZero())
	assert.False(t, jobs[1].NextRunAt.IsZero())
}

func TestRunsAreSerialized(t *testing.T) {
	r := &recordingRunner{delay: 30 * time.Millisecond}
	s := newTestScheduler(r)
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Add(Job{Name: name, Cron: "@daily", Workflow: name + ".yaml"}))
	}

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RunNow(context.Background(), name))
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, r.count())
	assert.Equal(t, int32(1), r.peak.Load())
}

func TestRunSkippedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	s := newTestScheduler(RunnerFunc(func(ctx context.Context, job Job) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}))
	require.NoError(t, s.Add(Job{Name: "slow", Cron: "@daily", Workflow: "slow.yaml"}))

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	require.NoError(t, s.RunNow(context.Background(), "slow"))
	assert.Equal(t, StatusSkipped, s.Jobs()[0].LastRunStatus)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StatusSuccess, s.Jobs()[0].LastRunStatus)
}

func TestStartFiresJobs(t *testing.T) {
	r := &recordingRunner{}
	s := newTestScheduler(r)
	require.NoError(t, s.Add(Job{Name: "tick", Cron: "@every 1s", Workflow: "tick.yaml"}))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start")

	assert.Eventually(t, func() bool { return r.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestStopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	var cancelled atomic.Bool
	s := newTestScheduler(RunnerFunc(func(ctx context.Context, job Job) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))
	require.NoError(t, s.Add(Job{Name: "long", Cron: "@every 1s", Workflow: "long.yaml"}))
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
	require.NoError(t, s.Stop())
	assert.True(t, cancelled.Load())
}

func TestRemove(t *testing.T) {
	s := newTestScheduler(&recordingRunner{})
	require.NoError(t, s.Add(Job{Name: "a", Cron: "@hourly", Workflow: "a.yaml"}))
	s.Remove("a")
	s.Remove("unknown")
	assert.Empty(t, s.Jobs())
	require.NoError(t, s.Add(Job{Name: "a", Cron: "@hourly", Workflow: "a.yaml"}))
}
