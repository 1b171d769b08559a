// Package job provides the concrete periodic job the pool schedules.
//
// A Job pairs scheduling state (period or cron schedule, last execution,
// terminal flag) with a Runner that holds the actual work.
package job

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Runner is the body of a job.
type Runner interface {
	Run(ctx context.Context, j *Job) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, j *Job) error

func (f RunnerFunc) Run(ctx context.Context, j *Job) error { return f(ctx, j) }

// Resetter is implemented by runners that keep per-cycle state.
type Resetter interface {
	Reset()
}

type Option func(*Job)

// WithGhost excludes the job from active-work accounting.
func WithGhost() Option { return func(j *Job) { j.ghost = true } }

// WithSchedule makes the job due at schedule.Next(lastExecutedAt) instead of
// after a fixed period.
func WithSchedule(s cron.Schedule) Option { return func(j *Job) { j.schedule = s } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		if now != nil {
			j.now = now
		}
	}
}

// Job is a periodic unit of work. It is safe for concurrent inspection; the
// pool guarantees Execute is never called concurrently for one job.
type Job struct {
	id       uuid.UUID
	name     string
	period   time.Duration
	schedule cron.Schedule
	ghost    bool
	runner   Runner
	now      func() time.Time

	lastNano   atomic.Int64
	executed   atomic.Bool
	terminated atomic.Bool
	runs       atomic.Int64
}

// New builds a job that runs r at most once per period. A negative period is
// treated as zero (due on every inspection).
func New(name string, period time.Duration, r Runner, opts ...Option) *Job {
	if period < 0 {
		period = 0
	}
	j := &Job{
		id:     uuid.New(),
		name:   name,
		period: period,
		runner: r,
		now:    time.Now,
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

func (j *Job) ID() string            { return j.id.String() }
func (j *Job) Name() string          { return j.name }
func (j *Job) Period() time.Duration { return j.period }
func (j *Job) Ghost() bool           { return j.ghost }
func (j *Job) Runner() Runner        { return j.runner }

// Runs returns how many times the body has been executed.
func (j *Job) Runs() int64 { return j.runs.Load() }

func (j *Job) String() string {
	return fmt.Sprintf("%s[%s]", j.name, j.id.String()[:8])
}

// LastExecutedAt returns the zero time if the job never ran.
func (j *Job) LastExecutedAt() time.Time {
	if !j.executed.Load() {
		return time.Time{}
	}
	return time.Unix(0, j.lastNano.Load())
}

// Executable reports whether the job is due now.
func (j *Job) Executable() bool {
	if j.terminated.Load() {
		return false
	}
	if !j.executed.Load() {
		return true
	}
	last := j.LastExecutedAt()
	now := j.now()
	if j.schedule != nil {
		return !now.Before(j.schedule.Next(last))
	}
	return now.Sub(last) >= j.period
}

// Execute runs the body once and stamps the execution time when it returns,
// including on error or panic.
func (j *Job) Execute(ctx context.Context) error {
	defer func() {
		j.lastNano.Store(j.now().UnixNano())
		j.executed.Store(true)
		j.runs.Add(1)
	}()
	if j.runner == nil {
		return nil
	}
	return j.runner.Run(ctx, j)
}

func (j *Job) Reset() {
	if r, ok := j.runner.(Resetter); ok {
		r.Reset()
	}
}

// Terminate marks the job terminal. A runner that implements io.Closer is
// closed once, which also unblocks a body waiting on a stream.
func (j *Job) Terminate() {
	if !j.terminated.CompareAndSwap(false, true) {
		return
	}
	if c, ok := j.runner.(io.Closer); ok {
		_ = c.Close()
	}
}

func (j *Job) Terminated() bool { return j.terminated.Load() }
