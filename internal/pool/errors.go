package pool

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrTooManyDone = errors.New("pool: Done called more times than items were taken")
	ErrNilJob      = errors.New("pool: nil job")
)

// FailureKind tells job-execution failures apart from worker-loop failures.
type FailureKind int

const (
	// FailureJob is an error or panic out of Job.Execute.
	FailureJob FailureKind = iota + 1
	// FailureLoop is anything else that went wrong inside the worker loop.
	FailureLoop
)

func (k FailureKind) String() string {
	switch k {
	case FailureJob:
		return "job"
	case FailureLoop:
		return "loop"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Failure is what the pool hands to its FailureHandler.
// Job is nil when the failure happened before a job was taken.
type Failure struct {
	Kind   FailureKind
	Job    Job
	Worker int
	Err    error
	Stack  string
}

// JobName returns the failed job's name, or "" for loop failures without a job.
func (f Failure) JobName() string {
	if f.Job == nil {
		return ""
	}
	return f.Job.Name()
}

// FailureHandler receives every failure. It must not block for long; a
// panicking handler is recovered and logged.
type FailureHandler func(Failure)

// PanicError converts a recovered value into an error carrying a stack.
func PanicError(r any) error {
	if err, ok := r.(error); ok {
		return errors.Wrap(err, "panic")
	}
	return errors.Newf("panic: %v", r)
}
