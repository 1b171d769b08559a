package pool

import "context"

// Job is the unit the pool schedules.
//
// A job is executed by at most one worker at a time: it is either in the
// queue or held by exactly one worker. Once Terminated reports true the
// pool never executes nor requeues it again.
type Job interface {
	Name() string

	// Executable reports whether the job is due. It is false for a
	// terminated job.
	Executable() bool

	// Execute runs the body once. Implementations record the execution
	// time even when the body fails or panics.
	Execute(ctx context.Context) error

	// Reset is called after every execution, before the job is requeued.
	Reset()

	// Terminate is idempotent.
	Terminate()
	Terminated() bool

	// Ghost jobs do not count as active work (status printers and the like).
	Ghost() bool
}
