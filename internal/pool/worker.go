package pool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"sysmon/internal/eventbus"
	logx "sysmon/pkg/logx"
)

const (
	stateIdle int32 = iota
	stateBusy
	stateGhost // busy on a ghost job
)

type worker struct {
	id    int
	pool  *Pool
	state atomic.Int32

	abort     chan struct{}
	abortOnce sync.Once
	exited    atomic.Bool
}

func (w *worker) stop() {
	w.abortOnce.Do(func() { close(w.abort) })
}

func (w *worker) aborted(ctx context.Context) bool {
	select {
	case <-w.abort:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// loop is fetch-then-act until aborted. Nothing a job does ends the loop.
func (w *worker) loop(ctx context.Context) {
	defer w.exited.Store(true)
	log := w.pool.log.With(logx.Int("worker", w.id))
	log.Trace("worker started")

	for !w.aborted(ctx) {
		sleep, ok := w.step(ctx, log)
		if !ok {
			sleep = true
		}
		if sleep && !sleepCtx(ctx, w.abort, w.pool.cfg.Heartbeat) {
			break
		}
	}
	w.state.Store(stateIdle)
	log.Trace("worker stopped")
}

// step handles at most one queue item. It reports whether the worker should
// sleep a heartbeat before the next fetch; ok is false when the step itself
// failed and was reported as a loop failure.
func (w *worker) step(ctx context.Context, log logx.Logger) (sleep bool, ok bool) {
	p := w.pool
	var held Job
	defer func() {
		if r := recover(); r != nil {
			p.report(Failure{Kind: FailureLoop, Job: held, Worker: w.id, Err: PanicError(r), Stack: string(debug.Stack())})
			// The item was taken: put it back unless terminated, then acknowledge it.
			if held != nil {
				if !held.Terminated() {
					p.Enqueue(held)
				}
				w.ack(held)
			}
			ok = false
		}
	}()

	j, got := p.q.TryGet()
	if !got {
		w.state.Store(stateIdle)
		return true, true
	}
	held = j

	if j.Ghost() {
		w.state.Store(stateGhost)
	} else {
		w.state.Store(stateBusy)
	}

	if j.Terminated() {
		held = nil
		w.drop(j, log)
		w.ack(j)
		return true, true
	}
	if !j.Executable() {
		held = nil
		p.Enqueue(j)
		p.stats.Increment(CounterRequeued)
		w.ack(j)
		return true, true
	}

	w.execute(ctx, j)
	p.stats.Increment(CounterExecuted)
	j.Reset()

	held = nil
	if j.Terminated() {
		w.drop(j, log)
	} else {
		p.Enqueue(j)
	}
	w.ack(j)
	return false, true
}

// execute runs the job body and converts an error or panic into a Failure.
func (w *worker) execute(ctx context.Context, j Job) {
	p := w.pool
	defer func() {
		if r := recover(); r != nil {
			p.report(Failure{Kind: FailureJob, Job: j, Worker: w.id, Err: PanicError(r), Stack: string(debug.Stack())})
		}
	}()
	if err := j.Execute(ctx); err != nil {
		p.report(Failure{Kind: FailureJob, Job: j, Worker: w.id, Err: err})
	}
}

func (w *worker) drop(j Job, log logx.Logger) {
	p := w.pool
	p.stats.Increment(CounterDropped)
	p.bus.Publish(eventbus.Event{Type: eventbus.TypeJobDropped, Job: j.Name()})
	log.Debug("job found terminated, dropped", logx.String("job", j.Name()))
}

func (w *worker) ack(j Job) {
	if err := w.pool.q.Done(); err != nil {
		w.pool.report(Failure{Kind: FailureLoop, Job: j, Worker: w.id, Err: err})
	}
}
