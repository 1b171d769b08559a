package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"sysmon/internal/eventbus"
	rtsup "sysmon/internal/runtime/supervisor"
	logx "sysmon/pkg/logx"
)

const (
	DefaultWorkers    = 10
	DefaultHeartbeat  = 50 * time.Millisecond
	DefaultDrainPause = 100 * time.Millisecond
)

// Config controls the pool.
type Config struct {
	Workers int

	// Heartbeat is how long a worker sleeps when it finds nothing due.
	Heartbeat time.Duration

	// DrainPause is the pause between TerminateAll sweeps.
	DrainPause time.Duration

	// OnFailure receives job and worker-loop failures.
	// nil installs a handler that logs and increments tasks_failed.
	OnFailure FailureHandler
}

// Snapshot is a point-in-time view of the pool.
type Snapshot struct {
	Counters     map[string]int64 `json:"counters"`
	WorkersAlive int              `json:"workers_alive"`
	WorkersIdle  int              `json:"workers_idle"`
	WorkersGhost int              `json:"workers_ghost"`
	WorkersBusy  int              `json:"workers_busy"`
	Queued       int              `json:"queued"`
	Outstanding  int              `json:"outstanding"`
	BlackHole    bool             `json:"black_hole"`
}

// Counter returns a counter value from the snapshot (zero if absent).
func (s Snapshot) Counter(name string) int64 { return s.Counters[name] }

// Pool runs a fixed number of workers over a shared queue of periodic jobs.
// Jobs requeue themselves until terminated.
type Pool struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q         *queue
	stats     *Stats
	blackHole atomic.Bool
	onFailure FailureHandler

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	workers []*worker
	alive   atomic.Int32
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.DrainPause <= 0 {
		cfg.DrainPause = DefaultDrainPause
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	p := &Pool{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "pool")),
		bus:   bus,
		q:     newQueue(),
		stats: NewStats(),
	}
	p.onFailure = cfg.OnFailure
	if p.onFailure == nil {
		p.onFailure = p.defaultFailureHandler
	}
	return p
}

func (p *Pool) Config() Config { return p.cfg }

// Collector exposes the pool's counters to failure handlers and jobs.
func (p *Pool) Collector() *Stats { return p.stats }

// Run spawns the workers. If workers from a previous run are still alive it
// returns false, or with block waits (bounded by ctx) for them to exit first.
// It reports whether a new set of workers was started.
func (p *Pool) Run(ctx context.Context, block bool) bool {
	if p.Alive() > 0 {
		if !block {
			return false
		}
		p.mu.Lock()
		sup := p.sup
		p.mu.Unlock()
		if sup != nil {
			select {
			case <-sup.Done():
			case <-ctx.Done():
				return false
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alive.Load() > 0 {
		return false
	}

	sup := rtsup.New(ctx, rtsup.WithLogger(p.log))
	workers := make([]*worker, p.cfg.Workers)
	for i := range workers {
		workers[i] = &worker{id: i, pool: p, abort: make(chan struct{})}
	}
	p.sup = sup
	p.workers = workers

	p.alive.Add(int32(len(workers)))
	for _, w := range workers {
		w := w
		sup.Go0(fmt.Sprintf("pool.worker-%d", w.id), func(ctx context.Context) {
			defer p.alive.Add(-1)
			w.loop(ctx)
		})
	}
	p.log.Debug("pool started", logx.Int("workers", len(workers)), logx.Duration("heartbeat", p.cfg.Heartbeat))
	return true
}

// Enqueue appends j to the queue, or discards it while the black hole is on.
func (p *Pool) Enqueue(j Job) {
	if j == nil {
		p.report(Failure{Kind: FailureLoop, Worker: -1, Err: ErrNilJob})
		return
	}
	if p.blackHole.Load() {
		p.stats.Increment(CounterDiscarded)
		p.log.Debug("job went down the black hole", logx.String("job", j.Name()))
		return
	}
	p.q.Put(j)
}

// BlackHole toggles discard-on-enqueue. Workers requeue through Enqueue,
// so while it is on every job leaves the pool after its current cycle.
func (p *Pool) BlackHole(enabled bool) {
	p.blackHole.Store(enabled)
	p.log.Debug("black hole", logx.Bool("enabled", enabled))
}

// Join waits until every enqueued job has been acknowledged.
// Periodic jobs requeue forever, so callers bound it with ctx.
func (p *Pool) Join(ctx context.Context) error {
	p.log.Debug("joining pool", logx.Int("queued", p.q.Len()), logx.Int("outstanding", p.q.Outstanding()))
	return p.q.Join(ctx)
}

// TerminateAll removes every queued job without executing it and returns
// how many were removed. Jobs currently held by workers are not touched.
func (p *Pool) TerminateAll(ctx context.Context) int {
	n := 0
	for {
		for {
			j, ok := p.q.TryGet()
			if !ok {
				break
			}
			if err := p.q.Done(); err != nil {
				p.report(Failure{Kind: FailureLoop, Job: j, Worker: -1, Err: err})
			}
			n++
			p.stats.Increment(CounterDrained)
			p.log.Debug("job drained from queue", logx.String("job", j.Name()))
		}
		if p.q.Empty() {
			break
		}
		if !sleepCtx(ctx, nil, p.cfg.DrainPause) {
			break
		}
	}
	if n > 0 {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypePoolDrained, Data: n})
	}
	return n
}

// Abort tells every worker to stop after its current item and drains the
// queue. With block it waits (bounded by ctx) for the workers to exit.
func (p *Pool) Abort(ctx context.Context, block bool) error {
	p.mu.Lock()
	workers := p.workers
	sup := p.sup
	p.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	p.TerminateAll(ctx)

	if !block || sup == nil {
		return nil
	}
	select {
	case <-sup.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	// Workers may have requeued their last item on the way out.
	p.TerminateAll(ctx)
	return nil
}

// Alive returns the number of running workers.
func (p *Pool) Alive() int { return int(p.alive.Load()) }

// Idle reports whether no alive worker holds non-ghost work.
func (p *Pool) Idle() bool {
	for _, w := range p.liveWorkers() {
		if w.state.Load() == stateBusy {
			return false
		}
	}
	return true
}

// Done reports whether the queue is empty.
func (p *Pool) Done() bool { return p.q.Empty() }

// WaitIdle polls at heartbeat rate until Idle reports true or ctx is done.
func (p *Pool) WaitIdle(ctx context.Context) error {
	for !p.Idle() {
		if !sleepCtx(ctx, nil, p.cfg.Heartbeat) {
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pool) Stats() Snapshot {
	snap := Snapshot{
		Counters:    p.stats.Snapshot(),
		Queued:      p.q.Len(),
		Outstanding: p.q.Outstanding(),
		BlackHole:   p.blackHole.Load(),
	}
	for _, w := range p.liveWorkers() {
		snap.WorkersAlive++
		switch w.state.Load() {
		case stateIdle:
			snap.WorkersIdle++
		case stateGhost:
			snap.WorkersGhost++
		case stateBusy:
			snap.WorkersBusy++
		}
	}
	return snap
}

// Supervisor returns the supervisor of the current run (nil before Run).
func (p *Pool) Supervisor() *rtsup.Supervisor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sup
}

func (p *Pool) liveWorkers() []*worker {
	p.mu.Lock()
	ws := p.workers
	p.mu.Unlock()
	out := ws[:0:0]
	for _, w := range ws {
		if !w.exited.Load() {
			out = append(out, w)
		}
	}
	return out
}

// report forwards f to the failure handler. The handler is isolated: a panic
// inside it is logged and swallowed.
func (p *Pool) report(f Failure) {
	if f.Stack == "" && f.Err != nil {
		f.Stack = fmt.Sprintf("%+v", f.Err)
	}
	p.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFailed, Job: f.JobName(), Data: f.Err})

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("failure handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	p.onFailure(f)
}

func (p *Pool) defaultFailureHandler(f Failure) {
	p.stats.Increment(CounterFailed)
	p.log.Error("job failed",
		logx.String("kind", f.Kind.String()),
		logx.String("job", f.JobName()),
		logx.Int("worker", f.Worker),
		logx.Err(f.Err),
		logx.Stack(f.Stack),
	)
}

// sleepCtx sleeps for d. It returns false if ctx or abort fired first.
func sleepCtx(ctx context.Context, abort <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-abort:
		return false
	}
}
