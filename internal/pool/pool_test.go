package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysmon/internal/eventbus"
	logx "sysmon/pkg/logx"
)

type fakeJob struct {
	name   string
	period time.Duration
	ghost  bool
	body   func(ctx context.Context, j *fakeJob) error
	reset  func(j *fakeJob)

	mu    sync.Mutex
	last  time.Time
	times []time.Time

	terminated atomic.Bool
	runs       atomic.Int32
	resets     atomic.Int32
}

func (j *fakeJob) Name() string { return j.name }
func (j *fakeJob) Ghost() bool  { return j.ghost }

func (j *fakeJob) Executable() bool {
	if j.terminated.Load() {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last.IsZero() || time.Since(j.last) >= j.period
}

func (j *fakeJob) Execute(ctx context.Context) error {
	defer func() {
		now := time.Now()
		j.mu.Lock()
		j.last = now
		j.mu.Unlock()
	}()
	j.mu.Lock()
	j.times = append(j.times, time.Now())
	j.mu.Unlock()
	j.runs.Add(1)
	if j.body == nil {
		return nil
	}
	return j.body(ctx, j)
}

func (j *fakeJob) Reset() {
	j.resets.Add(1)
	if j.reset != nil {
		j.reset(j)
	}
}

func (j *fakeJob) Terminate()       { j.terminated.Store(true) }
func (j *fakeJob) Terminated() bool { return j.terminated.Load() }

func (j *fakeJob) startTimes() []time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]time.Time(nil), j.times...)
}

func testPool(t *testing.T, workers int, onFailure FailureHandler) *Pool {
	t.Helper()
	p := New(Config{
		Workers:    workers,
		Heartbeat:  time.Millisecond,
		DrainPause: time.Millisecond,
		OnFailure:  onFailure,
	}, logx.Nop(), eventbus.New())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Abort(ctx, true)
	})
	return p
}

func testCtx(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestStatsConcurrentIncrements(t *testing.T) {
	t.Parallel()
	const goroutines, perG = 16, 500

	s := NewStats()
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < perG; k++ {
				s.Increment("hits")
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, goroutines*perG, s.Get("hits"))

	s.Decrement("hits")
	s.Set("depth", 7)
	snap := s.Snapshot()
	s.Increment("depth")
	assert.EqualValues(t, goroutines*perG-1, snap["hits"])
	assert.EqualValues(t, 7, snap["depth"])
	assert.EqualValues(t, 0, s.Get("missing"))
}

func TestQueueAccounting(t *testing.T) {
	t.Parallel()
	q := newQueue()
	a, b := &fakeJob{name: "a"}, &fakeJob{name: "b"}

	require.NoError(t, q.Join(testCtx(t, time.Second)))
	q.Put(a)
	q.Put(b)
	assert.Equal(t, 2, q.Len())

	got, ok := q.TryGet()
	require.True(t, ok)
	assert.Same(t, a, got)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Join(ctx), context.DeadlineExceeded)

	require.NoError(t, q.Done())
	_, ok = q.TryGet()
	require.True(t, ok)
	require.NoError(t, q.Done())
	assert.True(t, q.Empty())
	require.NoError(t, q.Join(testCtx(t, time.Second)))

	assert.ErrorIs(t, q.Done(), ErrTooManyDone)
	assert.Equal(t, 0, q.Outstanding())
}

func TestJobRespectsPeriod(t *testing.T) {
	t.Parallel()
	const period = 30 * time.Millisecond

	p := testPool(t, 4, nil)
	j := &fakeJob{name: "periodic", period: period}
	p.Enqueue(j)
	require.True(t, p.Run(context.Background(), false))

	require.Eventually(t, func() bool { return j.runs.Load() >= 4 }, 3*time.Second, time.Millisecond)
	require.NoError(t, p.Abort(testCtx(t, 5*time.Second), true))

	times := j.startTimes()
	for i := 1; i < len(times); i++ {
		// Each start is at least one period after the previous body finished,
		// hence at least one period after the previous start.
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), period)
	}
	assert.Equal(t, j.runs.Load(), j.resets.Load())
}

func TestTerminatedJobIsRemoved(t *testing.T) {
	t.Parallel()
	p := testPool(t, 2, nil)
	j := &fakeJob{name: "short", period: time.Hour}
	p.Enqueue(j)
	require.True(t, p.Run(context.Background(), false))

	require.Eventually(t, func() bool { return j.runs.Load() == 1 }, 2*time.Second, time.Millisecond)
	j.Terminate()

	require.Eventually(t, func() bool {
		return p.Stats().Counter(CounterDropped) == 1 && p.Done()
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, p.Join(testCtx(t, time.Second)))
	assert.EqualValues(t, 1, j.runs.Load())
}

func TestFailingJobKeepsCycling(t *testing.T) {
	t.Parallel()
	p := testPool(t, 3, nil)
	j := &fakeJob{name: "broken", body: func(context.Context, *fakeJob) error {
		return errors.New("always broken")
	}}
	p.Enqueue(j)
	require.True(t, p.Run(context.Background(), false))

	require.Eventually(t, func() bool { return j.runs.Load() >= 5 }, 3*time.Second, time.Millisecond)
	require.NoError(t, p.Abort(testCtx(t, 5*time.Second), true))

	st := p.Stats()
	assert.EqualValues(t, j.runs.Load(), st.Counter(CounterFailed))
	assert.EqualValues(t, j.runs.Load(), st.Counter(CounterExecuted))
	assert.Equal(t, 0, st.WorkersAlive)
}

func TestPanicIsReportedAsJobFailure(t *testing.T) {
	t.Parallel()
	failures := make(chan Failure, 16)
	p := testPool(t, 1, func(f Failure) {
		select {
		case failures <- f:
		default:
		}
		panic("handler must not take the worker down")
	})
	j := &fakeJob{name: "panicky", period: time.Hour, body: func(context.Context, *fakeJob) error {
		panic("boom")
	}}
	ok := &fakeJob{name: "healthy", period: time.Hour}
	p.Enqueue(j)
	p.Enqueue(ok)
	require.True(t, p.Run(context.Background(), false))

	select {
	case f := <-failures:
		assert.Equal(t, FailureJob, f.Kind)
		assert.Equal(t, "panicky", f.JobName())
		assert.Contains(t, f.Err.Error(), "boom")
		assert.NotEmpty(t, f.Stack)
	case <-time.After(2 * time.Second):
		t.Fatal("no failure reported")
	}
	require.Eventually(t, func() bool { return ok.runs.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, p.Alive())
}

func TestTerminateAllDoesNotExecute(t *testing.T) {
	t.Parallel()
	p := testPool(t, 2, nil)
	jobs := make([]*fakeJob, 5)
	for i := range jobs {
		jobs[i] = &fakeJob{name: "queued"}
		p.Enqueue(jobs[i])
	}

	n := p.TerminateAll(testCtx(t, time.Second))
	assert.Equal(t, 5, n)
	assert.True(t, p.Done())
	require.NoError(t, p.Join(testCtx(t, time.Second)))
	for _, j := range jobs {
		assert.EqualValues(t, 0, j.runs.Load())
	}
	assert.EqualValues(t, 5, p.Stats().Counter(CounterDrained))
}

func TestBlackHoleDiscards(t *testing.T) {
	t.Parallel()
	p := testPool(t, 1, nil)
	p.Enqueue(&fakeJob{name: "kept"})

	p.BlackHole(true)
	before := p.Stats().Queued
	p.Enqueue(&fakeJob{name: "lost"})
	assert.Equal(t, before, p.Stats().Queued)
	assert.EqualValues(t, 1, p.Stats().Counter(CounterDiscarded))
	assert.True(t, p.Stats().BlackHole)

	p.BlackHole(false)
	p.Enqueue(&fakeJob{name: "kept-too"})
	assert.Equal(t, before+1, p.Stats().Queued)
}

func TestRunRefusesWhileAlive(t *testing.T) {
	t.Parallel()
	p := testPool(t, 2, nil)
	require.True(t, p.Run(context.Background(), false))
	assert.False(t, p.Run(context.Background(), false))
	assert.Equal(t, 2, p.Alive())

	require.NoError(t, p.Abort(testCtx(t, 5*time.Second), false))
	assert.True(t, p.Run(testCtx(t, 5*time.Second), true))
	assert.Equal(t, 2, p.Alive())
}

func TestGhostWorkDoesNotCountAsBusy(t *testing.T) {
	t.Parallel()
	p := testPool(t, 1, nil)
	release := make(chan struct{})
	g := &fakeJob{name: "printer", ghost: true, body: func(ctx context.Context, _ *fakeJob) error {
		<-release
		return nil
	}}
	p.Enqueue(g)
	require.True(t, p.Run(context.Background(), false))

	require.Eventually(t, func() bool { return p.Stats().WorkersGhost == 1 }, 2*time.Second, time.Millisecond)
	assert.True(t, p.Idle())
	require.NoError(t, p.WaitIdle(testCtx(t, time.Second)))
	close(release)
}

func TestEndToEndAppendThenJoin(t *testing.T) {
	t.Parallel()
	p := testPool(t, 4, nil)

	var mu sync.Mutex
	var shared []string
	j := &fakeJob{name: "writer", body: func(_ context.Context, j *fakeJob) error {
		mu.Lock()
		shared = append(shared, "x")
		mu.Unlock()
		j.Terminate()
		return nil
	}}
	p.Enqueue(j)
	require.True(t, p.Run(context.Background(), false))
	require.NoError(t, p.Join(testCtx(t, 2*time.Second)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"x"}, shared)
	assert.EqualValues(t, 1, p.Stats().Counter(CounterDropped))
}

func TestEndToEndFailThreeTimesThenTerminate(t *testing.T) {
	t.Parallel()
	p := testPool(t, 2, nil)
	bus := p.bus
	events, unsub := bus.Subscribe(16)
	defer unsub()

	j := &fakeJob{name: "flaky", body: func(_ context.Context, j *fakeJob) error {
		if j.runs.Load() >= 3 {
			j.Terminate()
		}
		return errors.New("flaky failure")
	}}
	p.Enqueue(j)
	require.True(t, p.Run(context.Background(), false))
	require.NoError(t, p.Join(testCtx(t, 2*time.Second)))

	assert.EqualValues(t, 3, p.Stats().Counter(CounterFailed))
	assert.EqualValues(t, 3, j.runs.Load())

	failed := 0
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.TypeJobFailed {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
}

func TestLoopFailureKeepsWorker(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		kinds []FailureKind
	)
	p := testPool(t, 1, func(f Failure) {
		mu.Lock()
		kinds = append(kinds, f.Kind)
		mu.Unlock()
	})
	j := &fakeJob{
		name: "bad-reset",
		body: func(_ context.Context, j *fakeJob) error {
			if j.runs.Load() >= 2 {
				j.Terminate()
			}
			return nil
		},
		reset: func(j *fakeJob) {
			if j.resets.Load() == 1 {
				panic("reset exploded")
			}
		},
	}
	p.Enqueue(j)
	require.True(t, p.Run(context.Background(), false))
	alive := p.Alive()

	require.NoError(t, p.Join(testCtx(t, 2*time.Second)))
	assert.EqualValues(t, 2, j.runs.Load())
	assert.Equal(t, alive, p.Alive())
	assert.Equal(t, 0, p.Stats().Queued)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, kinds, 1)
	assert.Equal(t, FailureLoop, kinds[0])
}

func TestAbortDrainsQueueAndStopsWorkers(t *testing.T) {
	t.Parallel()
	p := testPool(t, 1, nil)
	started := make(chan struct{}, 1)
	slow := &fakeJob{name: "slow", period: time.Hour, body: func(context.Context, *fakeJob) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(50 * time.Millisecond)
		return nil
	}}
	p.Enqueue(slow)
	require.True(t, p.Run(context.Background(), false))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("slow job never started")
	}
	waiting := make([]*fakeJob, 5)
	for i := range waiting {
		waiting[i] = &fakeJob{name: "waiting", period: time.Hour}
		p.Enqueue(waiting[i])
	}

	require.NoError(t, p.Abort(testCtx(t, 5*time.Second), true))
	st := p.Stats()
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 0, st.WorkersAlive)
	assert.GreaterOrEqual(t, st.Counter(CounterDrained), int64(len(waiting)))
	require.NoError(t, p.Join(testCtx(t, time.Second)))

	time.Sleep(20 * time.Millisecond)
	for _, j := range waiting {
		assert.EqualValues(t, 0, j.runs.Load())
	}
	assert.EqualValues(t, 1, slow.runs.Load())
}
