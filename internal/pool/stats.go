package pool

import "sync"

// Counter names maintained by the pool.
const (
	CounterExecuted  = "tasks_executed"
	CounterRequeued  = "tasks_requeued"
	CounterDropped   = "tasks_dropped"
	CounterDiscarded = "tasks_discarded"
	CounterDrained   = "tasks_drained"

	// CounterFailed is maintained by the failure handler, not the pool.
	CounterFailed = "tasks_failed"
)

// Stats is a concurrency-safe map of named integer counters.
// Unknown names read as zero. Every mutation is one critical section.
type Stats struct {
	mu sync.Mutex
	m  map[string]int64
}

func NewStats() *Stats {
	return &Stats{m: map[string]int64{}}
}

func (s *Stats) Increment(name string) { s.add(name, 1) }
func (s *Stats) Decrement(name string) { s.add(name, -1) }

func (s *Stats) add(name string, d int64) {
	s.mu.Lock()
	s.m[name] += d
	s.mu.Unlock()
}

func (s *Stats) Set(name string, v int64) {
	s.mu.Lock()
	s.m[name] = v
	s.mu.Unlock()
}

func (s *Stats) Get(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[name]
}

// Snapshot returns a copy; later mutations do not affect it.
func (s *Stats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}
