package pool

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO with outstanding-work accounting.
//
// Put increments the outstanding count; Done decrements it. Join returns
// once every item ever put has been acknowledged.
type queue struct {
	mu          sync.Mutex
	items       []Job
	head        int
	outstanding int
	zero        chan struct{} // closed while outstanding == 0
}

func newQueue() *queue {
	z := make(chan struct{})
	close(z)
	return &queue{zero: z}
}

func (q *queue) Put(j Job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	if q.outstanding == 0 {
		q.zero = make(chan struct{})
	}
	q.outstanding++
	q.mu.Unlock()
}

// TryGet takes the head item without blocking.
func (q *queue) TryGet() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return nil, false
	}
	j := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	// Compact once the consumed prefix dominates.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return j, true
}

// Done acknowledges one previously taken item.
func (q *queue) Done() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding <= 0 {
		return ErrTooManyDone
	}
	q.outstanding--
	if q.outstanding == 0 {
		close(q.zero)
	}
	return nil
}

// Join blocks until the outstanding count reaches zero or ctx is done.
func (q *queue) Join(ctx context.Context) error {
	q.mu.Lock()
	z := q.zero
	q.mu.Unlock()
	select {
	case <-z:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *queue) Empty() bool { return q.Len() == 0 }

func (q *queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}
