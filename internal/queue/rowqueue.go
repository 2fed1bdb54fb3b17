// Package queue implements the bounded inter-task row and window
// buffers addressed by edge id: the transport between Source, Pump,
// and Sink tasks in the task graph.
package queue

import (
	"sync"
	"time"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/row"
)

// RowQueue is a bounded FIFO of row references belonging to a single
// edge. Concurrent Push and Pop are safe; a single mutex guards the
// backing slice and a buffered notify channel wakes a blocked Pop
// without requiring producers to hold a condition variable.
type RowQueue struct {
	mu       sync.Mutex
	items    []*row.Row
	capacity int
	notify   chan struct{}
}

// NewRowQueue allocates an empty queue. capacity <= 0 means unbounded.
func NewRowQueue(capacity int) *RowQueue {
	return &RowQueue{capacity: capacity, notify: make(chan struct{}, 1)}
}

func (q *RowQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Push enqueues a row already Retain()-ed for this edge. It fails with
// Unavailable when the queue is at capacity; callers decide whether
// that is fatal or a signal to apply backpressure upstream.
func (q *RowQueue) Push(r *row.Row) error {
	q.mu.Lock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return apperr.New(apperr.Unavailable, "row queue is at capacity")
	}
	q.items = append(q.items, r)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *RowQueue) tryPop() (*row.Row, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return r, true
}

// Pop removes and returns the oldest row, blocking up to timeout. It
// fails with InputTimeout if the queue is still empty when the
// deadline elapses, per the collect_next contract.
func (q *RowQueue) Pop(timeout time.Duration) (*row.Row, error) {
	if r, ok := q.tryPop(); ok {
		return r, nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-q.notify:
			if r, ok := q.tryPop(); ok {
				return r, nil
			}
		case <-deadline.C:
			return nil, apperr.New(apperr.InputTimeout, "collect_next timed out waiting for a row")
		}
	}
}

// Len reports the current number of buffered rows.
func (q *RowQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PurgeAll releases every buffered row and empties the queue,
// returning the number of rows dropped. Used by Critical-state
// intermediate-queue draining (spec.md §4.7) and by Reset.
func (q *RowQueue) PurgeAll() int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, r := range items {
		r.Release()
	}
	return len(items)
}
