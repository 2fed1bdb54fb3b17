package queue

import (
	"sync"
	"time"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/row"
)

// WindowQueue buffers rows destined for a windowing Pump, ordered by
// rowtime. Rowtime is non-decreasing within a single producer (spec.md
// §3), so Push is append-only; ordering across producers sharing one
// edge is not guaranteed and is this package's caller's concern, not
// this queue's.
type WindowQueue struct {
	mu       sync.Mutex
	items    []*row.Row
	capacity int
	notify   chan struct{}
}

// NewWindowQueue allocates an empty window queue. capacity <= 0 means unbounded.
func NewWindowQueue(capacity int) *WindowQueue {
	return &WindowQueue{capacity: capacity, notify: make(chan struct{}, 1)}
}

func (q *WindowQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Push appends a row already Retain()-ed for this edge.
func (q *WindowQueue) Push(r *row.Row) error {
	q.mu.Lock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return apperr.New(apperr.Unavailable, "window queue is at capacity")
	}
	q.items = append(q.items, r)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *WindowQueue) tryPop() (*row.Row, bool) {
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

// Pop removes and returns the oldest buffered row, blocking up to
// timeout, mirroring RowQueue.Pop for a Pump whose collect_next feeds
// a window rather than a plain stream.
func (q *WindowQueue) Pop(timeout time.Duration) (*row.Row, error) {
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
func (q *WindowQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PurgeOlderThan releases and removes every buffered row whose rowtime
// is strictly before cutoff, returning the count dropped. A row
// lacking a rowtime column is never purged by this call.
func (q *WindowQueue) PurgeOlderThan(cutoff row.Timestamp) int {
	q.mu.Lock()
	kept := q.items[:0]
	var dropped []*row.Row
	for _, r := range q.items {
		ts, ok := r.Rowtime()
		if ok && ts.Before(cutoff) {
			dropped = append(dropped, r)
			continue
		}
		kept = append(kept, r)
	}
	q.items = kept
	q.mu.Unlock()

	for _, r := range dropped {
		r.Release()
	}
	return len(dropped)
}

// CollectWindow returns, without removing, every buffered row whose
// rowtime falls in [lower, upper). Callers that want eviction issue a
// separate PurgeOlderThan once the window has closed.
func (q *WindowQueue) CollectWindow(lower, upper row.Timestamp) []*row.Row {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*row.Row
	for _, r := range q.items {
		ts, ok := r.Rowtime()
		if !ok {
			continue
		}
		if !ts.Before(lower) && ts.Before(upper) {
			out = append(out, r)
		}
	}
	return out
}

// PurgeAll releases every buffered row and empties the queue.
func (q *WindowQueue) PurgeAll() int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, r := range items {
		r.Release()
	}
	return len(items)
}
