package queue

import (
	"sync"
	"time"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/row"
)

// Repository maps every edge in the current task graph snapshot to its
// queue. Every edge has exactly one queue and every queue belongs to
// an edge (spec.md §3); Reset is the only operation that changes that
// mapping, and it is meant to be called under the executor's
// pipeline-update lock.
type Repository struct {
	mu           sync.RWMutex
	rowCapacity  int
	winCapacity  int
	rowQueues    map[ids.EdgeId]*RowQueue
	windowQueues map[ids.EdgeId]*WindowQueue
}

// NewRepository builds an empty repository. rowCapacity/winCapacity
// bound each queue created from here on; <= 0 means unbounded.
func NewRepository(rowCapacity, winCapacity int) *Repository {
	return &Repository{
		rowCapacity:  rowCapacity,
		winCapacity:  winCapacity,
		rowQueues:    make(map[ids.EdgeId]*RowQueue),
		windowQueues: make(map[ids.EdgeId]*WindowQueue),
	}
}

// Reset discards every queue and recreates one empty queue per edge in
// the new task set, splitting row-carrying edges from window-carrying
// ones. Rows still buffered in the discarded queues are released.
func (repo *Repository) Reset(rowEdges, windowEdges []ids.EdgeId) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, q := range repo.rowQueues {
		q.PurgeAll()
	}
	for _, q := range repo.windowQueues {
		q.PurgeAll()
	}

	repo.rowQueues = make(map[ids.EdgeId]*RowQueue, len(rowEdges))
	for _, e := range rowEdges {
		repo.rowQueues[e] = NewRowQueue(repo.rowCapacity)
	}
	repo.windowQueues = make(map[ids.EdgeId]*WindowQueue, len(windowEdges))
	for _, e := range windowEdges {
		repo.windowQueues[e] = NewWindowQueue(repo.winCapacity)
	}
}

func (repo *Repository) rowQueue(edge ids.EdgeId) (*RowQueue, bool) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()
	q, ok := repo.rowQueues[edge]
	return q, ok
}

func (repo *Repository) windowQueue(edge ids.EdgeId) (*WindowQueue, bool) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()
	q, ok := repo.windowQueues[edge]
	return q, ok
}

// CollectNext pops the next row bound for consumerTask along edge,
// blocking up to timeout. A caller whose task has a single inbound
// edge passes that edge directly; one with multiple drives selection
// itself by choosing which edge to poll.
func (repo *Repository) CollectNext(edge ids.EdgeId, timeout time.Duration) (*row.Row, error) {
	if q, ok := repo.rowQueue(edge); ok {
		return q.Pop(timeout)
	}
	if q, ok := repo.windowQueue(edge); ok {
		return q.Pop(timeout)
	}
	return nil, apperr.New(apperr.Unavailable, "no queue registered for edge "+edge.String())
}

// Emit enqueues r on every listed edge's queue, incrementing the
// shared reference count once per downstream. Emitting to an empty
// downstream list is a caller error (spec.md §4.1).
func (repo *Repository) Emit(r *row.Row, downstream []ids.EdgeId) error {
	if len(downstream) == 0 {
		return apperr.New(apperr.Sql, "emit called with no downstream tasks")
	}
	defer r.Release() // drop the caller's own reference on every exit path; ownership now lives in the queues that accepted it

	for _, edge := range downstream {
		r.Retain()
		if err := repo.pushTo(edge, r); err != nil {
			r.Release()
			return err
		}
	}
	return nil
}

func (repo *Repository) pushTo(edge ids.EdgeId, r *row.Row) error {
	if q, ok := repo.rowQueue(edge); ok {
		return q.Push(r)
	}
	if q, ok := repo.windowQueue(edge); ok {
		return q.Push(r)
	}
	return apperr.New(apperr.Unavailable, "no queue registered for edge "+edge.String())
}

// RowQueueLen reports the buffered length of a row-carrying edge, or 0
// if the edge has no row queue. Used by the flow/memory schedulers to
// rank tasks by queue depth (spec.md §4.5).
func (repo *Repository) RowQueueLen(edge ids.EdgeId) int {
	if q, ok := repo.rowQueue(edge); ok {
		return q.Len()
	}
	return 0
}

// WindowQueueLen reports the buffered length of a window-carrying edge.
func (repo *Repository) WindowQueueLen(edge ids.EdgeId) int {
	if q, ok := repo.windowQueue(edge); ok {
		return q.Len()
	}
	return 0
}

// PurgeWindowOlderThan evicts rows older than cutoff from edge's
// window queue, returning the count dropped.
func (repo *Repository) PurgeWindowOlderThan(edge ids.EdgeId, cutoff row.Timestamp) int {
	if q, ok := repo.windowQueue(edge); ok {
		return q.PurgeOlderThan(cutoff)
	}
	return 0
}

// PurgeIntermediate drains every row and window queue, as Critical
// memory state demands (spec.md §4.7): all buffered rows not yet at a
// sink are dropped and their memory released. Returns the total number
// of rows purged.
func (repo *Repository) PurgeIntermediate() int {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	n := 0
	for _, q := range repo.rowQueues {
		n += q.PurgeAll()
	}
	for _, q := range repo.windowQueues {
		n += q.PurgeAll()
	}
	return n
}
