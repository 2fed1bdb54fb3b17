// Package ids defines the stable identifiers shared across the task
// graph, queue repositories, schedulers, and workers, kept in their own
// package so those packages can reference ids without importing each
// other.
package ids

import "fmt"

// TaskId stably identifies a task (Source, Pump, or Sink) within one
// task-graph snapshot.
type TaskId string

// EdgeId identifies the queue carrying rows between two tasks. Per
// spec.md §3, an edge is identified by (producer_task, consumer_task);
// EdgeId is the canonical string form of that pair.
type EdgeId struct {
	Producer TaskId
	Consumer TaskId
}

func (e EdgeId) String() string {
	return fmt.Sprintf("%s->%s", e.Producer, e.Consumer)
}

// NewEdgeId builds the EdgeId for a producer/consumer pair.
func NewEdgeId(producer, consumer TaskId) EdgeId {
	return EdgeId{Producer: producer, Consumer: consumer}
}
