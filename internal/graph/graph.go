// Package graph holds the immutable task graph a pipeline snapshot
// compiles to (spec.md §4.3, C4): tasks as nodes, queues as edges.
// Construction happens outside this package (the planner assembles a
// Graph from a pipeline definition); the core only ever reads one.
package graph

import (
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/plan"
	"github.com/springql-go/springql/internal/queue"
	"github.com/springql-go/springql/internal/row"
)

// Kind is the role a task plays in the dataflow.
type Kind int

const (
	KindSource Kind = iota
	KindPump
	KindSink
)

// EdgeKind distinguishes a plain FIFO row edge from a window edge.
type EdgeKind int

const (
	EdgeRow EdgeKind = iota
	EdgeWindow
)

// Task is one node: a Source, Pump, or Sink. Plan is populated only
// for Pump tasks; Source and Sink tasks are driven by the reader/writer
// registry (C3) instead, and carry Schema so the executor knows how to
// coerce a foreign row into, or encode a row out of, their stream.
type Task struct {
	Id     ids.TaskId
	Kind   Kind
	Plan   *plan.Plan
	Schema *row.Schema
}

// Edge is one directed connection between two tasks, carrying either a
// row queue or a window queue.
type Edge struct {
	Id   ids.EdgeId
	Kind EdgeKind
}

// Graph is the immutable snapshot of a pipeline's tasks and edges.
// None of its methods mutate it; a new Graph is built for every
// pipeline update (spec.md §4.9, C9).
type Graph struct {
	tasks map[ids.TaskId]Task
	edges map[ids.EdgeId]Edge

	// outbound/inbound index edges by their endpoints for the query
	// methods below; built once at construction since the graph never
	// changes shape afterward.
	outbound map[ids.TaskId][]ids.EdgeId
	inbound  map[ids.TaskId][]ids.EdgeId
}

// New builds a Graph from its full task and edge sets. Edge endpoints
// not present in tasks are a construction-time bug in the caller, not
// something this package defends against, per its "core never
// mutates, never validates" contract.
func New(tasks []Task, edges []Edge) *Graph {
	g := &Graph{
		tasks:    make(map[ids.TaskId]Task, len(tasks)),
		edges:    make(map[ids.EdgeId]Edge, len(edges)),
		outbound: make(map[ids.TaskId][]ids.EdgeId),
		inbound:  make(map[ids.TaskId][]ids.EdgeId),
	}
	for _, t := range tasks {
		g.tasks[t.Id] = t
	}
	for _, e := range edges {
		g.edges[e.Id] = e
		g.outbound[e.Id.Producer] = append(g.outbound[e.Id.Producer], e.Id)
		g.inbound[e.Id.Consumer] = append(g.inbound[e.Id.Consumer], e.Id)
	}
	return g
}

// Tasks returns every task id in the graph.
func (g *Graph) Tasks() []ids.TaskId {
	out := make([]ids.TaskId, 0, len(g.tasks))
	for id := range g.tasks {
		out = append(out, id)
	}
	return out
}

// Task returns the full task value for id.
func (g *Graph) Task(id ids.TaskId) (Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// RowQueues returns every edge id carrying a plain row queue.
func (g *Graph) RowQueues() []ids.EdgeId {
	return g.edgesOfKind(EdgeRow)
}

// WindowQueues returns every edge id carrying a window queue.
func (g *Graph) WindowQueues() []ids.EdgeId {
	return g.edgesOfKind(EdgeWindow)
}

func (g *Graph) edgesOfKind(kind EdgeKind) []ids.EdgeId {
	var out []ids.EdgeId
	for id, e := range g.edges {
		if e.Kind == kind {
			out = append(out, id)
		}
	}
	return out
}

// SourceTasks returns every task of kind Source.
func (g *Graph) SourceTasks() []ids.TaskId {
	var out []ids.TaskId
	for id, t := range g.tasks {
		if t.Kind == KindSource {
			out = append(out, id)
		}
	}
	return out
}

// DownstreamOf returns the edges leading out of task, i.e. the edges a
// row produced by task is emitted onto.
func (g *Graph) DownstreamOf(task ids.TaskId) []ids.EdgeId {
	return g.outbound[task]
}

// InboundOf returns the edges feeding into task.
func (g *Graph) InboundOf(task ids.TaskId) []ids.EdgeId {
	return g.inbound[task]
}

// TasksRunnableNow returns every task that a worker could usefully
// step right now: Source tasks are always runnable (they poll a
// foreign reader, not a queue), and every other task is runnable iff
// at least one of its inbound edges holds a buffered row (spec.md
// §4.3).
func (g *Graph) TasksRunnableNow(repo *queue.Repository) []ids.TaskId {
	var out []ids.TaskId
	for id, t := range g.tasks {
		if t.Kind == KindSource {
			out = append(out, id)
			continue
		}
		for _, edge := range g.inbound[id] {
			if repo.RowQueueLen(edge) > 0 || repo.WindowQueueLen(edge) > 0 {
				out = append(out, id)
				break
			}
		}
	}
	return out
}
