// Package scheduler implements the three task-selection policies a
// worker asks for its next step (spec.md §4.4, C5).
package scheduler

import (
	"sort"

	"github.com/springql-go/springql/internal/graph"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/queue"
)

// Scheduler picks the next task a worker should step, or reports Idle.
type Scheduler interface {
	// NextTask returns (taskId, true), or ("", false) when no task is
	// presently runnable.
	NextTask(g *graph.Graph, repo *queue.Repository) (ids.TaskId, bool)
}

func sortedIds(ids_ []ids.TaskId) []ids.TaskId {
	out := append([]ids.TaskId(nil), ids_...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// nonSourceRunnable returns the runnable Pump/Sink tasks, in
// deterministic task-id order. Source tasks are the Source pool's
// concern (driven by SourceScheduler); the flow/memory schedulers only
// ever choose among the generic pool's tasks.
func nonSourceRunnable(g *graph.Graph, repo *queue.Repository) []ids.TaskId {
	var out []ids.TaskId
	for _, id := range g.TasksRunnableNow(repo) {
		t, ok := g.Task(id)
		if ok && t.Kind != graph.KindSource {
			out = append(out, id)
		}
	}
	return sortedIds(out)
}

func queueDepth(g *graph.Graph, repo *queue.Repository, edges []ids.EdgeId) int {
	total := 0
	for _, e := range edges {
		total += repo.RowQueueLen(e) + repo.WindowQueueLen(e)
	}
	return total
}
