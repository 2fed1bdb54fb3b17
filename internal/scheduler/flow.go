package scheduler

import (
	"github.com/springql-go/springql/internal/graph"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/queue"
)

// FlowEfficientScheduler is bound by generic workers while the memory
// state machine reports Moderate: it prioritizes whichever runnable
// task has the shortest total downstream queue depth, pushing rows
// toward sinks to maximize throughput. Ties break on task-id order.
type FlowEfficientScheduler struct{}

func (FlowEfficientScheduler) NextTask(g *graph.Graph, repo *queue.Repository) (ids.TaskId, bool) {
	candidates := nonSourceRunnable(g, repo)
	if len(candidates) == 0 {
		return "", false
	}

	best := candidates[0]
	bestDepth := queueDepth(g, repo, g.DownstreamOf(best))
	for _, id := range candidates[1:] {
		d := queueDepth(g, repo, g.DownstreamOf(id))
		if d < bestDepth {
			best, bestDepth = id, d
		}
	}
	return best, true
}
