package scheduler

import (
	"github.com/springql-go/springql/internal/graph"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/queue"
)

// MemoryReducingScheduler is bound by generic workers while the memory
// state machine reports Severe (or Critical): it prioritizes whichever
// runnable task has the longest total upstream queue depth, draining
// the largest buffer first to reclaim memory fastest. Ties break on
// task-id order.
type MemoryReducingScheduler struct{}

func (MemoryReducingScheduler) NextTask(g *graph.Graph, repo *queue.Repository) (ids.TaskId, bool) {
	candidates := nonSourceRunnable(g, repo)
	if len(candidates) == 0 {
		return "", false
	}

	best := candidates[0]
	bestDepth := queueDepth(g, repo, g.InboundOf(best))
	for _, id := range candidates[1:] {
		d := queueDepth(g, repo, g.InboundOf(id))
		if d > bestDepth {
			best, bestDepth = id, d
		}
	}
	return best, true
}
