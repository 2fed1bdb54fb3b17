package scheduler

import (
	"sync/atomic"

	"github.com/springql-go/springql/internal/graph"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/queue"
)

// SourceScheduler round-robins over source tasks so no single source
// starves another when more source tasks exist than source worker
// threads. Round-robin fairness needs a rotation cursor to survive
// across calls, which is the one piece of state this package's
// schedulers carry; FlowEfficientScheduler and MemoryReducingScheduler
// below are pure rank functions of graph and queue depth, as spec.md
// §4.4 asks for.
type SourceScheduler struct {
	cursor uint64
}

// NewSourceScheduler returns a scheduler starting its rotation at the
// first source task in deterministic order.
func NewSourceScheduler() *SourceScheduler {
	return &SourceScheduler{}
}

// NextTask returns Idle only when the graph has no source tasks at
// all; a source task is always considered runnable (spec.md §4.3).
func (s *SourceScheduler) NextTask(g *graph.Graph, _ *queue.Repository) (ids.TaskId, bool) {
	sources := sortedIds(g.SourceTasks())
	if len(sources) == 0 {
		return "", false
	}
	idx := atomic.AddUint64(&s.cursor, 1) - 1
	return sources[idx%uint64(len(sources))], true
}
