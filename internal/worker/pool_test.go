package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springql-go/springql/internal/event"
	"github.com/springql-go/springql/internal/graph"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/memstate"
	"github.com/springql-go/springql/internal/queue"
	"github.com/springql-go/springql/internal/worker"
)

func TestSourcePoolStepsRepeatedlyUntilStop(t *testing.T) {
	bus := event.New()
	var lock sync.RWMutex
	var steps int64

	g := graph.New([]graph.Task{{Id: "source_trade", Kind: graph.KindSource}}, nil)
	repo := queue.NewRepository(0, 0)

	step := func(ctx context.Context, task ids.TaskId) error {
		atomic.AddInt64(&steps, 1)
		return nil
	}

	p := worker.NewSourcePool(2, &lock, bus, step, nil, time.Millisecond)
	p.SetSnapshot(g, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	require.Eventually(t, func() bool { return atomic.LoadInt64(&steps) > 10 }, time.Second, time.Millisecond)

	bus.Publish(event.TopicStop, nil)
	done := make(chan struct{})
	go func() { p.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not exit after Stop")
	}
}

func TestGenericPoolIdlesWithNoRunnableTasks(t *testing.T) {
	bus := event.New()
	var lock sync.RWMutex
	var steps int64

	g := graph.New([]graph.Task{{Id: "sink_out", Kind: graph.KindSink}}, nil)
	repo := queue.NewRepository(0, 0)

	step := func(ctx context.Context, task ids.TaskId) error {
		atomic.AddInt64(&steps, 1)
		return nil
	}

	p := worker.NewGenericPool(1, &lock, bus, step, nil, time.Millisecond)
	p.SetSnapshot(g, repo)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	p.Wait()

	assert.Equal(t, int64(0), atomic.LoadInt64(&steps), "no runnable task means the step function is never called")
}

func TestGenericPoolSwapsSchedulerOnUpdateEvent(t *testing.T) {
	bus := event.New()
	var lock sync.RWMutex

	src := ids.TaskId("source_trade")
	pump := ids.TaskId("pump_a")
	edge := ids.NewEdgeId(src, pump)
	g := graph.New(
		[]graph.Task{{Id: src, Kind: graph.KindSource}, {Id: pump, Kind: graph.KindPump}},
		[]graph.Edge{{Id: edge, Kind: graph.EdgeRow}},
	)
	repo := queue.NewRepository(0, 0)
	repo.Reset([]ids.EdgeId{edge}, nil)

	var lastTask atomic.Value
	step := func(ctx context.Context, task ids.TaskId) error {
		lastTask.Store(task)
		return nil
	}

	p := worker.NewGenericPool(1, &lock, bus, step, nil, time.Millisecond)
	p.SetSnapshot(g, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	// Published after Start so the worker's subscription receives it.
	bus.Publish(event.TopicUpdateScheduler, memstate.SchedulerMemoryReducing)

	// pump has no buffered row, so even MemoryReducingScheduler reports Idle;
	// this only asserts the pool survives the scheduler swap without panicking.
	time.Sleep(20 * time.Millisecond)
	cancel()
	p.Wait()
}
