// Package worker implements the two fixed-size worker pools (spec.md
// §4.5, C6): long-lived goroutines that repeatedly ask a scheduler for
// a task and execute one step of it, cooperating at step granularity
// so a pipeline update never waits long for a shared grant to drain.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/springql-go/springql/internal/event"
	"github.com/springql-go/springql/internal/graph"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/memstate"
	"github.com/springql-go/springql/internal/queue"
	"github.com/springql-go/springql/internal/scheduler"
)

// StepFunc executes one unit of work for a task: one source poll, one
// pump operation chain over one input row, or one sink write. A
// row-level failure is the caller's concern to log; it must never
// propagate to kill the worker goroutine (spec.md §4.5).
type StepFunc func(ctx context.Context, task ids.TaskId) error

// ErrorFunc receives a non-nil error returned by a step, for logging.
type ErrorFunc func(task ids.TaskId, err error)

// Snapshot pairs a task graph with the queue repository it addresses;
// the two always change together under a pipeline update, so workers
// swap them atomically as one unit.
type Snapshot struct {
	Graph *graph.Graph
	Repo  *queue.Repository
}

// Pool is a fixed-size set of worker goroutines sharing one scheduler
// binding, one graph/queue snapshot, and one executor lock.
type Pool struct {
	name         string
	size         int
	lock         *sync.RWMutex
	bus          *event.Bus
	step         StepFunc
	onError      ErrorFunc
	pollInterval time.Duration
	swappable    bool

	snapshot  atomic.Value // *Snapshot
	scheduler atomic.Value // schedHolder, wrapping scheduler.Scheduler so every
	// Store call shares one concrete type regardless of which policy is bound

	wg sync.WaitGroup
}

// newPool builds a pool in its stopped state; Start launches its goroutines.
func newPool(name string, size int, lock *sync.RWMutex, bus *event.Bus, step StepFunc, onError ErrorFunc, pollInterval time.Duration, initial scheduler.Scheduler, swappable bool) *Pool {
	if onError == nil {
		onError = func(ids.TaskId, error) {}
	}
	p := &Pool{
		name:         name,
		size:         size,
		lock:         lock,
		bus:          bus,
		step:         step,
		onError:      onError,
		pollInterval: pollInterval,
		swappable:    swappable,
	}
	p.snapshot.Store(&Snapshot{Graph: graph.New(nil, nil), Repo: queue.NewRepository(0, 0)})
	p.scheduler.Store(schedHolder{initial})
	return p
}

// schedHolder gives atomic.Value a single concrete type to store,
// since scheduler.Scheduler implementations are different concrete
// types (FlowEfficientScheduler vs MemoryReducingScheduler) that
// atomic.Value would otherwise reject on a later Store.
type schedHolder struct{ s scheduler.Scheduler }

// NewSourcePool builds the pool of source workers. It always runs
// SourceScheduler and never reacts to UpdateScheduler events, since
// the memory state machine only swaps the generic pool's policy.
func NewSourcePool(size int, lock *sync.RWMutex, bus *event.Bus, step StepFunc, onError ErrorFunc, pollInterval time.Duration) *Pool {
	return newPool("source", size, lock, bus, step, onError, pollInterval, scheduler.NewSourceScheduler(), false)
}

// NewGenericPool builds the pool of pump/sink workers, starting bound
// to FlowEfficientScheduler (the Moderate-state default) and swapping
// to MemoryReducingScheduler or back on every UpdateScheduler event.
func NewGenericPool(size int, lock *sync.RWMutex, bus *event.Bus, step StepFunc, onError ErrorFunc, pollInterval time.Duration) *Pool {
	return newPool("generic", size, lock, bus, step, onError, pollInterval, scheduler.FlowEfficientScheduler{}, true)
}

// SetSnapshot installs a new graph/queue pairing for all workers to
// read on their next scheduling decision. The caller is expected to
// hold the executor's exclusive lock while calling this, per the
// pipeline-update protocol (spec.md §4.9).
func (p *Pool) SetSnapshot(g *graph.Graph, repo *queue.Repository) {
	p.snapshot.Store(&Snapshot{Graph: g, Repo: repo})
}

// Start launches size goroutines, each subscribing independently to
// the Stop topic (and, for a swappable pool, UpdateScheduler) so every
// worker observes every event rather than racing for a shared channel.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		stopCh := p.bus.Subscribe(event.TopicStop)
		var schedCh <-chan event.Event
		if p.swappable {
			schedCh = p.bus.Subscribe(event.TopicUpdateScheduler)
		}
		p.wg.Add(1)
		go p.loop(ctx, stopCh, schedCh)
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) loop(ctx context.Context, stopCh <-chan event.Event, schedCh <-chan event.Event) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		if schedCh != nil {
			select {
			case evt := <-schedCh:
				p.applySchedulerUpdate(evt)
			default:
			}
		}

		snap := p.snapshot.Load().(*Snapshot)
		sched := p.scheduler.Load().(schedHolder).s

		p.lock.RLock()
		task, ok := sched.NextTask(snap.Graph, snap.Repo)
		if !ok {
			p.lock.RUnlock()
			time.Sleep(p.pollInterval)
			continue
		}

		err := p.step(ctx, task)
		p.lock.RUnlock()
		if err != nil {
			p.onError(task, err)
		}
	}
}

func (p *Pool) applySchedulerUpdate(evt event.Event) {
	kind, ok := evt.Payload.(memstate.Scheduler)
	if !ok {
		return
	}
	switch kind {
	case memstate.SchedulerMemoryReducing:
		p.scheduler.Store(schedHolder{scheduler.MemoryReducingScheduler{}})
	case memstate.SchedulerFlowEfficient:
		p.scheduler.Store(schedHolder{scheduler.FlowEfficientScheduler{}})
	}
}
