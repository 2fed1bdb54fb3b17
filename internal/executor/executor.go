// Package executor wires the task graph (C4), queue repository (C2),
// reader/writer registry (C3), schedulers (C5), worker pools (C6), the
// memory state machine (C7), and the pub-sub event bus (C8) into the
// autonomous executor spec.md §4 describes: once Start is called, rows
// flow from Source to Sink with no caller driving it, until Stop.
//
// The RWMutex embedded here IS the executor lock from §4.9: worker
// steps hold it for read for the duration of one step, and
// UpdatePipeline takes it for write, so a pipeline swap always happens
// between steps, never mid-step.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/config"
	"github.com/springql-go/springql/internal/event"
	"github.com/springql-go/springql/internal/graph"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/ioadapter"
	"github.com/springql-go/springql/internal/memcounter"
	"github.com/springql-go/springql/internal/memstate"
	"github.com/springql-go/springql/internal/queue"
	"github.com/springql-go/springql/internal/row"
	"github.com/springql-go/springql/internal/worker"
)

// Executor owns one pipeline's live execution state.
type Executor struct {
	cfg      *config.Config
	log      zerolog.Logger
	bus      *event.Bus
	counter  *memcounter.Counter
	registry *ioadapter.Registry

	lock sync.RWMutex

	graph *graph.Graph
	repo  *queue.Repository

	mem         *memstate.Machine
	sourcePool  *worker.Pool
	genericPool *worker.Pool

	memCancel context.CancelFunc
}

// New builds an Executor with an empty pipeline; call UpdatePipeline to
// install a real task graph before Start.
func New(cfg *config.Config, log zerolog.Logger, registry *ioadapter.Registry) *Executor {
	ex := &Executor{
		cfg:      cfg,
		log:      log,
		bus:      event.New(),
		counter:  memcounter.New(),
		registry: registry,
		graph:    graph.New(nil, nil),
		repo:     queue.NewRepository(0, 0),
	}
	ex.mem = memstate.New(cfg.Memory, ex.counter, ex.bus, ex.purgeIntermediate)
	ex.sourcePool = worker.NewSourcePool(cfg.Worker.NSourceWorkerThreads, &ex.lock, ex.bus, ex.stepSource, ex.logStepError, time.Millisecond)
	ex.genericPool = worker.NewGenericPool(cfg.Worker.NGenericWorkerThreads, &ex.lock, ex.bus, ex.stepGeneric, ex.logStepError, time.Millisecond)
	return ex
}

// Bus exposes the event bus for a host program (e.g. a web console) to
// subscribe to metrics summaries.
func (ex *Executor) Bus() *event.Bus { return ex.bus }

// MemoryCounter exposes the shared byte counter for diagnostics.
func (ex *Executor) MemoryCounter() *memcounter.Counter { return ex.counter }

// MemoryState exposes the current pressure classification.
func (ex *Executor) MemoryState() memstate.State { return ex.mem.State() }

// currentGraph is called only from worker steps, which already hold
// ex.lock for read; taking the read lock again here could deadlock
// against a waiting UpdatePipeline.
func (ex *Executor) currentGraph() *graph.Graph {
	return ex.graph
}

func (ex *Executor) currentRepo() *queue.Repository {
	ex.lock.RLock()
	defer ex.lock.RUnlock()
	return ex.repo
}

func (ex *Executor) purgeIntermediate() int {
	return ex.currentRepo().PurgeIntermediate()
}

// UpdatePipeline atomically swaps in a new task graph and queue
// repository, blocking until every worker currently mid-step finishes
// (spec.md §4.9: "a pipeline update ... waits for in-flight steps to
// finish, then installs the new graph+queues as one atomic unit").
func (ex *Executor) UpdatePipeline(g *graph.Graph, repo *queue.Repository) {
	ex.lock.Lock()
	ex.graph = g
	ex.repo = repo
	ex.sourcePool.SetSnapshot(g, repo)
	ex.genericPool.SetSnapshot(g, repo)
	ex.lock.Unlock()

	ex.bus.Publish(event.TopicUpdatePipeline, nil)
}

// Start launches the memory state machine and both worker pools.
func (ex *Executor) Start(ctx context.Context) {
	memCtx, cancel := context.WithCancel(ctx)
	ex.memCancel = cancel
	go ex.mem.Run(memCtx)

	ex.sourcePool.Start(ctx)
	ex.genericPool.Start(ctx)
}

// Stop publishes the Stop event and blocks until every worker goroutine
// has exited.
func (ex *Executor) Stop() {
	ex.bus.Publish(event.TopicStop, nil)
	if ex.memCancel != nil {
		ex.memCancel()
	}
	ex.sourcePool.Wait()
	ex.genericPool.Wait()
}

func (ex *Executor) logStepError(task ids.TaskId, err error) {
	ex.log.Warn().Str("task", string(task)).Str("kind", string(apperr.KindOf(err))).Err(err).Msg("task step failed")
}

// stepSource polls task's registered Reader once, coerces the result
// against the task's declared schema, and emits it to every downstream
// edge. A foreign read timeout or a schema mismatch is logged and
// dropped; it never stops the worker (spec.md §4.2/§7).
func (ex *Executor) stepSource(ctx context.Context, task ids.TaskId) error {
	g := ex.currentGraph()
	t, ok := g.Task(task)
	if !ok {
		return nil
	}

	reader, ok := ex.registry.Reader(string(task))
	if !ok {
		return apperr.New(apperr.Unavailable, fmt.Sprintf("no reader registered for source %q", task))
	}

	readCtx, cancel := ioadapter.WithTimeout(ctx, ex.cfg.NetReadTimeout())
	defer cancel()
	fr, err := reader.NextRow(readCtx)
	if err != nil {
		return err
	}

	r, err := ioadapter.Coerce(t.Schema, fr, ex.counter)
	if err != nil {
		return err
	}

	repo := ex.repo
	downstream := g.DownstreamOf(task)
	return repo.Emit(r, downstream)
}

// stepGeneric collects the next available inbound row for a Pump or
// Sink task and drives it one step further: a Sink writes it out
// through its registered Writer, a Pump runs it through its Plan and
// emits whatever rows close out.
func (ex *Executor) stepGeneric(ctx context.Context, task ids.TaskId) error {
	g := ex.currentGraph()
	t, ok := g.Task(task)
	if !ok {
		return nil
	}
	repo := ex.repo

	r, err := ex.collectFromAny(repo, g.InboundOf(task))
	if err != nil {
		return err
	}
	if r == nil {
		return nil
	}

	switch t.Kind {
	case graph.KindSink:
		defer r.Release()
		writer, ok := ex.registry.Writer(string(task))
		if !ok {
			return apperr.New(apperr.Unavailable, fmt.Sprintf("no writer registered for sink %q", task))
		}
		writeCtx, cancel := ioadapter.WithTimeout(ctx, ex.cfg.NetWriteTimeout())
		defer cancel()
		return writer.Write(writeCtx, r)

	case graph.KindPump:
		// Plan.Exec takes ownership of r's single reference (spec.md
		// §4.8): it is forwarded, folded into a window, or released
		// internally, never by the caller.
		outRows, err := t.Plan.Exec(r, ex.counter)
		if err != nil {
			return err
		}
		downstream := g.DownstreamOf(task)
		for i, out := range outRows {
			if err := repo.Emit(out, downstream); err != nil {
				for _, unemitted := range outRows[i+1:] {
					unemitted.Release()
				}
				return err
			}
		}
		return nil

	default:
		r.Release()
		return nil
	}
}

// collectFromAny tries every inbound edge in order and returns the
// first buffered row found, or nil if none of them have one. A
// non-timeout error (e.g. a missing queue after a concurrent pipeline
// update) propagates immediately.
func (ex *Executor) collectFromAny(repo *queue.Repository, edges []ids.EdgeId) (*row.Row, error) {
	for _, edge := range edges {
		r, err := repo.CollectNext(edge, 0)
		if err == nil {
			return r, nil
		}
		if !apperr.Is(err, apperr.InputTimeout) {
			return nil, err
		}
	}
	return nil, nil
}
