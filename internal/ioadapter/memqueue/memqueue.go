// Package memqueue implements an IN_MEMORY_QUEUE sink writer: rows are
// buffered on a bounded channel instead of crossing any real foreign
// boundary, backing the embeddable host API's synchronous Pop operation
// (spec.md's supplemented in-process consumption feature — the original
// implementation's spring_pop).
package memqueue

import (
	"context"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/ioadapter"
	"github.com/springql-go/springql/internal/row"
)

// Config is the DDL-level OPTIONS for an IN_MEMORY_QUEUE sink: only its
// buffer capacity is configurable.
type Config struct {
	Capacity int
}

// Equal implements ioadapter.Config.
func (c Config) Equal(other ioadapter.Config) bool {
	o, ok := other.(Config)
	return ok && o.Capacity == c.Capacity
}

// Writer implements ioadapter.Writer over a bounded in-process channel.
// Write blocks (subject to ctx) when the channel is full, the same
// backpressure shape a foreign writer's timeout gives the generic
// worker that calls it.
type Writer struct {
	name string
	cfg  Config
	ch   chan *row.Row
}

// New returns a Writer with an empty buffer of cfg.Capacity rows (at
// least 1).
func New(name string, cfg Config) *Writer {
	capacity := cfg.Capacity
	if capacity < 1 {
		capacity = 1
	}
	return &Writer{name: name, cfg: cfg, ch: make(chan *row.Row, capacity)}
}

// Name implements ioadapter.Writer.
func (w *Writer) Name() string { return w.name }

// Write enqueues r, retaining it until Pop releases it.
func (w *Writer) Write(ctx context.Context, r *row.Row) error {
	select {
	case w.ch <- r.Retain():
		return nil
	case <-ctx.Done():
		return apperr.Wrap(apperr.ForeignSinkIo, "memqueue: write blocked on a full queue", ctx.Err())
	}
}

// Pop blocks until a row is available or ctx is done, releasing queue
// ownership of the returned row to the caller.
func (w *Writer) Pop(ctx context.Context) (*row.Row, error) {
	select {
	case r := <-w.ch:
		return r, nil
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.InputTimeout, "memqueue: pop timed out", ctx.Err())
	}
}

// Close drains and releases every buffered row.
func (w *Writer) Close() error {
	for {
		select {
		case r := <-w.ch:
			r.Release()
		default:
			return nil
		}
	}
}
