// Package ioadapter implements the reader/writer registry (spec.md
// §4.2, C3): a keyed store of live external I/O handles that source
// and sink tasks poll or write through. Construction of a concrete
// Reader/Writer is delegated to the wire/net/sql/s3 subpackages; this
// package only owns the keyed lifecycle contract.
package ioadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/row"
)

// ForeignRow is an untyped row read from outside the pipeline, still
// carrying raw column values keyed by name; the planner's DDL-declared
// schema coerces it into a typed row.Row at the Source task boundary.
type ForeignRow struct {
	Values map[string]row.Value
}

// Reader is a registered source of foreign rows.
type Reader interface {
	// NextRow blocks up to the reader's configured timeout, returning
	// ForeignSourceTimeout if nothing arrived (spec.md §4.2).
	NextRow(ctx context.Context) (ForeignRow, error)
	// Name identifies this reader for registration/deregistration.
	Name() string
	// Close releases any OS resources the reader owns (sockets, files).
	Close() error
}

// Writer is a registered sink of result rows.
type Writer interface {
	// Write delivers r downstream, returning ForeignSinkIo on failure.
	Write(ctx context.Context, r *row.Row) error
	Name() string
	Close() error
}

// Config is the subset of a reader/writer's construction parameters
// the registry checks for idempotent re-registration (spec.md §4.2:
// "double-registration with different configs is an error").
type Config interface {
	// Equal reports whether two configs describe the same handle.
	Equal(other Config) bool
}

type readerEntry struct {
	reader Reader
	cfg    Config
}

type writerEntry struct {
	writer Writer
	cfg    Config
}

// Registry owns every live Reader and Writer, keyed by name.
type Registry struct {
	mu      sync.Mutex
	readers map[string]readerEntry
	writers map[string]writerEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		readers: make(map[string]readerEntry),
		writers: make(map[string]writerEntry),
	}
}

// RegisterReader registers r under its own name, idempotently: a
// second registration under the same name with an equal config is a
// no-op; with a different config it is an InvalidConfig error.
func (reg *Registry) RegisterReader(r Reader, cfg Config) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if existing, ok := reg.readers[r.Name()]; ok {
		if cfg != nil && existing.cfg != nil && existing.cfg.Equal(cfg) {
			return nil
		}
		return apperr.New(apperr.InvalidConfig, fmt.Sprintf("reader %q already registered with a different configuration", r.Name()))
	}
	reg.readers[r.Name()] = readerEntry{reader: r, cfg: cfg}
	return nil
}

// RegisterWriter registers w under its own name with the same
// idempotence rule as RegisterReader.
func (reg *Registry) RegisterWriter(w Writer, cfg Config) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if existing, ok := reg.writers[w.Name()]; ok {
		if cfg != nil && existing.cfg != nil && existing.cfg.Equal(cfg) {
			return nil
		}
		return apperr.New(apperr.InvalidConfig, fmt.Sprintf("writer %q already registered with a different configuration", w.Name()))
	}
	reg.writers[w.Name()] = writerEntry{writer: w, cfg: cfg}
	return nil
}

// Reader looks up a registered reader by name.
func (reg *Registry) Reader(name string) (Reader, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.readers[name]
	return e.reader, ok
}

// Writer looks up a registered writer by name.
func (reg *Registry) Writer(name string) (Writer, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.writers[name]
	return e.writer, ok
}

// Deregister closes and removes the named reader or writer, if
// present. A pipeline update deregisters only handles no task
// references anymore (spec.md §3 "Lifecycles").
func (reg *Registry) Deregister(name string) error {
	reg.mu.Lock()
	r, hasReader := reg.readers[name]
	w, hasWriter := reg.writers[name]
	delete(reg.readers, name)
	delete(reg.writers, name)
	reg.mu.Unlock()

	if hasReader {
		if err := r.reader.Close(); err != nil {
			return err
		}
	}
	if hasWriter {
		return w.writer.Close()
	}
	return nil
}

// ReaderNames returns every currently registered reader name.
func (reg *Registry) ReaderNames() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]string, 0, len(reg.readers))
	for name := range reg.readers {
		out = append(out, name)
	}
	return out
}

// WriterNames returns every currently registered writer name.
func (reg *Registry) WriterNames() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]string, 0, len(reg.writers))
	for name := range reg.writers {
		out = append(out, name)
	}
	return out
}

// withTimeout is a small helper the net/sql/s3 adapters share to bound
// a blocking I/O call to its configured timeout, per the "a worker may
// block only in ... I/O with timeout" suspension-point rule (spec.md §5).
func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

// WithTimeout exposes withTimeout to the adapter subpackages.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return withTimeout(parent, d)
}
