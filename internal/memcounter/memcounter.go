// Package memcounter implements the single process-wide (scoped to one
// Pipeline instance, per spec.md §9 "Global state") atomic byte
// counter that the row and queue packages update, and that the memory
// state machine (internal/memstate) samples.
package memcounter

import "sync/atomic"

// Counter is an atomic byte counter. The zero value is ready to use.
type Counter struct {
	bytes int64
}

// New returns a fresh, zeroed Counter. Scoped to one Pipeline, as §9 requires.
func New() *Counter { return &Counter{} }

// Add accounts for n newly-held bytes (row payload or queue overhead).
func (c *Counter) Add(n int64) { atomic.AddInt64(&c.bytes, n) }

// Release accounts for n bytes no longer held.
func (c *Counter) Release(n int64) { atomic.AddInt64(&c.bytes, -n) }

// UsedBytes returns the current count.
func (c *Counter) UsedBytes() int64 { return atomic.LoadInt64(&c.bytes) }

// Percent returns 100*used/upperLimit, the `p` the memory state machine
// samples against its thresholds. Returns 0 if upperLimit <= 0.
func (c *Counter) Percent(upperLimit int64) float64 {
	if upperLimit <= 0 {
		return 0
	}
	return 100 * float64(c.UsedBytes()) / float64(upperLimit)
}
