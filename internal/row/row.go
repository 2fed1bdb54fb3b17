package row

import (
	"sync/atomic"

	"github.com/springql-go/springql/internal/memcounter"
)

// Value is a single typed column value. A nil Value denotes SQL NULL.
type Value any

// rowOverheadBytes approximates the fixed per-row bookkeeping cost
// (refcount, schema pointer, slice header) charged against the memory
// counter alongside the payload, per spec.md §5 "bytes held by row
// payloads and queue overhead".
const rowOverheadBytes = 48

// Row is an immutable ordered tuple of typed values conforming to a
// Schema. Rows are reference-shared among downstream consumers:
// emitting to N downstream tasks creates N references to the same
// underlying Row, and the last reference dropped releases the row's
// accounted memory (spec.md §3 invariants).
type Row struct {
	schema *Schema
	values []Value

	refs    int32
	bytes   int64
	counter *memcounter.Counter
}

// New builds a brand-new, owned Row (a "NewRow" in spec.md terms — the
// output of a Projection or aggregate, as opposed to a row preserved by
// reference from an upstream task) with one initial reference, and
// accounts its estimated size against counter.
func New(schema *Schema, values []Value, counter *memcounter.Counter) *Row {
	if len(values) != len(schema.Columns) {
		panic("row: value count does not match schema column count")
	}
	r := &Row{
		schema:  schema,
		values:  values,
		refs:    1,
		bytes:   estimateSize(values),
		counter: counter,
	}
	if counter != nil {
		counter.Add(r.bytes)
	}
	return r
}

func estimateSize(values []Value) int64 {
	total := int64(rowOverheadBytes)
	for _, v := range values {
		switch x := v.(type) {
		case nil:
			total++
		case string:
			total += int64(len(x))
		case []byte:
			total += int64(len(x))
		case int, int32, int64, float32, float64:
			total += 8
		case bool:
			total++
		case Timestamp:
			total += 8
		default:
			total += 16
		}
	}
	return total
}

// Schema returns the row's schema.
func (r *Row) Schema() *Schema { return r.schema }

// Value returns the value at the given column index.
func (r *Row) Value(idx int) Value { return r.values[idx] }

// Get returns the value of the named column, or (nil, false) if absent.
func (r *Row) Get(name string) (Value, bool) {
	idx := r.schema.IndexOf(name)
	if idx < 0 {
		return nil, false
	}
	return r.values[idx], true
}

// Values returns the row's values in schema-column order. The returned
// slice must not be mutated; Rows are immutable.
func (r *Row) Values() []Value { return r.values }

// Rowtime returns the row's rowtime value and true, or the zero
// Timestamp and false if the schema has no ROWTIME column.
func (r *Row) Rowtime() (Timestamp, bool) {
	idx := r.schema.RowtimeIndex()
	if idx < 0 {
		return Timestamp{}, false
	}
	ts, ok := r.values[idx].(Timestamp)
	return ts, ok
}

// Retain returns a new shared reference to the same underlying Row,
// incrementing its reference count by one (spec.md §3: "a row emitted
// to N downstreams creates N references to the same underlying row").
func (r *Row) Retain() *Row {
	atomic.AddInt32(&r.refs, 1)
	return r
}

// Release drops one reference. When the last reference is dropped, the
// row's accounted bytes are released from the memory counter.
func (r *Row) Release() {
	if atomic.AddInt32(&r.refs, -1) == 0 && r.counter != nil {
		r.counter.Release(r.bytes)
	}
}

// RefCount returns the current number of live references. Exposed for
// tests exercising the memory-release invariant (spec.md §8 property 4).
func (r *Row) RefCount() int32 { return atomic.LoadInt32(&r.refs) }

// Bytes returns the row's estimated accounted size.
func (r *Row) Bytes() int64 { return r.bytes }
