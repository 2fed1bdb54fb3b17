package plan

import (
	"fmt"
	"math"
	"sync"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/memcounter"
	"github.com/springql-go/springql/internal/row"
)

// windowState is the mutable, cross-step state a TimeBasedSlidingWindow
// operation carries for the lifetime of its owning Pump task. Rowtime
// in a window is non-decreasing within a single producer (spec.md §3);
// cross-producer disorder is not discarded: observe folds a late row
// into the still-open window (see the Open Question in spec.md §9) —
// no watermark semantics is invented here.
type windowState struct {
	mu         sync.Mutex
	hasCurrent bool
	currentKey row.Timestamp
	buffer     []*row.Row
}

// NewWindowState allocates fresh window state for a TimeBasedSlidingWindow op.
func NewWindowState() *windowState { return &windowState{} }

// observe attaches in to the window keyed by its KeyColumn value. If
// the new key is strictly greater than the currently-open window's
// key, the open window is folded and returned as a closed output row
// before the new row starts the next window. A key equal to or less
// than the current window's key is buffered into the current window
// (late, out-of-order rows from the same producer are not expected per
// the non-decreasing-rowtime invariant; if they occur they are folded
// into the still-open window rather than silently dropped, which is a
// deliberately conservative choice given the undocumented watermark
// policy).
func (o TimeBasedSlidingWindow) observe(in *row.Row, counter *memcounter.Counter) ([]*row.Row, error) {
	keyVal, ok := in.Get(o.KeyColumn)
	if !ok {
		return nil, apperr.New(apperr.Sql, fmt.Sprintf("window key column %q not found", o.KeyColumn))
	}
	key, ok := keyVal.(row.Timestamp)
	if !ok {
		return nil, apperr.New(apperr.Sql, fmt.Sprintf("window key column %q is not a TIMESTAMP", o.KeyColumn))
	}

	st := o.State
	st.mu.Lock()
	defer st.mu.Unlock()

	var closed []*row.Row
	if st.hasCurrent && key.Time().After(st.currentKey.Time()) {
		aggRow, err := foldWindow(st.buffer, o.GroupAggregate, st.currentKey, o.KeyColumn, counter)
		if err != nil {
			return nil, err
		}
		for _, r := range st.buffer {
			r.Release()
		}
		closed = append(closed, aggRow)
		st.buffer = nil
		st.hasCurrent = false
	}

	st.buffer = append(st.buffer, in) // ownership of in's single reference transfers to the buffer
	if !st.hasCurrent {
		st.currentKey = key
		st.hasCurrent = true
	}

	return closed, nil
}

func foldWindow(buffer []*row.Row, agg *GroupAggregate, key row.Timestamp, keyColumn string, counter *memcounter.Counter) (*row.Row, error) {
	cols := []row.ColumnDef{{Name: keyColumn, Type: row.TypeTimestamp, IsRowtime: true}}
	vals := []row.Value{key}

	for _, spec := range agg.Aggregates {
		v, typ, err := foldOne(buffer, spec)
		if err != nil {
			return nil, err
		}
		cols = append(cols, row.ColumnDef{Name: spec.Alias, Type: typ})
		vals = append(vals, v)
	}

	schema := &row.Schema{Role: row.RoleDerived, Columns: cols}
	return row.New(schema, vals, counter), nil
}

func foldOne(buffer []*row.Row, spec AggregateSpec) (row.Value, row.Type, error) {
	if spec.Func == AggCount {
		return int64(len(buffer)), row.TypeInteger, nil
	}

	var sum float64
	allInt := true
	for _, r := range buffer {
		v, ok := r.Get(spec.SourceColumn)
		if !ok {
			return nil, 0, apperr.New(apperr.Sql, fmt.Sprintf("aggregate column %q not found", spec.SourceColumn))
		}
		f, isInt, err := toFloat(v)
		if err != nil {
			return nil, 0, err
		}
		sum += f
		allInt = allInt && isInt
	}

	switch spec.Func {
	case AggSum:
		if allInt {
			return int64(sum), row.TypeInteger, nil
		}
		return sum, row.TypeFloat, nil
	case AggAvg:
		avg := sum / float64(len(buffer))
		if allInt {
			return int64(math.Round(avg)), row.TypeInteger, nil
		}
		return avg, row.TypeFloat, nil
	default:
		return nil, 0, apperr.New(apperr.Sql, fmt.Sprintf("unknown aggregate function %q", spec.Func))
	}
}

func toFloat(v row.Value) (float64, bool, error) {
	switch x := v.(type) {
	case int:
		return float64(x), true, nil
	case int32:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	case float32:
		return float64(x), false, nil
	case float64:
		return x, false, nil
	default:
		return 0, false, apperr.New(apperr.Sql, fmt.Sprintf("value %v is not numeric", v))
	}
}
