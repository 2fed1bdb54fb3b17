package plan

import (
	"fmt"
	"time"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/memcounter"
	"github.com/springql-go/springql/internal/row"
)

// Operation is one step of a Pump's plan, per the operation sequence
// in spec.md §3/§4.8: Collect, EvalValueExpr, Projection,
// TimeBasedSlidingWindow, GroupAggregate.
type Operation interface {
	isOperation()
}

// Collect fetches the next row destined for this pump from the named
// inbound stream/edge.
type Collect struct {
	Stream string
}

func (Collect) isOperation() {}

// Assignment computes one derived column as Expr aliased to Alias.
type Assignment struct {
	Alias string
	Expr  Expr
}

// EvalValueExpr evaluates each Assignment against the current row,
// producing a new row carrying both the original and derived columns.
// Evaluation failure propagates as Sql (spec.md §4.8).
type EvalValueExpr struct {
	Assignments []Assignment
}

func (EvalValueExpr) isOperation() {}

// Projection materializes a NewRow containing only the selected
// columns; unresolved pointers fail Sql.
type Projection struct {
	Fields []FieldPointer
}

func (Projection) isOperation() {}

// AggregateFunc is one of the fold functions spec.md §4.8 names.
type AggregateFunc string

const (
	AggAvg   AggregateFunc = "AVG"
	AggCount AggregateFunc = "COUNT"
	AggSum   AggregateFunc = "SUM"
)

// AggregateSpec computes one output column by folding SourceColumn
// over all rows in a closed window.
type AggregateSpec struct {
	Alias        string
	Func         AggregateFunc
	SourceColumn string
}

// TimeBasedSlidingWindow attaches a row to a window keyed by
// floor(rowtime, LowerBound); GroupAggregate below folds the window's
// contents into a single output row when the window closes.
type TimeBasedSlidingWindow struct {
	LowerBound     time.Duration
	KeyColumn      string
	GroupAggregate *GroupAggregate
	State          *windowState
}

func (TimeBasedSlidingWindow) isOperation() {}

// GroupAggregate folds the rows of a closed window into one output row
// per window, per spec.md §4.8.
type GroupAggregate struct {
	Aggregates []AggregateSpec
}

func (GroupAggregate) isOperation() {}

// Plan is the full operation sequence a Pump task executes.
type Plan struct {
	Ops          []Operation
	OutputSchema *row.Schema
}

// Exec runs a Pump step given the already-collected input row (Collect
// is handled by the caller against the queue repository; Plan.Exec
// covers EvalValueExpr/Projection/window/aggregate). It takes ownership
// of in's single reference: every operation either forwards it
// unchanged, releases it after deriving a replacement row, or hands it
// to a window's buffer for release on a later close. The caller never
// releases in itself. It returns zero output rows when the step only
// buffered data into an open window, or one or more rows when a window
// closed or the plan is a simple passthrough/projection.
func (p *Plan) Exec(in *row.Row, counter *memcounter.Counter) ([]*row.Row, error) {
	cur := in
	var out []*row.Row

	for _, op := range p.Ops {
		switch o := op.(type) {
		case Collect:
			// Handled upstream; Collect is a no-op placeholder here so
			// that a Plan's Ops slice documents the full pipeline even
			// though the worker already performed the fetch.
			_ = o
		case EvalValueExpr:
			next, err := evalValueExpr(cur, o, counter)
			if err != nil {
				cur.Release()
				return nil, err
			}
			cur.Release()
			cur = next
		case Projection:
			next, err := project(cur, o, counter)
			if err != nil {
				cur.Release()
				return nil, err
			}
			cur.Release()
			cur = next
		case TimeBasedSlidingWindow:
			closed, err := o.observe(cur, counter)
			if err != nil {
				cur.Release() // observe only buffers in on success
				return nil, err
			}
			out = append(out, closed...)
			cur = nil // ownership transferred into the window's buffer; released on a future close
		default:
			return nil, apperr.New(apperr.Sql, fmt.Sprintf("unknown plan operation %T", op))
		}
		if cur == nil && len(out) == 0 {
			// swallowed into an open window with nothing to emit yet
			return nil, nil
		}
	}

	if cur != nil {
		out = append(out, cur)
	}
	return out, nil
}

func evalValueExpr(in *row.Row, op EvalValueExpr, counter *memcounter.Counter) (*row.Row, error) {
	cols := append([]row.ColumnDef(nil), in.Schema().Columns...)
	vals := append([]row.Value(nil), in.Values()...)

	// Evaluate every assignment against the original row so that an
	// alias reusing an existing column's name (e.g. computing a new
	// "ts" from the old one) never observes its own output.
	for _, a := range op.Assignments {
		v, err := a.Expr.Eval(in)
		if err != nil {
			return nil, err
		}
		col := row.ColumnDef{Name: a.Alias, Type: inferType(v)}
		if idx := indexOfName(cols, a.Alias); idx >= 0 {
			cols[idx], vals[idx] = col, v
		} else {
			cols = append(cols, col)
			vals = append(vals, v)
		}
	}

	schema := &row.Schema{StreamName: in.Schema().StreamName, Role: row.RoleDerived, Columns: cols}
	return row.New(schema, vals, counter), nil
}

func indexOfName(cols []row.ColumnDef, name string) int {
	for i, c := range cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func project(in *row.Row, op Projection, counter *memcounter.Counter) (*row.Row, error) {
	names := make([]string, len(op.Fields))
	for i, f := range op.Fields {
		names[i] = f.Name
	}
	schema, err := in.Schema().Project(names)
	if err != nil {
		return nil, apperr.Wrap(apperr.Sql, "projection failed", err)
	}
	// apply aliases
	for i, f := range op.Fields {
		schema.Columns[i].Name = f.OutputName()
	}

	vals := make([]row.Value, len(op.Fields))
	for i, f := range op.Fields {
		v, ok := in.Get(f.Name)
		if !ok {
			return nil, apperr.New(apperr.Sql, fmt.Sprintf("projection: column %q not found", f.Name))
		}
		vals[i] = v
	}
	return row.New(schema, vals, counter), nil
}

func inferType(v row.Value) row.Type {
	switch v.(type) {
	case row.Timestamp:
		return row.TypeTimestamp
	case string:
		return row.TypeText
	case bool:
		return row.TypeBoolean
	case float32, float64:
		return row.TypeFloat
	default:
		return row.TypeInteger
	}
}
