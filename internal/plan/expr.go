// Package plan implements the query-plan operations a Pump task
// executes over one input row or window per step (spec.md §4.8). The
// planner that produces a Plan is an external collaborator (spec.md
// §1); this package only executes the operation sequence it emits.
package plan

import (
	"fmt"
	"time"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/row"
)

// Expr is a value expression evaluated against one row.
type Expr interface {
	Eval(r *row.Row) (row.Value, error)
}

// Literal is a constant value.
type Literal struct {
	Value row.Value
}

func (l Literal) Eval(*row.Row) (row.Value, error) { return l.Value, nil }

// Call is a scalar function call. Only the functions the spec's
// examples exercise (FLOOR, DURATION_SECS) are implemented; an unknown
// function name is a planner bug surfaced as Sql, since plan
// construction is the planner's contract, not this package's.
type Call struct {
	Func string
	Args []Expr
}

func (c Call) Eval(r *row.Row) (row.Value, error) {
	args := make([]row.Value, len(c.Args))
	for i, a := range c.Args {
		v, err := a.Eval(r)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch c.Func {
	case "DURATION_SECS":
		n, ok := asInt(args[0])
		if !ok {
			return nil, apperr.New(apperr.Sql, "DURATION_SECS expects an integer argument")
		}
		return time.Duration(n) * time.Second, nil
	case "FLOOR":
		ts, ok := args[0].(row.Timestamp)
		if !ok {
			return nil, apperr.New(apperr.Sql, "FLOOR expects a TIMESTAMP first argument")
		}
		d, ok := args[1].(time.Duration)
		if !ok {
			return nil, apperr.New(apperr.Sql, "FLOOR expects a DURATION second argument")
		}
		return ts.FloorTo(d), nil
	default:
		return nil, apperr.New(apperr.Sql, fmt.Sprintf("unknown function %q", c.Func))
	}
}

func asInt(v row.Value) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}
