package plan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springql-go/springql/internal/memcounter"
	"github.com/springql-go/springql/internal/plan"
	"github.com/springql-go/springql/internal/row"
)

func tradeSchema() *row.Schema {
	return &row.Schema{
		StreamName: "source_trade",
		Role:       row.RoleSource,
		Columns: []row.ColumnDef{
			{Name: "ts", Type: row.TypeTimestamp, IsRowtime: true},
			{Name: "ticker", Type: row.TypeText},
			{Name: "amount", Type: row.TypeInteger},
		},
	}
}

func mustTrade(t *testing.T, ts string, ticker string, amount int64, counter *memcounter.Counter) *row.Row {
	t.Helper()
	parsed, err := row.ParseTimestamp(ts)
	require.NoError(t, err)
	return row.New(tradeSchema(), []row.Value{parsed, ticker, amount}, counter)
}

// samplingPlan builds the plan for:
//
//	SELECT FLOOR(ts, DURATION_SECS(10)) AS ts, AVG(amount) AS amount
//	FROM source_trade GROUP BY FLOOR(ts, DURATION_SECS(10))
func samplingPlan() *plan.Plan {
	fromItems := []string{"source_trade"}
	floorExpr := plan.Call{
		Func: "FLOOR",
		Args: []plan.Expr{
			plan.BoundColumn{Pointer: plan.FieldPointer{Name: "ts"}, FromItems: fromItems},
			plan.Call{Func: "DURATION_SECS", Args: []plan.Expr{plan.Literal{Value: int64(10)}}},
		},
	}

	return &plan.Plan{
		Ops: []plan.Operation{
			plan.Collect{Stream: "source_trade"},
			plan.EvalValueExpr{Assignments: []plan.Assignment{
				{Alias: "ts", Expr: floorExpr},
			}},
			plan.TimeBasedSlidingWindow{
				LowerBound: 10 * time.Second,
				KeyColumn:  "ts",
				GroupAggregate: &plan.GroupAggregate{
					Aggregates: []plan.AggregateSpec{
						{Alias: "amount", Func: plan.AggAvg, SourceColumn: "amount"},
					},
				},
				State: plan.NewWindowState(),
			},
		},
	}
}

func TestSamplingPassthrough(t *testing.T) {
	counter := memcounter.New()
	p := samplingPlan()

	inputs := []struct {
		ts     string
		ticker string
		amount int64
	}{
		{"2020-01-01 00:00:00.000000000", "ORCL", 10},
		{"2020-01-01 00:00:09.999999999", "GOOGL", 30},
		{"2020-01-01 00:00:10.000000000", "IBM", 50},
		{"2020-01-01 00:00:20.000000000", "IBM", 70},
	}

	var emitted []*row.Row
	for _, in := range inputs {
		r := mustTrade(t, in.ts, in.ticker, in.amount, counter)
		out, err := p.Exec(r, counter)
		require.NoError(t, err)
		emitted = append(emitted, out...)
	}

	require.Len(t, emitted, 2, "only the first two windows have closed given these inputs")

	ts0, ok := emitted[0].Get("ts")
	require.True(t, ok)
	assert.Equal(t, "2020-01-01 00:00:00.000000000", ts0.(row.Timestamp).String())
	amt0, _ := emitted[0].Get("amount")
	assert.EqualValues(t, 20, amt0)

	ts1, _ := emitted[1].Get("ts")
	assert.Equal(t, "2020-01-01 00:00:10.000000000", ts1.(row.Timestamp).String())
	amt1, _ := emitted[1].Get("amount")
	assert.EqualValues(t, 50, amt1)
}

func TestFieldPointerAmbiguousWithoutPrefix(t *testing.T) {
	p := plan.FieldPointer{Name: "amount"}
	_, err := p.Resolve([]string{"source_trade", "other_stream"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs pipeline info")
}

func TestFieldPointerSingleFromItemResolvesUnqualified(t *testing.T) {
	p := plan.FieldPointer{Name: "amount"}
	resolved, err := p.Resolve([]string{"source_trade"})
	require.NoError(t, err)
	assert.Equal(t, "source_trade", resolved)
}
