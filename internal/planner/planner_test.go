package planner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springql-go/springql/internal/graph"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/ioadapter"
	"github.com/springql-go/springql/internal/memcounter"
	"github.com/springql-go/springql/internal/planner"
	"github.com/springql-go/springql/internal/row"
)

const samplingDDL = `
CREATE SOURCE STREAM source_trade (
  ts TIMESTAMP NOT NULL ROWTIME,
  ticker TEXT NOT NULL,
  amount INTEGER NOT NULL
);

CREATE SINK STREAM sink_sampled_trade_amount (
  ts TIMESTAMP NOT NULL ROWTIME,
  amount INTEGER NOT NULL
);

CREATE PUMP pu_passthrough AS
  INSERT INTO sink_sampled_trade_amount (ts, amount)
  SELECT STREAM
    FLOOR(ts, DURATION_SECS(10)) AS sampled_ts,
    AVG(amount) AS avg_amount
  FROM source_trade
  GROUP BY sampled_ts;

CREATE SINK WRITER tcp_sink_trade FOR sink_sampled_trade_amount
  TYPE NET_SERVER OPTIONS (
    PROTOCOL 'TCP',
    REMOTE_HOST '127.0.0.1',
    REMOTE_PORT '19990'
);

CREATE SOURCE READER tcp_trade FOR source_trade
  TYPE NET_SERVER OPTIONS (
    PROTOCOL 'TCP',
    REMOTE_HOST '127.0.0.1',
    REMOTE_PORT '19991'
  );
`

func TestCompileSamplingPipelineGraphShape(t *testing.T) {
	p, err := planner.Compile(samplingDDL)
	require.NoError(t, err)

	src := ids.TaskId("source_trade")
	pump := ids.TaskId("pu_passthrough")
	sink := ids.TaskId("sink_sampled_trade_amount")

	srcTask, ok := p.Graph.Task(src)
	require.True(t, ok)
	assert.Equal(t, graph.KindSource, srcTask.Kind)

	pumpTask, ok := p.Graph.Task(pump)
	require.True(t, ok)
	assert.Equal(t, graph.KindPump, pumpTask.Kind)
	require.NotNil(t, pumpTask.Plan)

	sinkTask, ok := p.Graph.Task(sink)
	require.True(t, ok)
	assert.Equal(t, graph.KindSink, sinkTask.Kind)

	assert.ElementsMatch(t, []ids.EdgeId{ids.NewEdgeId(src, pump)}, p.Graph.DownstreamOf(src))
	assert.ElementsMatch(t, []ids.EdgeId{ids.NewEdgeId(pump, sink)}, p.Graph.DownstreamOf(pump))
}

func TestCompileSamplingPipelineBindings(t *testing.T) {
	p, err := planner.Compile(samplingDDL)
	require.NoError(t, err)

	require.Len(t, p.Readers, 1)
	assert.Equal(t, "tcp_trade", p.Readers[0].Name)
	assert.Equal(t, ioadapter.KindNetServer, p.Readers[0].Kind)
	require.NotNil(t, p.Readers[0].NetConfig)
	assert.Equal(t, "127.0.0.1:19991", p.Readers[0].NetConfig.Addr)

	require.Len(t, p.Writers, 1)
	assert.Equal(t, "tcp_sink_trade", p.Writers[0].Name)
	require.NotNil(t, p.Writers[0].NetConfig)
	assert.Equal(t, "127.0.0.1:19990", p.Writers[0].NetConfig.Addr)
}

// TestCompiledWindowPlanFoldsToTenSecondBuckets exercises the compiled
// plan directly (bypassing the executor) the way plan_test.go tests
// TimeBasedSlidingWindow: four rows spanning three 10-second buckets
// should yield two closed windows (the third stays open), the first
// carrying the AVG of the first bucket.
func TestCompiledWindowPlanFoldsToTenSecondBuckets(t *testing.T) {
	p, err := planner.Compile(samplingDDL)
	require.NoError(t, err)

	pumpTask, ok := p.Graph.Task(ids.TaskId("pu_passthrough"))
	require.True(t, ok)

	schema := &row.Schema{
		StreamName: "source_trade",
		Role:       row.RoleSource,
		Columns: []row.ColumnDef{
			{Name: "ts", Type: row.TypeTimestamp, IsRowtime: true},
			{Name: "ticker", Type: row.TypeText},
			{Name: "amount", Type: row.TypeInteger},
		},
	}
	counter := memcounter.New()

	mustRow := func(ts string, ticker string, amount int64) *row.Row {
		parsed, err := row.ParseTimestamp(ts)
		require.NoError(t, err)
		return row.New(schema, []row.Value{parsed, ticker, amount}, counter)
	}

	rows := []*row.Row{
		mustRow("2020-01-01 00:00:00.000000000", "ORCL", 10),
		mustRow("2020-01-01 00:00:09.999999999", "GOOGL", 30),
		mustRow("2020-01-01 00:00:10.000000000", "IBM", 50),
		mustRow("2020-01-01 00:00:20.000000000", "IBM", 70),
	}

	var closed []*row.Row
	for _, r := range rows {
		out, err := pumpTask.Plan.Exec(r, counter)
		require.NoError(t, err)
		closed = append(closed, out...)
	}

	require.Len(t, closed, 2)
	v, ok := closed[0].Get("amount")
	require.True(t, ok)
	assert.Equal(t, int64(20), v) // AVG(10, 30)
}

func TestParseRejectsUnknownStatement(t *testing.T) {
	_, err := planner.Parse("CREATE TABLE foo (a INT);")
	require.Error(t, err)
}

func TestApplyCreatePumpRejectsUnknownFromStream(t *testing.T) {
	_, err := planner.Compile(`
		CREATE SINK STREAM out_stream (v INTEGER NOT NULL);
		CREATE PUMP p AS INSERT INTO out_stream (v) SELECT STREAM v AS v FROM missing_stream;
	`)
	require.Error(t, err)
}

func TestCompileCollectsEngineVersionRequirements(t *testing.T) {
	p, err := planner.Compile(`
		ENGINE_VERSION REQUIRES '>=1.0.0, <2.0.0';
		CREATE SOURCE STREAM in_stream (v INTEGER NOT NULL);
	`)
	require.NoError(t, err)
	assert.Equal(t, []string{">=1.0.0, <2.0.0"}, p.EngineVersionConstraints)
}

func TestCompileBuildsInMemoryQueueWriterBinding(t *testing.T) {
	p, err := planner.Compile(`
		CREATE SOURCE STREAM in_stream (v INTEGER NOT NULL);
		CREATE SINK STREAM out_stream (v INTEGER NOT NULL);
		CREATE PUMP p AS INSERT INTO out_stream (v) SELECT STREAM v AS v FROM in_stream;
		CREATE SINK WRITER queue_out FOR out_stream TYPE IN_MEMORY_QUEUE OPTIONS (CAPACITY '25');
	`)
	require.NoError(t, err)

	require.Len(t, p.Writers, 1)
	assert.Equal(t, ioadapter.KindInMemoryQueue, p.Writers[0].Kind)
	require.NotNil(t, p.Writers[0].MemConfig)
	assert.Equal(t, 25, p.Writers[0].MemConfig.Capacity)
}
