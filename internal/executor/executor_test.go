package executor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/config"
	"github.com/springql-go/springql/internal/executor"
	"github.com/springql-go/springql/internal/graph"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/ioadapter"
	"github.com/springql-go/springql/internal/plan"
	"github.com/springql-go/springql/internal/queue"
	"github.com/springql-go/springql/internal/row"
)

func tradeSchema() *row.Schema {
	return &row.Schema{
		StreamName: "trade",
		Role:       row.RoleSource,
		Columns: []row.ColumnDef{
			{Name: "ts", Type: row.TypeTimestamp, IsRowtime: true},
			{Name: "amount", Type: row.TypeFloat},
		},
	}
}

// fixedReader replays a fixed sequence of rows, then reports
// ForeignSourceTimeout forever, the way a quiet foreign source would.
type fixedReader struct {
	name string
	mu   sync.Mutex
	rows []ioadapter.ForeignRow
}

func (f *fixedReader) NextRow(context.Context) (ioadapter.ForeignRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rows) == 0 {
		return ioadapter.ForeignRow{}, apperr.New(apperr.ForeignSourceTimeout, "no more rows")
	}
	r := f.rows[0]
	f.rows = f.rows[1:]
	return r, nil
}
func (f *fixedReader) Name() string { return f.name }
func (f *fixedReader) Close() error { return nil }

// collectingWriter records every row written to it.
type collectingWriter struct {
	name string
	mu   sync.Mutex
	got  []*row.Row
}

func (c *collectingWriter) Write(_ context.Context, r *row.Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, r)
	return nil
}
func (c *collectingWriter) Name() string { return c.name }
func (c *collectingWriter) Close() error { return nil }
func (c *collectingWriter) rows() []*row.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*row.Row(nil), c.got...)
}

func TestExecutorFlowsRowsFromSourceToSink(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.NSourceWorkerThreads = 1
	cfg.Worker.NGenericWorkerThreads = 1

	reg := ioadapter.NewRegistry()
	reader := &fixedReader{
		name: "source_trade",
		rows: []ioadapter.ForeignRow{
			{Values: map[string]row.Value{"ts": "2020-01-01 00:00:00.000000000", "amount": float64(10)}},
			{Values: map[string]row.Value{"ts": "2020-01-01 00:00:01.000000000", "amount": float64(20)}},
		},
	}
	writer := &collectingWriter{name: "sink_trade"}
	require.NoError(t, reg.RegisterReader(reader, nil))
	require.NoError(t, reg.RegisterWriter(writer, nil))

	src := ids.TaskId("source_trade")
	pump := ids.TaskId("pump_passthrough")
	sink := ids.TaskId("sink_trade")
	srcToPump := ids.NewEdgeId(src, pump)
	pumpToSink := ids.NewEdgeId(pump, sink)

	g := graph.New(
		[]graph.Task{
			{Id: src, Kind: graph.KindSource, Schema: tradeSchema()},
			{Id: pump, Kind: graph.KindPump, Plan: &plan.Plan{OutputSchema: tradeSchema()}},
			{Id: sink, Kind: graph.KindSink, Schema: tradeSchema()},
		},
		[]graph.Edge{
			{Id: srcToPump, Kind: graph.EdgeRow},
			{Id: pumpToSink, Kind: graph.EdgeRow},
		},
	)

	ex := executor.New(cfg, zerolog.Nop(), reg)

	repo := queue.NewRepository(0, 0)
	repo.Reset([]ids.EdgeId{srcToPump, pumpToSink}, nil)
	ex.UpdatePipeline(g, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ex.Start(ctx)

	require.Eventually(t, func() bool {
		return len(writer.rows()) >= 2
	}, time.Second, time.Millisecond)

	ex.Stop()

	got := writer.rows()
	require.Len(t, got, 2)
	v, ok := got[0].Get("amount")
	require.True(t, ok)
	require.Equal(t, 10.0, v)
}
