package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/memcounter"
	"github.com/springql-go/springql/internal/queue"
	"github.com/springql-go/springql/internal/row"
)

func testSchema() *row.Schema {
	return &row.Schema{
		StreamName: "source_trade",
		Role:       row.RoleSource,
		Columns: []row.ColumnDef{
			{Name: "ts", Type: row.TypeTimestamp, IsRowtime: true},
			{Name: "amount", Type: row.TypeInteger},
		},
	}
}

func mustRow(t *testing.T, ts string, amount int64, counter *memcounter.Counter) *row.Row {
	t.Helper()
	parsed, err := row.ParseTimestamp(ts)
	require.NoError(t, err)
	return row.New(testSchema(), []row.Value{parsed, amount}, counter)
}

func TestRowQueueFIFOOrder(t *testing.T) {
	counter := memcounter.New()
	q := queue.NewRowQueue(0)

	r1 := mustRow(t, "2020-01-01 00:00:00.000000000", 1, counter)
	r2 := mustRow(t, "2020-01-01 00:00:01.000000000", 2, counter)
	require.NoError(t, q.Push(r1))
	require.NoError(t, q.Push(r2))

	out1, err := q.Pop(time.Second)
	require.NoError(t, err)
	out2, err := q.Pop(time.Second)
	require.NoError(t, err)

	amt1, _ := out1.Get("amount")
	amt2, _ := out2.Get("amount")
	assert.EqualValues(t, 1, amt1)
	assert.EqualValues(t, 2, amt2)
}

func TestRowQueuePopTimesOutWhenEmpty(t *testing.T) {
	q := queue.NewRowQueue(0)
	_, err := q.Pop(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InputTimeout))
}

func TestRowQueueRejectsPushBeyondCapacity(t *testing.T) {
	counter := memcounter.New()
	q := queue.NewRowQueue(1)
	r1 := mustRow(t, "2020-01-01 00:00:00.000000000", 1, counter)
	r2 := mustRow(t, "2020-01-01 00:00:01.000000000", 2, counter)

	require.NoError(t, q.Push(r1))
	err := q.Push(r2)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Unavailable))
}

func TestRowQueuePurgeAllReleasesMemory(t *testing.T) {
	counter := memcounter.New()
	q := queue.NewRowQueue(0)
	require.NoError(t, q.Push(mustRow(t, "2020-01-01 00:00:00.000000000", 1, counter)))
	require.NoError(t, q.Push(mustRow(t, "2020-01-01 00:00:01.000000000", 2, counter)))

	require.Greater(t, counter.UsedBytes(), int64(0))
	n := q.PurgeAll()
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(0), counter.UsedBytes())
}

func TestWindowQueuePurgeOlderThan(t *testing.T) {
	counter := memcounter.New()
	q := queue.NewWindowQueue(0)
	require.NoError(t, q.Push(mustRow(t, "2020-01-01 00:00:00.000000000", 1, counter)))
	require.NoError(t, q.Push(mustRow(t, "2020-01-01 00:00:10.000000000", 2, counter)))

	cutoff, err := row.ParseTimestamp("2020-01-01 00:00:05.000000000")
	require.NoError(t, err)

	n := q.PurgeOlderThan(cutoff)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.Len())
}

func TestWindowQueueCollectWindowDoesNotRemove(t *testing.T) {
	counter := memcounter.New()
	q := queue.NewWindowQueue(0)
	require.NoError(t, q.Push(mustRow(t, "2020-01-01 00:00:00.000000000", 1, counter)))
	require.NoError(t, q.Push(mustRow(t, "2020-01-01 00:00:10.000000000", 2, counter)))

	lower, _ := row.ParseTimestamp("2020-01-01 00:00:00.000000000")
	upper, _ := row.ParseTimestamp("2020-01-01 00:00:10.000000000")

	out := q.CollectWindow(lower, upper)
	assert.Len(t, out, 1)
	assert.Equal(t, 2, q.Len(), "CollectWindow must not evict")
}

func TestRepositoryEmitFansOutAndCollectNextReturnsInOrder(t *testing.T) {
	counter := memcounter.New()
	repo := queue.NewRepository(0, 0)

	producer := ids.TaskId("pump")
	consumerA := ids.TaskId("sink_a")
	consumerB := ids.TaskId("sink_b")
	edgeA := ids.NewEdgeId(producer, consumerA)
	edgeB := ids.NewEdgeId(producer, consumerB)

	repo.Reset([]ids.EdgeId{edgeA, edgeB}, nil)

	r := mustRow(t, "2020-01-01 00:00:00.000000000", 42, counter)
	require.NoError(t, repo.Emit(r, []ids.EdgeId{edgeA, edgeB}))

	assert.Equal(t, 1, repo.RowQueueLen(edgeA))
	assert.Equal(t, 1, repo.RowQueueLen(edgeB))

	outA, err := repo.CollectNext(edgeA, time.Second)
	require.NoError(t, err)
	amt, _ := outA.Get("amount")
	assert.EqualValues(t, 42, amt)

	// releasing A's reference must not free the row while B still holds one
	outA.Release()
	assert.Greater(t, counter.UsedBytes(), int64(0))

	outB, err := repo.CollectNext(edgeB, time.Second)
	require.NoError(t, err)
	outB.Release()
	assert.Equal(t, int64(0), counter.UsedBytes())
}

func TestRepositoryEmitRejectsEmptyDownstream(t *testing.T) {
	counter := memcounter.New()
	repo := queue.NewRepository(0, 0)
	r := mustRow(t, "2020-01-01 00:00:00.000000000", 1, counter)
	err := repo.Emit(r, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Sql))
	r.Release()
}

func TestRepositoryEmitReleasesCallerReferenceOnPartialFailure(t *testing.T) {
	counter := memcounter.New()
	repo := queue.NewRepository(1, 0)

	producer := ids.TaskId("pump")
	edgeA := ids.NewEdgeId(producer, ids.TaskId("sink_a"))
	edgeB := ids.NewEdgeId(producer, ids.TaskId("sink_b"))
	repo.Reset([]ids.EdgeId{edgeA, edgeB}, nil)

	// fill edgeB to capacity so the fan-out fails partway through.
	require.NoError(t, repo.Emit(mustRow(t, "2020-01-01 00:00:00.000000000", 0, counter), []ids.EdgeId{edgeB}))

	r := mustRow(t, "2020-01-01 00:00:01.000000000", 1, counter)
	err := repo.Emit(r, []ids.EdgeId{edgeA, edgeB})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Unavailable))

	// the caller's own reference to r must be released even on a
	// partial failure, or its accounted bytes never come back down.
	assert.Equal(t, 1, repo.RowQueueLen(edgeA))
	outA, err := repo.CollectNext(edgeA, time.Second)
	require.NoError(t, err)
	outA.Release()

	outB, err := repo.CollectNext(edgeB, time.Second)
	require.NoError(t, err)
	outB.Release()

	assert.Equal(t, int64(0), counter.UsedBytes())
}

func TestRepositoryPurgeIntermediateDrainsEverything(t *testing.T) {
	counter := memcounter.New()
	repo := queue.NewRepository(0, 0)
	edge := ids.NewEdgeId("pump", "sink")
	repo.Reset([]ids.EdgeId{edge}, nil)

	require.NoError(t, repo.Emit(mustRow(t, "2020-01-01 00:00:00.000000000", 1, counter), []ids.EdgeId{edge}))
	n := repo.PurgeIntermediate()
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(0), counter.UsedBytes())
}
