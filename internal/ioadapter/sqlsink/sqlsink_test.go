package sqlsink_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/springql-go/springql/internal/ioadapter/sqlsink"
	"github.com/springql-go/springql/internal/memcounter"
	"github.com/springql-go/springql/internal/row"
)

func sampledSchema() *row.Schema {
	return &row.Schema{
		StreamName: "sampled",
		Role:       row.RoleSink,
		Columns: []row.ColumnDef{
			{Name: "ts", Type: row.TypeTimestamp, IsRowtime: true},
			{Name: "avg_amount", Type: row.TypeFloat},
		},
	}
}

func mustRow(t *testing.T, ts string, amount float64) *row.Row {
	parsed, err := row.ParseTimestamp(ts)
	require.NoError(t, err)
	return row.New(sampledSchema(), []row.Value{parsed, amount}, memcounter.New())
}

func TestWriteFlushesOnBatchSize(t *testing.T) {
	dsn := "file::memory:?cache=shared"
	setup, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer setup.Close()
	_, err = setup.Exec(`CREATE TABLE sampled (ts TEXT, avg_amount REAL)`)
	require.NoError(t, err)

	w, err := sqlsink.New("sink_sampled", sqlsink.Config{
		Driver:        sqlsink.DriverSQLite3,
		DSN:           dsn,
		Table:         "sampled",
		BatchSize:     2,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write(context.Background(), mustRow(t, "2020-01-01 00:00:00.000000000", 10)))
	require.NoError(t, w.Write(context.Background(), mustRow(t, "2020-01-01 00:00:10.000000000", 20)))

	var count int
	require.NoError(t, setup.QueryRow(`SELECT COUNT(*) FROM sampled`).Scan(&count))
	require.Equal(t, 2, count)
}

func TestCloseFlushesRemainingRows(t *testing.T) {
	dsn := "file:sqlsink_close_test?mode=memory&cache=shared"
	setup, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer setup.Close()
	_, err = setup.Exec(`CREATE TABLE sampled (ts TEXT, avg_amount REAL)`)
	require.NoError(t, err)

	w, err := sqlsink.New("sink_sampled", sqlsink.Config{
		Driver:        sqlsink.DriverSQLite3,
		DSN:           dsn,
		Table:         "sampled",
		BatchSize:     100,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, w.Write(context.Background(), mustRow(t, "2020-01-01 00:00:00.000000000", 10)))
	require.NoError(t, w.Close())

	var count int
	require.NoError(t, setup.QueryRow(`SELECT COUNT(*) FROM sampled`).Scan(&count))
	require.Equal(t, 1, count)
}
