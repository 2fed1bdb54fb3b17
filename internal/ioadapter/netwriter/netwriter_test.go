package netwriter_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/springql-go/springql/internal/ioadapter/netwriter"
	"github.com/springql-go/springql/internal/memcounter"
	"github.com/springql-go/springql/internal/row"
)

func mustRow(t *testing.T) *row.Row {
	schema := &row.Schema{
		StreamName: "sampled",
		Role:       row.RoleSink,
		Columns: []row.ColumnDef{
			{Name: "ts", Type: row.TypeTimestamp, IsRowtime: true},
			{Name: "avg_amount", Type: row.TypeFloat},
		},
	}
	ts, err := row.ParseTimestamp("2020-01-01 00:00:00.000000000")
	require.NoError(t, err)
	return row.New(schema, []row.Value{ts, 42.5}, memcounter.New())
}

func TestClientModeDialsAndWritesOneLine(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	w, err := netwriter.New("sink_sampled", netwriter.Config{
		Mode:           netwriter.ModeClient,
		Addr:           ln.Addr().String(),
		ConnectTimeout: time.Second,
		WriteTimeout:   time.Second,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write(context.Background(), mustRow(t)))

	select {
	case line := <-received:
		require.Contains(t, line, "avg_amount")
	case <-time.After(time.Second):
		t.Fatal("server never received a line")
	}
}
