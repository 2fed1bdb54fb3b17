package netreader_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/springql-go/springql/internal/ioadapter/netreader"
	"github.com/springql-go/springql/internal/row"
)

func tradeSchema() *row.Schema {
	return &row.Schema{
		StreamName: "trade",
		Role:       row.RoleSource,
		Columns: []row.ColumnDef{
			{Name: "ts", Type: row.TypeTimestamp, IsRowtime: true},
			{Name: "symbol", Type: row.TypeText},
			{Name: "amount", Type: row.TypeFloat},
		},
	}
}

func TestServerModeAcceptsAndDecodesOneLine(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close()) // free the port; netreader rebinds it

	r, err := netreader.New("source_trade", netreader.Config{
		Mode:           netreader.ModeServer,
		Addr:           addr,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		Schema:         tradeSchema(),
	})
	require.NoError(t, err)
	defer r.Close()

	go func() {
		// give the reader a moment to start listening
		for i := 0; i < 50; i++ {
			conn, err := net.Dial("tcp", addr)
			if err == nil {
				_, _ = conn.Write([]byte(`{"ts":"2020-01-01 00:00:00.000000000","symbol":"ORCL","amount":100.0}` + "\n"))
				_ = conn.Close()
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	fr, err := r.NextRow(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ORCL", fr.Values["symbol"])
}
