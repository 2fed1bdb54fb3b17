package ioadapter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/ioadapter"
	"github.com/springql-go/springql/internal/memcounter"
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

func TestCoerceConvertsJSONNumberToFloat(t *testing.T) {
	fr := ioadapter.ForeignRow{Values: map[string]row.Value{
		"ts":     "2020-01-01 00:00:00.000000000",
		"symbol": "ORCL",
		"amount": float64(100),
	}}
	r, err := ioadapter.Coerce(tradeSchema(), fr, memcounter.New())
	require.NoError(t, err)

	v, ok := r.Get("amount")
	require.True(t, ok)
	assert.Equal(t, 100.0, v)
}

func TestCoerceRejectsMissingRequiredColumn(t *testing.T) {
	fr := ioadapter.ForeignRow{Values: map[string]row.Value{
		"ts": "2020-01-01 00:00:00.000000000",
	}}
	_, err := ioadapter.Coerce(tradeSchema(), fr, memcounter.New())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Sql))
}

func TestCoerceRejectsWrongType(t *testing.T) {
	fr := ioadapter.ForeignRow{Values: map[string]row.Value{
		"ts":     "2020-01-01 00:00:00.000000000",
		"symbol": "ORCL",
		"amount": "not a number",
	}}
	_, err := ioadapter.Coerce(tradeSchema(), fr, memcounter.New())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Sql))
}
