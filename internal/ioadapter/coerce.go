package ioadapter

import (
	"fmt"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/memcounter"
	"github.com/springql-go/springql/internal/row"
)

// Coerce turns an untyped ForeignRow into a typed row.Row conforming to
// schema, the step a Source task performs right after NextRow (spec.md
// §4.2: "the planner's DDL-declared schema coerces it into a typed
// row.Row at the Source task boundary"). A missing non-nullable column
// or a value that cannot be converted to its declared type is a
// row-level Sql error, not a fatal one.
func Coerce(schema *row.Schema, fr ForeignRow, counter *memcounter.Counter) (*row.Row, error) {
	values := make([]row.Value, len(schema.Columns))
	for i, col := range schema.Columns {
		raw, ok := fr.Values[col.Name]
		if !ok || raw == nil {
			if !col.Nullable {
				return nil, apperr.New(apperr.Sql, fmt.Sprintf("coerce: missing required column %q", col.Name))
			}
			values[i] = nil
			continue
		}
		v, err := coerceValue(col, raw)
		if err != nil {
			return nil, apperr.Wrap(apperr.Sql, fmt.Sprintf("coerce: column %q", col.Name), err)
		}
		values[i] = v
	}
	return row.New(schema, values, counter), nil
}

func coerceValue(col row.ColumnDef, raw row.Value) (row.Value, error) {
	switch col.Type {
	case row.TypeInteger:
		switch n := raw.(type) {
		case float64:
			return int64(n), nil
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		}
		return nil, fmt.Errorf("expected a number, got %T", raw)
	case row.TypeFloat:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("expected a number, got %T", raw)
	case row.TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected a boolean, got %T", raw)
		}
		return b, nil
	case row.TypeTimestamp:
		if col.IsRowtime {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("expected a timestamp string, got %T", raw)
			}
			return row.ParseTimestamp(s)
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a timestamp string, got %T", raw)
		}
		return row.ParseTimestamp(s)
	case row.TypeText, row.TypeBlob:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", raw)
		}
		return s, nil
	default:
		return raw, nil
	}
}
