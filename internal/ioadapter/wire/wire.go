// Package wire implements the JSON encoding SpringQL's NET_SERVER and
// NET_CLIENT foreign adapters exchange rows in, validating inbound
// payloads against a JSON Schema derived from the stream's declared
// columns before they are ever turned into a row.Row.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/ioadapter"
	"github.com/springql-go/springql/internal/row"
)

// SchemaFor derives a JSON Schema document from a stream schema: every
// column becomes a property typed per its SQL type, and every column not
// declared nullable (the rowtime column included) is required.
// netreader.New builds one for each reader it constructs.
func SchemaFor(schema *row.Schema) *gojsonschema.Schema {
	properties := make(map[string]any, len(schema.Columns))
	required := make([]string, 0, len(schema.Columns))
	for _, col := range schema.Columns {
		properties[col.Name] = map[string]any{"type": jsonType(col.Type)}
		if !col.Nullable {
			required = append(required, col.Name)
		}
	}

	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": true,
	}
	loader := gojsonschema.NewGoLoader(doc)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		// A schema built entirely from the fixed cases in jsonType can
		// never fail to compile; a failure here is a bug in jsonType.
		panic(fmt.Sprintf("wire: built an invalid JSON Schema: %v", err))
	}
	return compiled
}

func jsonType(t row.Type) string {
	switch t {
	case row.TypeInteger:
		return "integer"
	case row.TypeFloat:
		return "number"
	case row.TypeBoolean:
		return "boolean"
	case row.TypeText, row.TypeTimestamp, row.TypeBlob:
		return "string"
	default:
		return "string"
	}
}

// Decode validates raw against schema (built by SchemaFor) and
// unmarshals it into a ForeignRow. A schema mismatch is a row-level Sql
// error, consistent with §7's "row-level errors are logged and
// dropped" rather than a fatal one.
func Decode(schema *gojsonschema.Schema, raw []byte) (ioadapter.ForeignRow, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return ioadapter.ForeignRow{}, apperr.Wrap(apperr.InvalidFormat, "wire: payload is not valid JSON", err)
	}
	if !result.Valid() {
		return ioadapter.ForeignRow{}, apperr.New(apperr.Sql, fmt.Sprintf("wire: payload does not match stream schema: %v", result.Errors()))
	}

	var fields map[string]row.Value
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ioadapter.ForeignRow{}, apperr.Wrap(apperr.InvalidFormat, "wire: payload is not a JSON object", err)
	}
	return ioadapter.ForeignRow{Values: fields}, nil
}

// Encode serializes r's columns to a single-line JSON object, the wire
// format NET_CLIENT sink connections and the DB/S3 sinks' row batching
// both build on.
func Encode(r *row.Row) ([]byte, error) {
	obj := make(map[string]row.Value, len(r.Schema().Columns))
	for i, col := range r.Schema().Columns {
		v := r.Value(i)
		if ts, ok := v.(row.Timestamp); ok {
			obj[col.Name] = ts.String()
			continue
		}
		obj[col.Name] = v
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidFormat, "wire: row does not marshal to JSON", err)
	}
	return out, nil
}
