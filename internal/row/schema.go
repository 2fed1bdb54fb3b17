// Package row implements the typed-tuple row and stream-schema model
// described in spec.md §3 (C1): immutable rows sharing references
// across downstream consumers, with rowtime semantics for windowing.
package row

import "fmt"

// Type is a column's SQL type.
type Type int

const (
	TypeInteger Type = iota
	TypeFloat
	TypeText
	TypeBoolean
	TypeTimestamp
	TypeBlob
)

func (t Type) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeBlob:
		return "BLOB"
	default:
		return "UNKNOWN"
	}
}

// ColumnDef is one (column_name, type, nullable, is_rowtime) tuple.
type ColumnDef struct {
	Name      string
	Type      Type
	Nullable  bool
	IsRowtime bool
}

// Role is the role a stream plays in the pipeline.
type Role int

const (
	RoleSource Role = iota
	RoleSink
	RoleDerived
)

// Schema is a named, ordered list of column definitions with a role.
// Stream names are unique within a pipeline; uniqueness is enforced by
// the planner/pipeline layer, not here.
type Schema struct {
	StreamName string
	Role       Role
	Columns    []ColumnDef
}

// RowtimeIndex returns the index of the rowtime column, or -1 if the
// schema has none (at most one column may be designated rowtime).
func (s *Schema) RowtimeIndex() int {
	for i, c := range s.Columns {
		if c.IsRowtime {
			return i
		}
	}
	return -1
}

// IndexOf returns the index of the named column, or -1.
func (s *Schema) IndexOf(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Project returns a new Schema containing only the named columns, in
// the order requested. Used by the Projection plan operation (§4.8).
func (s *Schema) Project(names []string) (*Schema, error) {
	cols := make([]ColumnDef, 0, len(names))
	for _, n := range names {
		idx := s.IndexOf(n)
		if idx < 0 {
			return nil, fmt.Errorf("column %q not found in stream %q", n, s.StreamName)
		}
		cols = append(cols, s.Columns[idx])
	}
	return &Schema{StreamName: s.StreamName, Role: RoleDerived, Columns: cols}, nil
}
