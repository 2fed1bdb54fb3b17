package plan

import (
	"fmt"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/row"
)

// FieldPointer names a column, optionally qualified by its source
// stream, exactly as the planner's field-resolution contract (spec.md
// §4.8, grounded on the original implementation's
// select_syntax_analyzer/field.rs) describes:
//
//   - a bare attribute name binds to the unique FROM-item stream if
//     there is exactly one;
//   - with multiple FROM items, the pointer must carry a prefix
//     matching one of them;
//   - no match is a Sql error, never a silent pick.
type FieldPointer struct {
	Prefix string // stream name qualifier, or "" if unqualified
	Name   string
	Alias  string // output column name; defaults to Name if empty
}

// OutputName returns the Alias if set, otherwise Name.
func (p FieldPointer) OutputName() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Name
}

// Resolve picks the single stream name this pointer refers to, given
// the FROM items available in the enclosing query. It never guesses:
// an unqualified pointer over more than one FROM item fails Sql.
func (p FieldPointer) Resolve(fromItems []string) (string, error) {
	switch {
	case p.Prefix != "":
		for _, s := range fromItems {
			if s == p.Prefix {
				return p.Prefix, nil
			}
		}
		return "", apperr.New(apperr.Sql, fmt.Sprintf("stream %q in %q is not a FROM item", p.Prefix, p.Name))
	case len(fromItems) == 1:
		return fromItems[0], nil
	case len(fromItems) == 0:
		return "", apperr.New(apperr.Sql, fmt.Sprintf("column %q: no FROM item in scope", p.Name))
	default:
		return "", apperr.New(apperr.Sql, fmt.Sprintf("column %q needs pipeline info: ambiguous among %d FROM items, add a stream prefix", p.Name, len(fromItems)))
	}
}

// BoundColumn is a Column expression pre-resolved against a fixed set
// of FROM items at plan-construction time, so evaluation never has to
// repeat the ambiguity check per row.
type BoundColumn struct {
	Pointer   FieldPointer
	FromItems []string
}

func (c BoundColumn) Eval(r *row.Row) (row.Value, error) {
	streamName, err := c.Pointer.Resolve(c.FromItems)
	if err != nil {
		return nil, err
	}
	if streamName != r.Schema().StreamName {
		return nil, apperr.New(apperr.Sql, fmt.Sprintf("column %q resolves to stream %q, input row is %q", c.Pointer.Name, streamName, r.Schema().StreamName))
	}
	v, ok := r.Get(c.Pointer.Name)
	if !ok {
		return nil, apperr.New(apperr.Sql, fmt.Sprintf("column %q not found in stream %q", c.Pointer.Name, streamName))
	}
	return v, nil
}
