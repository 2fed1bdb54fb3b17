package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/row"
)

// ColumnSpec is one column of a CREATE SOURCE/SINK STREAM statement.
type ColumnSpec struct {
	Name      string
	Type      row.Type
	Nullable  bool
	IsRowtime bool
}

// CreateStream is a CREATE SOURCE STREAM or CREATE SINK STREAM statement.
type CreateStream struct {
	IsSource bool
	Name     string
	Columns  []ColumnSpec
}

// SelectField is one projected expression of a pump's SELECT STREAM
// clause: either a bare/qualified column reference or a FLOOR(...)/
// aggregate function call, always aliased.
type SelectField struct {
	Column string // set when this field is a plain column reference
	Func   string // "FLOOR" or an aggregate name, set when this is a call
	Args   []string
	Alias  string
}

// CreatePump is a CREATE PUMP ... AS INSERT INTO ... SELECT STREAM ...
// FROM ... [GROUP BY ...] statement.
type CreatePump struct {
	Name        string
	SinkStream  string
	InsertCols  []string
	Fields      []SelectField
	FromStream  string
	GroupByCol  string // alias from Fields grouped on, "" if no GROUP BY
}

// Options is a DDL OPTIONS(...) bag, keyed case-insensitively on the
// option name.
type Options map[string]string

// Get returns the option named key and whether it was present.
func (o Options) Get(key string) (string, bool) {
	v, ok := o[strings.ToUpper(key)]
	return v, ok
}

// CreateSourceReader is a CREATE SOURCE READER ... FOR ... TYPE ...
// OPTIONS (...) statement.
type CreateSourceReader struct {
	Name   string
	Stream string
	Type   string
	Opts   Options
}

// CreateSinkWriter is a CREATE SINK WRITER ... FOR ... TYPE ...
// OPTIONS (...) statement.
type CreateSinkWriter struct {
	Name   string
	Stream string
	Type   string
	Opts   Options
}

// EngineVersionRequirement is an `ENGINE_VERSION REQUIRES '<constraint>';`
// pragma: a planner snapshot can assert the semver range of core it was
// built against, so a planner/core mismatch fails at command() time
// instead of misbehaving at runtime (spec.md's supplemented versioning
// feature). It is not a CREATE statement and carries no stream/task of
// its own.
type EngineVersionRequirement struct {
	Constraint string
}

// Statement is the union of every DDL form planner.Parse recognizes.
type Statement any

type parser struct {
	toks []token
	pos  int
}

// Parse tokenizes and parses ddl, returning one Statement per
// top-level `;`-terminated clause.
func Parse(ddl string) ([]Statement, error) {
	toks, err := tokenize(ddl)
	if err != nil {
		return nil, apperr.Wrap(apperr.Sql, "planner: tokenize failed", err)
	}
	p := &parser{toks: toks}

	var stmts []Statement
	for !p.atEOF() {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func (p *parser) atEOF() bool { return p.toks[p.pos].kind == tokEOF }

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// expectKeyword consumes the next token if it is an identifier
// case-insensitively equal to kw, else errors.
func (p *parser) expectKeyword(kw string) error {
	t := p.advance()
	if t.kind != tokIdent || !strings.EqualFold(t.text, kw) {
		return apperr.New(apperr.Sql, fmt.Sprintf("planner: expected %q, got %q", kw, t.text))
	}
	return nil
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (p *parser) expectIdent() (string, error) {
	t := p.advance()
	if t.kind != tokIdent {
		return "", apperr.New(apperr.Sql, fmt.Sprintf("planner: expected an identifier, got %q", t.text))
	}
	return t.text, nil
}

func (p *parser) expectString() (string, error) {
	t := p.advance()
	if t.kind != tokString {
		return "", apperr.New(apperr.Sql, fmt.Sprintf("planner: expected a string literal, got %q", t.text))
	}
	return t.text, nil
}

func (p *parser) expectPunct(s string) error {
	t := p.advance()
	if t.kind != tokPunct || t.text != s {
		return apperr.New(apperr.Sql, fmt.Sprintf("planner: expected %q, got %q", s, t.text))
	}
	return nil
}

func (p *parser) parseStatement() (Statement, error) {
	if p.isKeyword("ENGINE_VERSION") {
		return p.parseEngineVersionRequirement()
	}

	if err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}

	switch {
	case p.isKeyword("SOURCE"):
		p.advance()
		if p.isKeyword("STREAM") {
			return p.parseCreateStream(true)
		}
		if p.isKeyword("READER") {
			return p.parseCreateReaderOrWriter(true)
		}
		return nil, apperr.New(apperr.Sql, "planner: expected STREAM or READER after CREATE SOURCE")
	case p.isKeyword("SINK"):
		p.advance()
		if p.isKeyword("STREAM") {
			return p.parseCreateStream(false)
		}
		if p.isKeyword("WRITER") {
			return p.parseCreateReaderOrWriter(false)
		}
		return nil, apperr.New(apperr.Sql, "planner: expected STREAM or WRITER after CREATE SINK")
	case p.isKeyword("PUMP"):
		return p.parseCreatePump()
	default:
		return nil, apperr.New(apperr.Sql, fmt.Sprintf("planner: unknown CREATE statement starting with %q", p.peek().text))
	}
}

func (p *parser) parseCreateStream(isSource bool) (Statement, error) {
	if err := p.expectKeyword("STREAM"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}

	var cols []ColumnSpec
	for {
		colName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		typeName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		typ, err := parseColumnType(typeName)
		if err != nil {
			return nil, err
		}
		spec := ColumnSpec{Name: colName, Type: typ, Nullable: true}
		for p.isKeyword("NOT") || p.isKeyword("ROWTIME") {
			if p.isKeyword("NOT") {
				p.advance()
				if err := p.expectKeyword("NULL"); err != nil {
					return nil, err
				}
				spec.Nullable = false
			} else {
				p.advance()
				spec.IsRowtime = true
			}
		}
		cols = append(cols, spec)

		t := p.advance()
		if t.kind == tokPunct && t.text == "," {
			continue
		}
		if t.kind == tokPunct && t.text == ")" {
			break
		}
		return nil, apperr.New(apperr.Sql, fmt.Sprintf("planner: expected ',' or ')' in column list, got %q", t.text))
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return CreateStream{IsSource: isSource, Name: name, Columns: cols}, nil
}

func parseColumnType(name string) (row.Type, error) {
	switch strings.ToUpper(name) {
	case "INTEGER", "INT":
		return row.TypeInteger, nil
	case "FLOAT":
		return row.TypeFloat, nil
	case "TEXT":
		return row.TypeText, nil
	case "BOOLEAN", "BOOL":
		return row.TypeBoolean, nil
	case "TIMESTAMP":
		return row.TypeTimestamp, nil
	case "BLOB":
		return row.TypeBlob, nil
	default:
		return 0, apperr.New(apperr.Sql, fmt.Sprintf("planner: unknown column type %q", name))
	}
}

func (p *parser) parseCreatePump() (Statement, error) {
	if err := p.expectKeyword("PUMP"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INSERT"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	sinkStream, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var insertCols []string
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		insertCols = append(insertCols, col)
		t := p.advance()
		if t.kind == tokPunct && t.text == "," {
			continue
		}
		if t.kind == tokPunct && t.text == ")" {
			break
		}
		return nil, apperr.New(apperr.Sql, fmt.Sprintf("planner: expected ',' or ')' in INSERT column list, got %q", t.text))
	}

	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("STREAM"); err != nil {
		return nil, err
	}

	var fields []SelectField
	for {
		field, err := p.parseSelectField()
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
		if p.peek().kind == tokPunct && p.peek().text == "," {
			p.advance()
			continue
		}
		break
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	fromStream, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	var groupBy string
	if p.isKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		groupBy, err = p.expectIdent()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}

	return CreatePump{
		Name:       name,
		SinkStream: sinkStream,
		InsertCols: insertCols,
		Fields:     fields,
		FromStream: fromStream,
		GroupByCol: groupBy,
	}, nil
}

// parseSelectField parses one projection: NAME AS ALIAS, or
// FUNC(args...) AS ALIAS. The grammar always requires an alias
// (GROUP BY and INSERT column lists bind on alias, never expression
// shape), matching the sampling DDL's "AS sampled_ts"/"AS avg_amount".
func (p *parser) parseSelectField() (SelectField, error) {
	name, err := p.expectIdent()
	if err != nil {
		return SelectField{}, err
	}

	var field SelectField
	if p.peek().kind == tokPunct && p.peek().text == "(" {
		p.advance()
		field.Func = strings.ToUpper(name)
		for {
			if p.peek().kind == tokPunct && p.peek().text == ")" {
				p.advance()
				break
			}
			arg, err := p.parseCallArg()
			if err != nil {
				return SelectField{}, err
			}
			field.Args = append(field.Args, arg)
			if p.peek().kind == tokPunct && p.peek().text == "," {
				p.advance()
				continue
			}
		}
	} else {
		field.Column = name
	}

	if err := p.expectKeyword("AS"); err != nil {
		return SelectField{}, err
	}
	alias, err := p.expectIdent()
	if err != nil {
		return SelectField{}, err
	}
	field.Alias = alias
	return field, nil
}

// parseCallArg parses one argument of a function call: an identifier
// (column name or nested call rendered as text), or a bare number.
// Nested calls (DURATION_SECS(10) inside FLOOR(...)) are flattened to
// their literal text since the only nested shape the grammar needs is
// a single numeric literal duration.
func (p *parser) parseCallArg() (string, error) {
	t := p.advance()
	switch t.kind {
	case tokIdent:
		if p.peek().kind == tokPunct && p.peek().text == "(" {
			p.advance()
			var inner []string
			for {
				if p.peek().kind == tokPunct && p.peek().text == ")" {
					p.advance()
					break
				}
				a, err := p.parseCallArg()
				if err != nil {
					return "", err
				}
				inner = append(inner, a)
				if p.peek().kind == tokPunct && p.peek().text == "," {
					p.advance()
				}
			}
			return t.text + "(" + strings.Join(inner, ",") + ")", nil
		}
		return t.text, nil
	case tokNumber:
		return t.text, nil
	default:
		return "", apperr.New(apperr.Sql, fmt.Sprintf("planner: unexpected token %q in function call", t.text))
	}
}

func (p *parser) parseEngineVersionRequirement() (Statement, error) {
	if err := p.expectKeyword("ENGINE_VERSION"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("REQUIRES"); err != nil {
		return nil, err
	}
	constraint, err := p.expectString()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return EngineVersionRequirement{Constraint: constraint}, nil
}

func (p *parser) parseCreateReaderOrWriter(isReader bool) (Statement, error) {
	if isReader {
		if err := p.expectKeyword("READER"); err != nil {
			return nil, err
		}
	} else {
		if err := p.expectKeyword("WRITER"); err != nil {
			return nil, err
		}
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FOR"); err != nil {
		return nil, err
	}
	stream, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TYPE"); err != nil {
		return nil, err
	}
	typ, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("OPTIONS"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	opts := make(Options)
	for {
		key, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		val, err := p.expectString()
		if err != nil {
			return nil, err
		}
		opts[strings.ToUpper(key)] = val
		t := p.advance()
		if t.kind == tokPunct && t.text == "," {
			continue
		}
		if t.kind == tokPunct && t.text == ")" {
			break
		}
		return nil, apperr.New(apperr.Sql, fmt.Sprintf("planner: expected ',' or ')' in OPTIONS, got %q", t.text))
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}

	if isReader {
		return CreateSourceReader{Name: name, Stream: stream, Type: strings.ToUpper(typ), Opts: opts}, nil
	}
	return CreateSinkWriter{Name: name, Stream: stream, Type: strings.ToUpper(typ), Opts: opts}, nil
}

// optInt reads a numeric DDL option, falling back to def if absent.
func optInt(opts Options, key string, def int) (int, error) {
	v, ok := opts.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.New(apperr.InvalidConfig, fmt.Sprintf("planner: option %s is not an integer: %q", key, v))
	}
	return n, nil
}
