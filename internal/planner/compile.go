package planner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/graph"
	"github.com/springql-go/springql/internal/ids"
	"github.com/springql-go/springql/internal/ioadapter"
	"github.com/springql-go/springql/internal/ioadapter/memqueue"
	"github.com/springql-go/springql/internal/ioadapter/netreader"
	"github.com/springql-go/springql/internal/ioadapter/netwriter"
	"github.com/springql-go/springql/internal/ioadapter/s3sink"
	"github.com/springql-go/springql/internal/ioadapter/sqlsink"
	"github.com/springql-go/springql/internal/plan"
	"github.com/springql-go/springql/internal/queue"
	"github.com/springql-go/springql/internal/row"
)

// ReaderBinding is a compiled CREATE SOURCE READER: the reader's DDL
// name, the stream whose Source task reads from it, and the config the
// host program builds the Reader from. The executor looks a reader up
// under its Source task id, so the host registers it under Stream.
type ReaderBinding struct {
	Name      string
	Stream    string
	Kind      ioadapter.Kind
	NetConfig *netreader.Config
}

// WriterBinding is the sink-side counterpart of ReaderBinding.
type WriterBinding struct {
	Name      string
	Stream    string
	Kind      ioadapter.Kind
	NetConfig *netwriter.Config
	DBConfig  *sqlsink.Config
	S3Config  *s3sink.Config
	MemConfig *memqueue.Config
}

// Pipeline is the fully compiled result of a DDL batch: a task graph
// and queue repository ready for executor.UpdatePipeline, plus the
// reader/writer bindings the host must build and register against the
// ioadapter.Registry before installing Graph with UpdatePipeline.
type Pipeline struct {
	Graph   *graph.Graph
	Repo    *queue.Repository
	Readers []ReaderBinding
	Writers []WriterBinding
	// EngineVersionConstraints collects every ENGINE_VERSION REQUIRES
	// pragma found in the statement batch, in source order, for the
	// caller to check against its own build version before installing
	// Graph/Repo (spec.md's supplemented versioning feature).
	EngineVersionConstraints []string
}

// streamDef tracks one CREATE SOURCE/SINK STREAM's schema plus which
// task id represents it, so later statements (pumps, readers, writers)
// can resolve the stream name they reference.
type streamDef struct {
	schema   *row.Schema
	taskID   ids.TaskId
	isSource bool
}

// Compile parses ddl and compiles every statement into one Pipeline.
// Statements are applied in order: a CREATE PUMP/READER/WRITER must
// follow the CREATE STREAM statements it references, mirroring how
// spring_command applies one DDL at a time against a running pipeline
// in the original implementation.
func Compile(ddl string) (*Pipeline, error) {
	stmts, err := Parse(ddl)
	if err != nil {
		return nil, err
	}
	return CompileStatements(stmts)
}

// CompileStatements compiles an already-parsed statement batch. Split
// out from Compile so a host program that accumulates DDL across
// multiple spring_command calls can parse each command separately and
// compile the accumulated statement list once it has a complete
// pipeline definition.
func CompileStatements(stmts []Statement) (*Pipeline, error) {
	c := &compiler{streams: make(map[string]*streamDef)}
	for _, stmt := range stmts {
		if err := c.apply(stmt); err != nil {
			return nil, err
		}
	}

	rowEdges := make([]ids.EdgeId, 0, len(c.edges))
	for _, e := range c.edges {
		rowEdges = append(rowEdges, e.Id)
	}
	repo := queue.NewRepository(0, 0)
	repo.Reset(rowEdges, nil)

	return &Pipeline{
		Graph:                    graph.New(c.tasks, c.edges),
		Repo:                     repo,
		Readers:                  c.readers,
		Writers:                  c.writers,
		EngineVersionConstraints: c.versionReqs,
	}, nil
}

type compiler struct {
	streams     map[string]*streamDef
	tasks       []graph.Task
	edges       []graph.Edge
	readers     []ReaderBinding
	writers     []WriterBinding
	versionReqs []string
}

func (c *compiler) apply(stmt Statement) error {
	switch s := stmt.(type) {
	case CreateStream:
		return c.applyCreateStream(s)
	case CreatePump:
		return c.applyCreatePump(s)
	case CreateSourceReader:
		return c.applyCreateSourceReader(s)
	case CreateSinkWriter:
		return c.applyCreateSinkWriter(s)
	case EngineVersionRequirement:
		c.versionReqs = append(c.versionReqs, s.Constraint)
		return nil
	default:
		return apperr.New(apperr.Sql, fmt.Sprintf("planner: unhandled statement type %T", stmt))
	}
}

func (c *compiler) applyCreateStream(s CreateStream) error {
	if _, exists := c.streams[s.Name]; exists {
		return apperr.New(apperr.Sql, fmt.Sprintf("planner: stream %q already declared", s.Name))
	}

	role := row.RoleSink
	if s.IsSource {
		role = row.RoleSource
	}
	cols := make([]row.ColumnDef, len(s.Columns))
	for i, cs := range s.Columns {
		cols[i] = row.ColumnDef{Name: cs.Name, Type: cs.Type, Nullable: cs.Nullable, IsRowtime: cs.IsRowtime}
	}
	schema := &row.Schema{StreamName: s.Name, Role: role, Columns: cols}

	taskID := ids.TaskId(s.Name)
	kind := graph.KindSink
	if s.IsSource {
		kind = graph.KindSource
	}
	c.tasks = append(c.tasks, graph.Task{Id: taskID, Kind: kind, Schema: schema})
	c.streams[s.Name] = &streamDef{schema: schema, taskID: taskID, isSource: s.IsSource}
	return nil
}

func (c *compiler) applyCreatePump(s CreatePump) error {
	from, ok := c.streams[s.FromStream]
	if !ok {
		return apperr.New(apperr.Sql, fmt.Sprintf("planner: pump %q references unknown FROM stream %q", s.Name, s.FromStream))
	}
	sink, ok := c.streams[s.SinkStream]
	if !ok {
		return apperr.New(apperr.Sql, fmt.Sprintf("planner: pump %q references unknown sink stream %q", s.Name, s.SinkStream))
	}
	if len(s.Fields) != len(s.InsertCols) {
		return apperr.New(apperr.Sql, fmt.Sprintf("planner: pump %q has %d SELECT fields but %d INSERT columns", s.Name, len(s.Fields), len(s.InsertCols)))
	}

	p, err := buildPlan(s, from.schema.StreamName, sink.schema)
	if err != nil {
		return err
	}

	pumpID := ids.TaskId(s.Name)
	c.tasks = append(c.tasks, graph.Task{Id: pumpID, Kind: graph.KindPump, Plan: p, Schema: sink.schema})

	c.edges = append(c.edges,
		graph.Edge{Id: ids.NewEdgeId(from.taskID, pumpID), Kind: graph.EdgeRow},
		graph.Edge{Id: ids.NewEdgeId(pumpID, sink.taskID), Kind: graph.EdgeRow},
	)
	return nil
}

// buildPlan compiles one pump's SELECT STREAM clause into a plan.Plan.
// Two shapes are supported, matching every pump the bundled grammar
// needs to express: a plain per-row projection (no GROUP BY), and a
// time-windowed aggregate (GROUP BY on a FLOOR(...)-derived key). In
// the windowed shape, TimeBasedSlidingWindow always closes out exactly
// (key column, aggregate columns...) in that order (plan.Plan.Exec
// emits a closed window's fold output directly, with no projection
// step after it), so the key field's INSERT column must be listed
// before its aggregate columns — true of every pump in the bundled
// grammar and documented here rather than generalized further.
func buildPlan(s CreatePump, fromStream string, sinkSchema *row.Schema) (*plan.Plan, error) {
	if s.GroupByCol == "" {
		return buildProjectionPlan(s, fromStream, sinkSchema)
	}
	return buildWindowPlan(s, fromStream, sinkSchema)
}

func buildProjectionPlan(s CreatePump, fromStream string, sinkSchema *row.Schema) (*plan.Plan, error) {
	var assignments []plan.Assignment
	fields := make([]plan.FieldPointer, len(s.Fields))

	for i, f := range s.Fields {
		outName := s.InsertCols[i]
		if f.Func != "" {
			expr, err := buildCallExpr(f.Func, f.Args, fromStream)
			if err != nil {
				return nil, err
			}
			assignments = append(assignments, plan.Assignment{Alias: outName, Expr: expr})
			fields[i] = plan.FieldPointer{Name: outName}
		} else if f.Column == outName {
			fields[i] = plan.FieldPointer{Name: f.Column}
		} else {
			assignments = append(assignments, plan.Assignment{
				Alias: outName,
				Expr:  plan.BoundColumn{Pointer: plan.FieldPointer{Name: f.Column}, FromItems: []string{fromStream}},
			})
			fields[i] = plan.FieldPointer{Name: outName}
		}
	}

	ops := []plan.Operation{plan.Collect{Stream: fromStream}}
	if len(assignments) > 0 {
		ops = append(ops, plan.EvalValueExpr{Assignments: assignments})
	}
	ops = append(ops, plan.Projection{Fields: fields})

	return &plan.Plan{Ops: ops, OutputSchema: sinkSchema}, nil
}

func buildWindowPlan(s CreatePump, fromStream string, sinkSchema *row.Schema) (*plan.Plan, error) {
	var assignments []plan.Assignment
	var aggregates []plan.AggregateSpec
	var keyColumn string
	var lowerBound time.Duration

	for i, f := range s.Fields {
		outName := s.InsertCols[i]
		aggFunc, isAgg := aggregateFuncOf(f.Func)

		switch {
		case isAgg:
			if len(f.Args) != 1 {
				return nil, apperr.New(apperr.Sql, fmt.Sprintf("planner: aggregate %s expects exactly one argument", f.Func))
			}
			aggregates = append(aggregates, plan.AggregateSpec{Alias: outName, Func: aggFunc, SourceColumn: f.Args[0]})

		case f.Func != "":
			expr, err := buildCallExpr(f.Func, f.Args, fromStream)
			if err != nil {
				return nil, err
			}
			assignments = append(assignments, plan.Assignment{Alias: outName, Expr: expr})
			if f.Alias == s.GroupByCol {
				keyColumn = outName
				if d, ok := floorDurationOf(f); ok {
					lowerBound = d
				}
			}

		default:
			assignments = append(assignments, plan.Assignment{
				Alias: outName,
				Expr:  plan.BoundColumn{Pointer: plan.FieldPointer{Name: f.Column}, FromItems: []string{fromStream}},
			})
			if f.Alias == s.GroupByCol {
				keyColumn = outName
			}
		}
	}

	if keyColumn == "" {
		return nil, apperr.New(apperr.Sql, fmt.Sprintf("planner: pump GROUP BY %q does not match any SELECT field alias", s.GroupByCol))
	}

	ops := []plan.Operation{plan.Collect{Stream: fromStream}}
	if len(assignments) > 0 {
		ops = append(ops, plan.EvalValueExpr{Assignments: assignments})
	}
	ops = append(ops, plan.TimeBasedSlidingWindow{
		LowerBound:     lowerBound,
		KeyColumn:      keyColumn,
		GroupAggregate: &plan.GroupAggregate{Aggregates: aggregates},
		State:          plan.NewWindowState(),
	})

	return &plan.Plan{Ops: ops, OutputSchema: sinkSchema}, nil
}

func aggregateFuncOf(name string) (plan.AggregateFunc, bool) {
	switch name {
	case "AVG":
		return plan.AggAvg, true
	case "COUNT":
		return plan.AggCount, true
	case "SUM":
		return plan.AggSum, true
	default:
		return "", false
	}
}

// floorDurationOf extracts the constant window width from a
// FLOOR(col, DURATION_SECS(n)) field, the only windowing shape the
// bundled grammar produces.
func floorDurationOf(f SelectField) (time.Duration, bool) {
	if f.Func != "FLOOR" || len(f.Args) != 2 {
		return 0, false
	}
	arg := f.Args[1]
	const prefix = "DURATION_SECS("
	if !strings.HasPrefix(arg, prefix) || !strings.HasSuffix(arg, ")") {
		return 0, false
	}
	n, err := strconv.Atoi(arg[len(prefix) : len(arg)-1])
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// buildCallExpr parses a flattened call-argument tree (as produced by
// parseSelectField/parseCallArg) into a plan.Expr.
func buildCallExpr(funcName string, args []string, fromStream string) (plan.Expr, error) {
	exprArgs := make([]plan.Expr, len(args))
	for i, a := range args {
		e, err := buildArgExpr(a, fromStream)
		if err != nil {
			return nil, err
		}
		exprArgs[i] = e
	}
	return plan.Call{Func: funcName, Args: exprArgs}, nil
}

func buildArgExpr(arg string, fromStream string) (plan.Expr, error) {
	if idx := strings.IndexByte(arg, '('); idx > 0 && strings.HasSuffix(arg, ")") {
		funcName := arg[:idx]
		inner := arg[idx+1 : len(arg)-1]
		var args []string
		if inner != "" {
			args = strings.Split(inner, ",")
		}
		return buildCallExpr(funcName, args, fromStream)
	}
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return plan.Literal{Value: n}, nil
	}
	return plan.BoundColumn{Pointer: plan.FieldPointer{Name: arg}, FromItems: []string{fromStream}}, nil
}

func (c *compiler) applyCreateSourceReader(s CreateSourceReader) error {
	stream, ok := c.streams[s.Stream]
	if !ok {
		return apperr.New(apperr.Sql, fmt.Sprintf("planner: source reader %q references unknown stream %q", s.Name, s.Stream))
	}

	kind := ioadapter.Kind(s.Type)
	binding := ReaderBinding{Name: s.Name, Stream: s.Stream, Kind: kind}

	switch kind {
	case ioadapter.KindNetServer, ioadapter.KindNetClient:
		cfg, err := netReaderConfigFrom(s.Opts, kind, stream.schema)
		if err != nil {
			return err
		}
		binding.NetConfig = cfg
	default:
		return apperr.New(apperr.InvalidConfig, fmt.Sprintf("planner: source reader %q has unsupported TYPE %q", s.Name, s.Type))
	}

	c.readers = append(c.readers, binding)
	return nil
}

func (c *compiler) applyCreateSinkWriter(s CreateSinkWriter) error {
	if _, ok := c.streams[s.Stream]; !ok {
		return apperr.New(apperr.Sql, fmt.Sprintf("planner: sink writer %q references unknown stream %q", s.Name, s.Stream))
	}

	kind := ioadapter.Kind(s.Type)
	binding := WriterBinding{Name: s.Name, Stream: s.Stream, Kind: kind}

	switch kind {
	case ioadapter.KindNetServer, ioadapter.KindNetClient:
		binding.NetConfig = netWriterConfigFrom(s.Opts, kind)
	case ioadapter.KindDB:
		cfg, err := dbWriterConfigFrom(s.Opts)
		if err != nil {
			return err
		}
		binding.DBConfig = cfg
	case ioadapter.KindS3:
		cfg, err := s3WriterConfigFrom(s.Opts)
		if err != nil {
			return err
		}
		binding.S3Config = cfg
	case ioadapter.KindInMemoryQueue:
		capacity, err := optInt(s.Opts, "CAPACITY", 100)
		if err != nil {
			return err
		}
		binding.MemConfig = &memqueue.Config{Capacity: capacity}
	default:
		return apperr.New(apperr.InvalidConfig, fmt.Sprintf("planner: sink writer %q has unsupported TYPE %q", s.Name, s.Type))
	}

	c.writers = append(c.writers, binding)
	return nil
}

func netReaderConfigFrom(opts Options, kind ioadapter.Kind, schema *row.Schema) (*netreader.Config, error) {
	host, _ := opts.Get("REMOTE_HOST")
	port, _ := opts.Get("REMOTE_PORT")
	connMsec, err := optInt(opts, "NET_CONNECT_TIMEOUT_MSEC", 1000)
	if err != nil {
		return nil, err
	}
	readMsec, err := optInt(opts, "NET_READ_TIMEOUT_MSEC", 100)
	if err != nil {
		return nil, err
	}
	authToken, _ := opts.Get("AUTH_TOKEN")

	mode := netreader.ModeServer
	if kind == ioadapter.KindNetClient {
		mode = netreader.ModeClient
	}
	return &netreader.Config{
		Mode:           mode,
		Addr:           host + ":" + port,
		ConnectTimeout: time.Duration(connMsec) * time.Millisecond,
		ReadTimeout:    time.Duration(readMsec) * time.Millisecond,
		AuthToken:      authToken,
		Schema:         schema,
	}, nil
}

func netWriterConfigFrom(opts Options, kind ioadapter.Kind) *netwriter.Config {
	host, _ := opts.Get("REMOTE_HOST")
	port, _ := opts.Get("REMOTE_PORT")
	connMsec, _ := optInt(opts, "NET_CONNECT_TIMEOUT_MSEC", 1000)
	writeMsec, _ := optInt(opts, "NET_WRITE_TIMEOUT_MSEC", 100)
	authToken, _ := opts.Get("AUTH_TOKEN")

	mode := netwriter.ModeServer
	if kind == ioadapter.KindNetClient {
		mode = netwriter.ModeClient
	}
	return &netwriter.Config{
		Mode:           mode,
		Addr:           host + ":" + port,
		ConnectTimeout: time.Duration(connMsec) * time.Millisecond,
		WriteTimeout:   time.Duration(writeMsec) * time.Millisecond,
		AuthToken:      authToken,
	}
}

func dbWriterConfigFrom(opts Options) (*sqlsink.Config, error) {
	driver, ok := opts.Get("DRIVER")
	if !ok {
		return nil, apperr.New(apperr.InvalidConfig, "planner: DB sink writer requires OPTIONS (DRIVER '...')")
	}
	dsn, ok := opts.Get("DSN")
	if !ok {
		return nil, apperr.New(apperr.InvalidConfig, "planner: DB sink writer requires OPTIONS (DSN '...')")
	}
	table, ok := opts.Get("TABLE")
	if !ok {
		return nil, apperr.New(apperr.InvalidConfig, "planner: DB sink writer requires OPTIONS (TABLE '...')")
	}
	batchSize, err := optInt(opts, "BATCH_SIZE", 100)
	if err != nil {
		return nil, err
	}
	flushMsec, err := optInt(opts, "FLUSH_INTERVAL_MSEC", 1000)
	if err != nil {
		return nil, err
	}
	compression, _ := opts.Get("COMPRESSION")

	return &sqlsink.Config{
		Driver:        sqlsink.Driver(driver),
		DSN:           dsn,
		Table:         table,
		BatchSize:     batchSize,
		FlushInterval: time.Duration(flushMsec) * time.Millisecond,
		Compression:   strings.EqualFold(compression, "zstd"),
	}, nil
}

func s3WriterConfigFrom(opts Options) (*s3sink.Config, error) {
	bucket, ok := opts.Get("BUCKET")
	if !ok {
		return nil, apperr.New(apperr.InvalidConfig, "planner: S3 sink writer requires OPTIONS (BUCKET '...')")
	}
	prefix, _ := opts.Get("PREFIX")
	region, ok := opts.Get("REGION")
	if !ok {
		return nil, apperr.New(apperr.InvalidConfig, "planner: S3 sink writer requires OPTIONS (REGION '...')")
	}
	accessKey, _ := opts.Get("ACCESS_KEY")
	secretKey, _ := opts.Get("SECRET_KEY")
	batchSize, err := optInt(opts, "BATCH_SIZE", 500)
	if err != nil {
		return nil, err
	}
	flushMsec, err := optInt(opts, "FLUSH_INTERVAL_MSEC", 10000)
	if err != nil {
		return nil, err
	}
	compression, _ := opts.Get("COMPRESSION")

	return &s3sink.Config{
		Bucket:        bucket,
		Prefix:        prefix,
		Region:        region,
		AccessKey:     accessKey,
		SecretKey:     secretKey,
		BatchSize:     batchSize,
		FlushInterval: time.Duration(flushMsec) * time.Millisecond,
		Compression:   strings.EqualFold(compression, "zstd"),
	}, nil
}
