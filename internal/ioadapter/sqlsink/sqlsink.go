// Package sqlsink implements the DB sink writer type: a SINK WRITER ...
// TYPE DB connection that batches rows into INSERT statements against
// MySQL, PostgreSQL, or SQLite, flushed on a fixed interval or when the
// batch fills. Optional zstd compression covers a BLOB payload column
// some pipelines use to ship an entire batch as one compressed value.
package sqlsink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/klauspost/compress/zstd"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/ioadapter"
	"github.com/springql-go/springql/internal/ioadapter/wire"
	"github.com/springql-go/springql/internal/row"
)

// Driver names a DDL OPTIONS(DRIVER '...') value.
type Driver string

const (
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
	DriverSQLite3  Driver = "sqlite3"
)

// Config is the DDL-level OPTIONS for a DB sink.
type Config struct {
	Driver        Driver
	DSN           string
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	Compression   bool // zstd-compress each flushed batch's JSON lines into one payload BLOB row
}

// Equal implements ioadapter.Config.
func (c Config) Equal(other ioadapter.Config) bool {
	o, ok := other.(Config)
	return ok && o.Driver == c.Driver && o.DSN == c.DSN && o.Table == c.Table
}

// Writer batches rows and flushes them as INSERT statements.
type Writer struct {
	name string
	cfg  Config
	db   *sql.DB
	enc  *zstd.Encoder

	mu      sync.Mutex
	pending []*row.Row
	lastFlush time.Time
}

// New opens the SQL connection named by cfg.DSN under cfg.Driver and
// returns a Writer ready to accept rows.
func New(name string, cfg Config) (*Writer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	db, err := sql.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidConfig, "sqlsink: failed to open connection", err)
	}
	var enc *zstd.Encoder
	if cfg.Compression {
		enc, err = zstd.NewWriter(nil)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidConfig, "sqlsink: failed to init zstd encoder", err)
		}
	}
	return &Writer{name: name, cfg: cfg, db: db, enc: enc, lastFlush: time.Now()}, nil
}

// Name implements ioadapter.Writer.
func (w *Writer) Name() string { return w.name }

// Write buffers r, flushing the batch once it reaches BatchSize or once
// FlushInterval has elapsed since the last flush. The batch retains its
// own reference to r until it is flushed (successfully or not), since
// the caller releases its reference as soon as Write returns.
func (w *Writer) Write(ctx context.Context, r *row.Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, r.Retain())
	if len(w.pending) < w.cfg.BatchSize && time.Since(w.lastFlush) < w.cfg.FlushInterval {
		return nil
	}
	return w.flushLocked(ctx)
}

func (w *Writer) flushLocked(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	batch := w.pending
	w.pending = nil
	w.lastFlush = time.Now()
	defer func() {
		for _, r := range batch {
			r.Release()
		}
	}()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.ForeignSinkIo, "sqlsink: begin transaction", err)
	}

	if w.enc != nil {
		if err := w.insertCompressed(ctx, tx, batch); err != nil {
			_ = tx.Rollback()
			return err
		}
	} else {
		for _, r := range batch {
			if err := w.insertRow(ctx, tx, r); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.ForeignSinkIo, "sqlsink: commit transaction", err)
	}
	return nil
}

func (w *Writer) insertRow(ctx context.Context, tx *sql.Tx, r *row.Row) error {
	cols := r.Schema().Columns
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = c.Name
		placeholders[i] = w.placeholder(i + 1)
		v := r.Value(i)
		if ts, ok := v.(row.Timestamp); ok {
			args[i] = ts.String()
		} else {
			args[i] = v
		}
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", w.cfg.Table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apperr.Wrap(apperr.ForeignSinkIo, "sqlsink: insert failed", err)
	}
	return nil
}

// insertCompressed stores an entire batch as one zstd-compressed JSON
// blob row, for tables declared with a single "payload BLOB" column.
func (w *Writer) insertCompressed(ctx context.Context, tx *sql.Tx, batch []*row.Row) error {
	lines := make([][]byte, 0, len(batch))
	for _, r := range batch {
		line, err := wire.Encode(r)
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}
	joined := strings.Join(bytesToStrings(lines), "\n")
	compressed := w.enc.EncodeAll([]byte(joined), nil)

	query := fmt.Sprintf("INSERT INTO %s (payload) VALUES (%s)", w.cfg.Table, w.placeholder(1))
	if _, err := tx.ExecContext(ctx, query, compressed); err != nil {
		return apperr.Wrap(apperr.ForeignSinkIo, "sqlsink: compressed insert failed", err)
	}
	return nil
}

func bytesToStrings(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}

// placeholder returns the driver-appropriate bind placeholder: $N for
// postgres, ? for mysql/sqlite3.
func (w *Writer) placeholder(n int) string {
	if w.cfg.Driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Close flushes any pending batch and closes the underlying connection.
func (w *Writer) Close() error {
	w.mu.Lock()
	_ = w.flushLocked(context.Background())
	w.mu.Unlock()
	if w.enc != nil {
		w.enc.Close()
	}
	return w.db.Close()
}
