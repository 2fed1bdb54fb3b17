// Package netreader implements the NET_SERVER and NET_CLIENT source
// adapters: a reader that accepts (or dials) a newline-delimited JSON
// TCP connection and turns each line into a ForeignRow. Reconnect
// attempts are paced by a token bucket, and an optional bearer token is
// checked once when the reader is registered.
package netreader

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/xeipuuv/gojsonschema"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/ioadapter"
	"github.com/springql-go/springql/internal/ioadapter/wire"
	"github.com/springql-go/springql/internal/row"
)

// Mode selects whether the reader listens for an inbound connection
// (NET_SERVER) or dials out to one (NET_CLIENT).
type Mode int

const (
	ModeServer Mode = iota
	ModeClient
)

// Config is the DDL-level OPTIONS for a NET_SERVER/NET_CLIENT source.
type Config struct {
	Mode           Mode
	Addr           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	AuthToken      string // optional bearer token, verified once at register()
	JWTSecret      []byte // required if AuthToken is a JWT rather than an opaque string
	Schema         *row.Schema
}

// Equal implements ioadapter.Config.
func (c Config) Equal(other ioadapter.Config) bool {
	o, ok := other.(Config)
	return ok && o.Mode == c.Mode && o.Addr == c.Addr && o.AuthToken == c.AuthToken
}

// Reader implements ioadapter.Reader over a reconnecting TCP connection.
type Reader struct {
	name string
	cfg  Config

	limiter *rate.Limiter // paces reconnect attempts
	schema  *gojsonschema.Schema

	mu       sync.Mutex
	conn     net.Conn
	listener net.Listener
	scanner  *bufio.Scanner
}

// New validates cfg (including the auth token, if any) and returns a
// Reader not yet connected; the first NextRow call establishes the
// connection.
func New(name string, cfg Config) (*Reader, error) {
	if cfg.AuthToken != "" && cfg.JWTSecret != nil {
		if _, err := jwt.Parse(cfg.AuthToken, func(*jwt.Token) (any, error) {
			return cfg.JWTSecret, nil
		}); err != nil {
			return nil, apperr.Wrap(apperr.InvalidConfig, "netreader: auth token failed verification", err)
		}
	}
	var schema *gojsonschema.Schema
	if cfg.Schema != nil {
		schema = wire.SchemaFor(cfg.Schema)
	}
	return &Reader{
		name:    name,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		schema:  schema,
	}, nil
}

// Name implements ioadapter.Reader.
func (r *Reader) Name() string { return r.name }

// NextRow blocks until a JSON line arrives, reconnecting (paced by the
// token bucket) if the connection has dropped or was never opened.
func (r *Reader) NextRow(ctx context.Context) (ioadapter.ForeignRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scanner == nil {
		if err := r.connect(ctx); err != nil {
			return ioadapter.ForeignRow{}, err
		}
	}

	deadline := time.Now().Add(r.cfg.ReadTimeout)
	if r.cfg.ReadTimeout > 0 {
		_ = r.conn.SetReadDeadline(deadline)
	}

	if !r.scanner.Scan() {
		err := r.scanner.Err()
		r.closeLocked()
		if err == nil {
			return ioadapter.ForeignRow{}, apperr.New(apperr.ForeignSourceTimeout, "netreader: connection closed by peer")
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return ioadapter.ForeignRow{}, apperr.New(apperr.ForeignSourceTimeout, "netreader: read timed out")
		}
		return ioadapter.ForeignRow{}, apperr.Wrap(apperr.ForeignSourceTimeout, "netreader: read failed", err)
	}

	if r.schema == nil {
		return ioadapter.ForeignRow{}, apperr.New(apperr.InvalidConfig, "netreader: no schema configured for validation")
	}
	fr, err := wire.Decode(r.schema, r.scanner.Bytes())
	if err != nil {
		return ioadapter.ForeignRow{}, err
	}
	return fr, nil
}

func (r *Reader) connect(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return apperr.Wrap(apperr.ForeignSourceTimeout, "netreader: reconnect paced out", err)
	}

	dialCtx, cancel := ioadapter.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	switch r.cfg.Mode {
	case ModeServer:
		if r.listener == nil {
			ln, err := new(net.ListenConfig).Listen(dialCtx, "tcp", r.cfg.Addr)
			if err != nil {
				return apperr.Wrap(apperr.ForeignSourceTimeout, "netreader: listen failed", err)
			}
			r.listener = ln
		}
		conn, err := acceptWithDeadline(r.listener, dialCtx)
		if err != nil {
			return apperr.Wrap(apperr.ForeignSourceTimeout, "netreader: accept failed", err)
		}
		r.conn = conn
	case ModeClient:
		conn, err := new(net.Dialer).DialContext(dialCtx, "tcp", r.cfg.Addr)
		if err != nil {
			return apperr.Wrap(apperr.ForeignSourceTimeout, "netreader: dial failed", err)
		}
		r.conn = conn
	default:
		return apperr.New(apperr.InvalidConfig, fmt.Sprintf("netreader: unknown mode %v", r.cfg.Mode))
	}

	r.scanner = bufio.NewScanner(r.conn)
	return nil
}

// acceptWithDeadline bounds a pending Accept to dialCtx's deadline, so a
// NET_SERVER reader with no inbound connection never blocks past
// ConnectTimeout (spec.md §5: I/O waits must be bounded). net.Listener
// itself takes no context; "tcp" listeners are always *net.TCPListener,
// which does support a deadline.
func acceptWithDeadline(ln net.Listener, dialCtx context.Context) (net.Conn, error) {
	if tl, ok := ln.(*net.TCPListener); ok {
		if deadline, ok := dialCtx.Deadline(); ok {
			if err := tl.SetDeadline(deadline); err != nil {
				return nil, err
			}
		}
	}
	return ln.Accept()
}

func (r *Reader) closeLocked() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.scanner = nil
}

// Close releases the listener and any live connection.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
	if r.listener != nil {
		err := r.listener.Close()
		r.listener = nil
		return err
	}
	return nil
}
