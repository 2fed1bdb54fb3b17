// Package netwriter implements the NET_SERVER and NET_CLIENT sink
// adapters: a writer that accepts (or dials) a TCP connection and
// writes each row as one newline-delimited JSON line. Reconnects are
// paced by a token bucket, mirroring netreader.
package netwriter

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/ioadapter"
	"github.com/springql-go/springql/internal/ioadapter/wire"
	"github.com/springql-go/springql/internal/row"
)

// Mode selects whether the writer listens for an inbound connection
// (NET_SERVER) or dials out to one (NET_CLIENT).
type Mode int

const (
	ModeServer Mode = iota
	ModeClient
)

// Config is the DDL-level OPTIONS for a NET_SERVER/NET_CLIENT sink.
type Config struct {
	Mode           Mode
	Addr           string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	AuthToken      string
	JWTSecret      []byte
}

// Equal implements ioadapter.Config.
func (c Config) Equal(other ioadapter.Config) bool {
	o, ok := other.(Config)
	return ok && o.Mode == c.Mode && o.Addr == c.Addr && o.AuthToken == c.AuthToken
}

// Writer implements ioadapter.Writer over a reconnecting TCP connection.
type Writer struct {
	name string
	cfg  Config

	limiter *rate.Limiter

	mu       sync.Mutex
	conn     net.Conn
	listener net.Listener
}

// New validates cfg (including the auth token, if any) and returns a
// Writer not yet connected; the first Write call establishes the
// connection.
func New(name string, cfg Config) (*Writer, error) {
	if cfg.AuthToken != "" && cfg.JWTSecret != nil {
		if _, err := jwt.Parse(cfg.AuthToken, func(*jwt.Token) (any, error) {
			return cfg.JWTSecret, nil
		}); err != nil {
			return nil, apperr.Wrap(apperr.InvalidConfig, "netwriter: auth token failed verification", err)
		}
	}
	return &Writer{
		name:    name,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}, nil
}

// Name implements ioadapter.Writer.
func (w *Writer) Name() string { return w.name }

// Write encodes r as one JSON line and writes it to the connection,
// reconnecting (paced by the token bucket) if needed.
func (w *Writer) Write(ctx context.Context, r *row.Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		if err := w.connect(ctx); err != nil {
			return err
		}
	}

	payload, err := wire.Encode(r)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	if w.cfg.WriteTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	}
	if _, err := w.conn.Write(payload); err != nil {
		_ = w.conn.Close()
		w.conn = nil
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return apperr.New(apperr.ForeignSinkIo, "netwriter: write timed out")
		}
		return apperr.Wrap(apperr.ForeignSinkIo, "netwriter: write failed", err)
	}
	return nil
}

func (w *Writer) connect(ctx context.Context) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return apperr.Wrap(apperr.ForeignSinkIo, "netwriter: reconnect paced out", err)
	}

	dialCtx, cancel := ioadapter.WithTimeout(ctx, w.cfg.ConnectTimeout)
	defer cancel()

	switch w.cfg.Mode {
	case ModeServer:
		if w.listener == nil {
			ln, err := new(net.ListenConfig).Listen(dialCtx, "tcp", w.cfg.Addr)
			if err != nil {
				return apperr.Wrap(apperr.ForeignSinkIo, "netwriter: listen failed", err)
			}
			w.listener = ln
		}
		conn, err := acceptWithDeadline(w.listener, dialCtx)
		if err != nil {
			return apperr.Wrap(apperr.ForeignSinkIo, "netwriter: accept failed", err)
		}
		w.conn = conn
	case ModeClient:
		conn, err := new(net.Dialer).DialContext(dialCtx, "tcp", w.cfg.Addr)
		if err != nil {
			return apperr.Wrap(apperr.ForeignSinkIo, "netwriter: dial failed", err)
		}
		w.conn = conn
	}
	return nil
}

// acceptWithDeadline bounds a pending Accept to dialCtx's deadline, so a
// NET_SERVER sink with no inbound connection never blocks past
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

// Close releases the listener and any live connection.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	if w.listener != nil {
		err := w.listener.Close()
		w.listener = nil
		return err
	}
	return nil
}
