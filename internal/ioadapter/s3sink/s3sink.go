// Package s3sink implements the S3 sink writer type: a SINK WRITER ...
// TYPE S3 connection that batches rows as newline-delimited JSON and
// uploads one object per flush interval (or once the batch fills),
// optionally zstd-compressed.
package s3sink

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/ioadapter"
	"github.com/springql-go/springql/internal/ioadapter/wire"
	"github.com/springql-go/springql/internal/row"
)

// Config is the DDL-level OPTIONS for an S3 sink.
type Config struct {
	Bucket        string
	Prefix        string
	Region        string
	AccessKey     string // optional static credentials; empty uses the default chain
	SecretKey     string
	BatchSize     int
	FlushInterval time.Duration
	Compression   bool
}

// Equal implements ioadapter.Config.
func (c Config) Equal(other ioadapter.Config) bool {
	o, ok := other.(Config)
	return ok && o.Bucket == c.Bucket && o.Prefix == c.Prefix && o.Region == c.Region
}

// Writer batches rows and uploads each batch as one S3 object.
type Writer struct {
	name   string
	cfg    Config
	client *s3.Client
	enc    *zstd.Encoder

	mu        sync.Mutex
	pending   []*row.Row
	lastFlush time.Time
	seq       int
}

// New loads AWS configuration (static credentials if provided,
// otherwise the default provider chain) and returns a Writer ready to
// accept rows.
func New(ctx context.Context, name string, cfg Config) (*Writer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidConfig, "s3sink: failed to load AWS config", err)
	}

	var enc *zstd.Encoder
	if cfg.Compression {
		enc, err = zstd.NewWriter(nil)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidConfig, "s3sink: failed to init zstd encoder", err)
		}
	}

	return &Writer{
		name:      name,
		cfg:       cfg,
		client:    s3.NewFromConfig(awsCfg),
		enc:       enc,
		lastFlush: time.Now(),
	}, nil
}

// Name implements ioadapter.Writer.
func (w *Writer) Name() string { return w.name }

// Write buffers r, flushing once the batch reaches BatchSize or once
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
	w.seq++
	defer func() {
		for _, r := range batch {
			r.Release()
		}
	}()

	lines := make([]string, 0, len(batch))
	for _, r := range batch {
		line, err := wire.Encode(r)
		if err != nil {
			return err
		}
		lines = append(lines, string(line))
	}
	body := []byte(strings.Join(lines, "\n"))
	if w.enc != nil {
		body = w.enc.EncodeAll(body, nil)
	}

	ext := "ndjson"
	if w.enc != nil {
		ext = "ndjson.zst"
	}
	key := fmt.Sprintf("%s/%d-%06d.%s", strings.TrimSuffix(w.cfg.Prefix, "/"), time.Now().Unix(), w.seq, ext)

	uploadCtx, cancel := ioadapter.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := w.client.PutObject(uploadCtx, &s3.PutObjectInput{
		Bucket: aws.String(w.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return apperr.Wrap(apperr.ForeignSinkIo, "s3sink: upload failed", err)
	}
	return nil
}

// Close flushes any pending batch.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.flushLocked(context.Background())
	if w.enc != nil {
		w.enc.Close()
	}
	return err
}
