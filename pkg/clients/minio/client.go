// Package minio is a small S3-compatible object storage client used to read
// the service-user credential document from a bucket. Every call is traced
// with OpenTelemetry and failures are returned as *sserr.Error values.
//
//	client, err := minio.NewClient(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	data, err := client.ReadObject(ctx, "dialogue-config", "service-users.xml")
//
// Tests inject an [ObjectStore] through [NewFromStore].
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

const tracerName = "github.com/StricklySoft/dialogue-auth/pkg/clients/minio"

// ObjectStore is the subset of object storage the client needs. The
// production implementation adapts *minio.Client; GetObject returns a plain
// io.ReadCloser so tests can fake it.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// sdkStore adapts *minio.Client to ObjectStore.
type sdkStore struct {
	c *minio.Client
}

func (s sdkStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return s.c.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

func (s sdkStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return s.c.BucketExists(ctx, bucket)
}

// Client wraps an [ObjectStore] with tracing and error classification. It
// is safe for concurrent use.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient validates cfg, creates the SDK client and probes connectivity
// with BucketExists.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: MinIO unreachable
//   - [sserr.CodeInternalDatabase]: client construction failed
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: invalid configuration")
	}

	sdk, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "minio: failed to create client")
	}

	c := NewFromStore(sdkStore{c: sdk}, &cfg)
	if err := c.Health(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromStore builds a Client around store without probing it. A nil cfg
// becomes defaults.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxObjectSize <= 0 {
		cfg.MaxObjectSize = DefaultMaxObjectSize
	}
	return &Client{
		store:  store,
		config: cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// ReadObject returns the whole object. Objects larger than the configured
// MaxObjectSize are rejected.
//
// Error codes returned:
//   - [sserr.CodeNotFound]: bucket or key does not exist
//   - [sserr.CodeTimeoutDatabase]: context deadline exceeded
//   - [sserr.CodeInternalDatabase]: any other storage failure
func (c *Client) ReadObject(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "ReadObject", bucket, fmt.Sprintf("GET %s/%s", bucket, key))

	data, err := c.readObject(ctx, bucket, key)
	finishSpan(span, err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("minio.object.size", len(data)))
	return data, nil
}

func (c *Client) readObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, wrapError(err, "minio: get object failed")
	}
	defer obj.Close()

	limit := c.config.MaxObjectSize
	data, err := io.ReadAll(io.LimitReader(obj, limit+1))
	if err != nil {
		return nil, wrapError(err, "minio: read object failed")
	}
	if int64(len(data)) > limit {
		return nil, sserr.Newf(sserr.CodeInternalDatabase,
			"minio: object %s/%s exceeds %d bytes", bucket, key, limit)
	}
	return data, nil
}

// Health probes the server with BucketExists. A deadline of
// [DefaultHealthTimeout] is applied when ctx has none.
func (c *Client) Health(ctx context.Context) error {
	bucket := c.config.HealthBucket
	if bucket == "" {
		bucket = healthProbeBucket
	}
	ctx, span := c.startSpan(ctx, "Health", bucket, "HEAD "+bucket)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	_, err := c.store.BucketExists(ctx, bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

// Close is a no-op; the SDK client holds no pooled connections of its own.
func (c *Client) Close() {}

func (c *Client) startSpan(ctx context.Context, op, bucket, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucket),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies a storage failure. Missing buckets and keys become
// CodeNotFound so callers can tell configuration mistakes from outages.
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return sserr.Wrap(err, sserr.CodeNotFound, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
