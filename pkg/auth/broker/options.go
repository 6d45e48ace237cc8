package broker

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/StricklySoft/dialogue-auth/pkg/auth/federated"
	"github.com/StricklySoft/dialogue-auth/pkg/auth/serviceuser"
)

// Option customizes [New].
type Option func(*options)

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	objects    serviceuser.ObjectReader
	kv         federated.KVStore
	now        func() time.Time
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient sets the client used to fetch identity provider keys.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithObjectReader supplies the object store for s3:// credential
// locations instead of dialing the configured MinIO.
func WithObjectReader(r serviceuser.ObjectReader) Option {
	return func(o *options) { o.objects = r }
}

// WithKVStore supplies the key set snapshot store instead of dialing the
// configured Redis.
func WithKVStore(kv federated.KVStore) Option {
	return func(o *options) { o.kv = kv }
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
