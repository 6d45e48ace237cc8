package federated

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

const tracerName = "github.com/StricklySoft/dialogue-auth/pkg/auth/federated"

// Key cache defaults.
const (
	DefaultKeyTTL          = 10 * time.Minute
	DefaultFetchTimeout    = 5 * time.Second
	DefaultMaxAttempts     = 3
	DefaultInitialBackoff  = 200 * time.Millisecond
	DefaultMaxBackoff      = 2 * time.Second
	DefaultErrorBackoff    = 5 * time.Second
	DefaultMaxErrorBackoff = 5 * time.Minute

	// MaxDocumentSize caps the key set response body.
	MaxDocumentSize = 1 << 20
)

const flightKey = "keyset"

// KeyCacheConfig configures a [KeyCache]. Zero durations and attempts take
// the package defaults.
type KeyCacheConfig struct {
	// BaseURL is the identity provider root, e.g. https://sso.example.com.
	BaseURL string

	// Realm selects the provider realm whose keys are fetched.
	Realm string

	// TTL is how long a fetched snapshot is served before a lookup
	// refreshes it.
	TTL time.Duration

	// FetchTimeout bounds each HTTP attempt.
	FetchTimeout time.Duration

	// MaxAttempts is the number of HTTP attempts per refresh.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RefreshCooldown is the minimum time between fetch attempts
	// triggered by lookups. Zero disables it.
	RefreshCooldown time.Duration

	// ErrorBackoff is how long a degraded cache serves the snapshot it
	// holds before a lookup tries the provider again. It doubles with each
	// consecutive failed refresh up to MaxErrorBackoff.
	ErrorBackoff    time.Duration
	MaxErrorBackoff time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Store, when set, receives every fetched document and is read when
	// the provider is unreachable and no snapshot is held.
	Store SnapshotStore

	Now func() time.Time
}

func (c *KeyCacheConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultKeyTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.MaxErrorBackoff <= 0 {
		c.MaxErrorBackoff = DefaultMaxErrorBackoff
	}
	if c.MaxErrorBackoff < c.ErrorBackoff {
		c.MaxErrorBackoff = c.ErrorBackoff
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// KeyCache holds the identity provider's current signing keys. Reads are
// lock-free; at most one fetch is in flight per cache and concurrent
// lookups that miss share its result. It is safe for concurrent use.
type KeyCache struct {
	cfg      KeyCacheConfig
	certsURL string
	logger   *slog.Logger
	tracer   trace.Tracer

	state       stateMachine
	snapshot    atomic.Pointer[KeySetSnapshot]
	lastAttempt atomic.Int64
	failures    atomic.Int32
	retryAt     atomic.Int64
	group       singleflight.Group
}

// NewKeyCache validates cfg and returns an uninitialized cache. No network
// call is made until the first lookup or [KeyCache.Refresh].
func NewKeyCache(cfg KeyCacheConfig) (*KeyCache, error) {
	certsURL, err := CertsURL(cfg.BaseURL, cfg.Realm)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &KeyCache{
		cfg:      cfg,
		certsURL: certsURL,
		logger:   cfg.Logger.With("component", "federated.keycache", "realm", cfg.Realm),
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// CertsURL returns the endpoint the cache fetches from.
func (c *KeyCache) CertsURL() string { return c.certsURL }

// State returns the current lifecycle state.
func (c *KeyCache) State() State { return c.state.load() }

// Snapshot returns the snapshot currently served, or nil before the first
// successful fetch.
func (c *KeyCache) Snapshot() *KeySetSnapshot { return c.snapshot.Load() }

// GetKey resolves kid. A fresh snapshot holding kid answers without I/O.
// Otherwise the cache refreshes (once, shared with concurrent callers) and
// looks again. After a failed refresh the held snapshot is served without
// I/O until the error backoff window passes; the first lookup after it
// retries the provider even if the snapshot is within its TTL.
//
// Error codes returned:
//   - [sserr.CodeAuthenticationUnknownKey]: kid absent after a successful refresh
//   - [sserr.CodeUnavailableProvider]: no usable snapshot, the refresh failed
//     and the stale snapshot lacks kid, or ctx ended while waiting
func (c *KeyCache) GetKey(ctx context.Context, kid string) (SigningKey, error) {
	snap := c.snapshot.Load()
	if snap != nil {
		key, ok := snap.Key(kid)
		if ok && !c.stale(snap) && c.state.load() != StateError {
			return key, nil
		}
		if c.coolingDown() || c.backingOff() {
			if ok {
				return key, nil
			}
			return SigningKey{}, c.missError(kid)
		}
	}

	snap, err := c.refresh(ctx, snap)
	if snap == nil {
		return SigningKey{}, err
	}
	if key, ok := snap.Key(kid); ok {
		return key, nil
	}
	if err != nil {
		return SigningKey{}, err
	}
	return SigningKey{}, unknownKey(kid)
}

// Refresh fetches the key set now, ignoring TTL and cooldown. On failure a
// previously held snapshot keeps being served and the error is returned.
func (c *KeyCache) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx, c.snapshot.Load())
	return err
}

// refresh joins or starts the shared fetch. seen is the snapshot the
// caller looked at; if another flight replaced it in the meantime the
// current snapshot is returned without fetching again.
func (c *KeyCache) refresh(ctx context.Context, seen *KeySetSnapshot) (*KeySetSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return seen, abandoned(err)
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		if cur := c.snapshot.Load(); cur != seen {
			if c.state.load() == StateError {
				return cur, providerUnreachable(errors.New("key set provider is degraded"))
			}
			return cur, nil
		}
		return c.fetchAndSwap(detached)
	})

	select {
	case <-ctx.Done():
		return seen, abandoned(ctx.Err())
	case res := <-ch:
		snap, _ := res.Val.(*KeySetSnapshot)
		return snap, res.Err
	}
}

// fetchAndSwap runs inside the flight. It always returns the snapshot that
// should be served, which may be stale alongside a non-nil error.
func (c *KeyCache) fetchAndSwap(ctx context.Context) (*KeySetSnapshot, error) {
	prev := c.snapshot.Load()
	next := StateFetching
	if prev != nil {
		next = StateRefreshing
	}
	c.moveTo(next)
	c.lastAttempt.Store(c.cfg.Now().UnixNano())

	ctx, span := c.tracer.Start(ctx, "federated.FetchKeySet", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.url", c.certsURL),
		attribute.String("auth.realm", c.cfg.Realm),
	)
	defer span.End()

	snap, attempts, err := c.fetch(ctx)
	span.SetAttributes(attribute.Int("federated.attempts", attempts))
	if err == nil {
		c.snapshot.Store(snap)
		c.failures.Store(0)
		c.retryAt.Store(0)
		c.moveTo(StateReady)
		span.SetAttributes(attribute.Int("federated.keys", snap.Len()))
		span.SetStatus(codes.Ok, "")
		c.logger.Info("federated: key set refreshed", "keys", snap.Len(), "attempts", attempts)
		c.persist(ctx, snap)
		return snap, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	wait := c.holdOff()
	c.moveTo(StateError)
	failure := providerUnreachable(err)

	if prev != nil {
		c.logger.Warn("federated: key set refresh failed, serving stale snapshot",
			"error", err, "attempts", attempts, "fetched_at", prev.FetchedAt(), "retry_in", wait)
		return prev, failure
	}
	if stored := c.restore(ctx); stored != nil {
		c.snapshot.Store(stored)
		c.logger.Warn("federated: provider unreachable, serving stored key set",
			"error", err, "fetched_at", stored.FetchedAt(), "keys", stored.Len(), "retry_in", wait)
		return stored, failure
	}
	c.logger.Error("federated: provider unreachable and no key set available",
		"error", err, "attempts", attempts)
	return nil, failure
}

// fetch downloads and parses the key set, retrying transient failures.
func (c *KeyCache) fetch(ctx context.Context) (*KeySetSnapshot, int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)

	attempts := 0
	snap, err := backoff.RetryNotifyWithData(func() (*KeySetSnapshot, error) {
		attempts++
		return c.fetchOnce(ctx)
	}, policy, func(err error, wait time.Duration) {
		c.logger.Warn("federated: key set fetch failed, retrying",
			"error", err, "attempt", attempts, "retry_in", wait)
	})
	return snap, attempts, err
}

func (c *KeyCache) fetchOnce(ctx context.Context) (*KeySetSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.certsURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxDocumentSize))
		statusErr := fmt.Errorf("key set endpoint returned %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxDocumentSize {
		return nil, backoff.Permanent(fmt.Errorf("key set exceeds %d bytes", MaxDocumentSize))
	}

	snap, err := ParseKeySet(body, c.cfg.Now(), c.logger)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return snap, nil
}

func (c *KeyCache) persist(ctx context.Context, snap *KeySetSnapshot) {
	if c.cfg.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()
	if err := c.cfg.Store.Save(ctx, snap.document, snap.FetchedAt()); err != nil {
		c.logger.Warn("federated: failed to store key set", "error", err)
	}
}

func (c *KeyCache) restore(ctx context.Context) *KeySetSnapshot {
	if c.cfg.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	doc, fetchedAt, err := c.cfg.Store.Load(ctx)
	if err != nil {
		c.logger.Warn("federated: failed to load stored key set", "error", err)
		return nil
	}
	if doc == nil {
		return nil
	}
	snap, err := ParseKeySet(doc, fetchedAt, c.logger)
	if err != nil {
		c.logger.Warn("federated: stored key set is unusable", "error", err)
		return nil
	}
	return snap
}

func (c *KeyCache) moveTo(to State) {
	if from, err := c.state.transition(to); err != nil {
		c.logger.Error("federated: rejected state transition", "from", from, "to", to)
	}
}

func (c *KeyCache) stale(snap *KeySetSnapshot) bool {
	return c.cfg.Now().Sub(snap.FetchedAt()) >= c.cfg.TTL
}

// holdOff records a failed refresh and returns the window during which
// lookups keep serving the held snapshot.
func (c *KeyCache) holdOff() time.Duration {
	n := c.failures.Add(1)
	wait := c.cfg.ErrorBackoff
	for i := int32(1); i < n && wait < c.cfg.MaxErrorBackoff; i++ {
		wait *= 2
	}
	wait = min(wait, c.cfg.MaxErrorBackoff)
	c.retryAt.Store(c.cfg.Now().Add(wait).UnixNano())
	return wait
}

func (c *KeyCache) backingOff() bool {
	if c.state.load() != StateError {
		return false
	}
	at := c.retryAt.Load()
	return at != 0 && c.cfg.Now().UnixNano() < at
}

func (c *KeyCache) coolingDown() bool {
	if c.cfg.RefreshCooldown <= 0 {
		return false
	}
	last := c.lastAttempt.Load()
	if last == 0 {
		return false
	}
	return c.cfg.Now().Sub(time.Unix(0, last)) < c.cfg.RefreshCooldown
}

// missError reports a kid absent from a snapshot that cannot be refreshed
// right now. A degraded cache cannot tell a rotated key from an unknown
// one, so it reports the provider as unavailable.
func (c *KeyCache) missError(kid string) error {
	if c.state.load() == StateError {
		return providerUnreachable(fmt.Errorf("kid %q not in stale key set", kid))
	}
	return unknownKey(kid)
}

func unknownKey(kid string) error {
	return sserr.Newf(sserr.CodeAuthenticationUnknownKey, "federated: no signing key with kid %q", kid)
}

func providerUnreachable(err error) error {
	return sserr.Wrap(err, sserr.CodeUnavailableProvider, "federated: identity provider unreachable")
}

func abandoned(err error) error {
	return sserr.Wrap(err, sserr.CodeUnavailableProvider, "federated: gave up waiting for key set")
}
