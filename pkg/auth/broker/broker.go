// Package broker is the single entry point request layers use to
// authenticate callers. A deployment runs in exactly one [Mode]: local
// (service users log in and present HMAC tokens) or federated (callers
// present identity provider tokens). Either way callers get an
// [auth.Identity] or an *sserr.Error whose message is safe to return to
// clients; the original failure stays reachable through Unwrap.
package broker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/StricklySoft/dialogue-auth/pkg/auth"
	"github.com/StricklySoft/dialogue-auth/pkg/auth/federated"
	"github.com/StricklySoft/dialogue-auth/pkg/auth/localtoken"
	"github.com/StricklySoft/dialogue-auth/pkg/auth/serviceuser"
	"github.com/StricklySoft/dialogue-auth/pkg/clients/minio"
	"github.com/StricklySoft/dialogue-auth/pkg/clients/redis"
	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

const tracerName = "github.com/StricklySoft/dialogue-auth/pkg/auth/broker"

// Broker routes logins and token validation to the components of the
// configured mode. It is safe for concurrent use.
type Broker struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	// local mode
	users  *serviceuser.Store
	issuer *localtoken.Issuer

	// federated mode
	keys *federated.KeyCache

	validator auth.TokenValidator
	closers   []func() error
	checks    []dependencyCheck
}

// healthChecker is implemented by the storage clients the broker depends on.
type healthChecker interface {
	Health(ctx context.Context) error
}

type dependencyCheck struct {
	name  string
	check func(context.Context) error
}

var _ auth.TokenValidator = (*Broker)(nil)

// New validates cfg and builds the components of its mode. Object storage
// and Redis clients are dialed only when configured and not injected.
// Nothing is loaded or fetched until [Broker.Start] or first use.
func New(ctx context.Context, cfg Config, opts ...Option) (*Broker, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Broker{
		cfg:    cfg,
		logger: o.logger.With("component", "broker", "mode", string(cfg.Mode)),
		tracer: otel.Tracer(tracerName),
	}

	var err error
	switch cfg.Mode {
	case ModeLocal:
		err = b.buildLocal(ctx, &o)
	case ModeFederated:
		err = b.buildFederated(ctx, &o)
	}
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) buildLocal(ctx context.Context, o *options) error {
	objects := o.objects
	if objects == nil && strings.HasPrefix(b.cfg.Local.ServiceUsers, serviceuser.ObjectScheme) && b.cfg.MinIO.Enabled() {
		client, err := minio.NewClient(ctx, b.cfg.MinIO)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() error { client.Close(); return nil })
		objects = client
	}
	if hc, ok := objects.(healthChecker); ok && strings.HasPrefix(b.cfg.Local.ServiceUsers, serviceuser.ObjectScheme) {
		b.checks = append(b.checks, dependencyCheck{name: "object storage", check: hc.Health})
	}

	source, err := serviceuser.ParseSource(b.cfg.Local.ServiceUsers, objects)
	if err != nil {
		return err
	}
	b.users = serviceuser.NewStore(source, serviceuser.WithLogger(o.logger))

	tokenCfg := b.cfg.localTokenConfig()
	tokenCfg.Now = o.now
	if b.issuer, err = localtoken.NewIssuer(tokenCfg); err != nil {
		return err
	}
	validator, err := localtoken.NewValidator(tokenCfg)
	if err != nil {
		return err
	}
	b.validator = validator
	return nil
}

func (b *Broker) buildFederated(ctx context.Context, o *options) error {
	fc := b.cfg.Federated

	kv := o.kv
	if kv == nil && b.cfg.Redis.Enabled() {
		client, err := redis.NewClient(ctx, b.cfg.Redis)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, client.Close)
		kv = client
	}
	if hc, ok := kv.(healthChecker); ok {
		b.checks = append(b.checks, dependencyCheck{name: "key set store", check: hc.Health})
	}
	var store federated.SnapshotStore
	if kv != nil {
		store = &federated.KVSnapshotStore{KV: kv, Key: fc.SnapshotKey, TTL: fc.SnapshotTTL}
	}

	keys, err := federated.NewKeyCache(federated.KeyCacheConfig{
		BaseURL:         fc.BaseURL,
		Realm:           fc.Realm,
		TTL:             fc.KeyTTL,
		FetchTimeout:    fc.FetchTimeout,
		MaxAttempts:     fc.MaxAttempts,
		InitialBackoff:  fc.InitialBackoff,
		MaxBackoff:      fc.MaxBackoff,
		RefreshCooldown: fc.RefreshCooldown,
		ErrorBackoff:    fc.ErrorBackoff,
		MaxErrorBackoff: fc.MaxErrorBackoff,
		HTTPClient:      o.httpClient,
		Logger:          o.logger,
		Store:           store,
		Now:             o.now,
	})
	if err != nil {
		return err
	}
	b.keys = keys
	b.validator = federated.NewValidator(keys, federated.ValidatorConfig{
		Issuer:     b.cfg.issuer(),
		Audience:   fc.Audience,
		RolesClaim: fc.RolesClaim,
		ClientID:   fc.ClientID,
		Now:        o.now,
	})
	return nil
}

// Mode returns the configured mode.
func (b *Broker) Mode() Mode { return b.cfg.Mode }

// Start warms the mode's dependencies: the credential document in local
// mode, the key set in federated mode. A federated warm-up failure is
// tolerated when a stored key set could be served instead.
func (b *Broker) Start(ctx context.Context) error {
	switch b.cfg.Mode {
	case ModeLocal:
		if err := b.users.Reload(ctx); err != nil {
			return err
		}
		b.logger.InfoContext(ctx, "broker: service users loaded", "users", b.users.Len())
	case ModeFederated:
		if err := b.keys.Refresh(ctx); err != nil {
			if b.keys.Snapshot() == nil {
				return err
			}
			b.logger.WarnContext(ctx, "broker: identity provider unreachable at startup, serving stored keys",
				"error", err, "state", b.keys.State().String())
			return nil
		}
		b.logger.InfoContext(ctx, "broker: signing keys loaded", "keys", b.keys.Snapshot().Len())
	}
	return nil
}

// Login exchanges service user credentials for a local token.
//
// Error codes returned:
//   - [sserr.CodeAuthentication]: the broker runs in federated mode
//   - [sserr.CodeAuthenticationCredentials]: wrong or empty password
//   - [sserr.CodeNotFoundUser]: unknown username
//   - [sserr.CodeInternalCredentialStore]: the credential document is corrupt
func (b *Broker) Login(ctx context.Context, username, password string) (string, auth.Identity, error) {
	ctx, span := b.tracer.Start(ctx, "broker.Login")
	defer span.End()
	span.SetAttributes(attribute.String("auth.mode", string(b.cfg.Mode)))

	if b.cfg.Mode != ModeLocal {
		return "", auth.Identity{}, b.reject(ctx, span, "login",
			sserr.New(sserr.CodeAuthentication, "broker: local login is disabled in federated mode"))
	}
	if username == "" || password == "" {
		return "", auth.Identity{}, b.reject(ctx, span, "login",
			sserr.New(sserr.CodeAuthenticationCredentials, "broker: username and password are required"))
	}
	span.SetAttributes(attribute.String("auth.username", username))

	cred, err := b.users.FindUser(ctx, username)
	if err != nil {
		if sserr.HasCode(err, sserr.CodeNotFoundUser) {
			burnVerify(password)
		}
		return "", auth.Identity{}, b.reject(ctx, span, "login", err)
	}
	if !cred.Verify(password) {
		return "", auth.Identity{}, b.reject(ctx, span, "login",
			sserr.Newf(sserr.CodeAuthenticationCredentials, "broker: wrong password for %q", cred.Username))
	}

	token, id, err := b.issuer.IssueIdentity(cred.Username, cred.Roles...)
	if err != nil {
		return "", auth.Identity{}, b.reject(ctx, span, "login", err)
	}
	span.SetStatus(codes.Ok, "")
	b.logger.InfoContext(ctx, "broker: service user logged in", "subject", id.Subject())
	return token, id, nil
}

// Validate verifies a bearer token with the configured mode's validator.
//
// Error codes returned:
//   - [sserr.CodeAuthenticationInvalid]: empty, oversized or malformed token
//   - [sserr.CodeAuthenticationSignature], [sserr.CodeAuthenticationExpired],
//     [sserr.CodeAuthenticationUnknownKey]: rejected token
//   - [sserr.CodeUnavailableProvider]: federated keys unavailable
func (b *Broker) Validate(ctx context.Context, token string) (auth.Identity, error) {
	ctx, span := b.tracer.Start(ctx, "broker.Validate")
	defer span.End()
	span.SetAttributes(attribute.String("auth.mode", string(b.cfg.Mode)))

	switch {
	case token == "":
		return auth.Identity{}, b.reject(ctx, span, "validate",
			sserr.New(sserr.CodeAuthenticationInvalid, "broker: empty token"))
	case len(token) > b.cfg.MaxTokenBytes:
		return auth.Identity{}, b.reject(ctx, span, "validate",
			sserr.Newf(sserr.CodeAuthenticationInvalid, "broker: token is %d bytes, limit %d", len(token), b.cfg.MaxTokenBytes))
	}

	id, err := b.validator.Validate(ctx, token)
	if err != nil {
		return auth.Identity{}, b.reject(ctx, span, "validate", err)
	}
	span.SetAttributes(
		attribute.String("auth.subject", id.Subject()),
		attribute.String("auth.source", id.Source().String()),
	)
	span.SetStatus(codes.Ok, "")
	return id, nil
}

// ReloadServiceUsers re-reads the credential document. It fails with
// [sserr.CodeValidation] in federated mode.
func (b *Broker) ReloadServiceUsers(ctx context.Context) error {
	if b.users == nil {
		return sserr.New(sserr.CodeValidation, "broker: no service users in federated mode")
	}
	return b.users.Reload(ctx)
}

// KeyState returns the federated key cache state, or
// [federated.StateUninitialized] in local mode.
func (b *Broker) KeyState() federated.State {
	if b.keys == nil {
		return federated.StateUninitialized
	}
	return b.keys.State()
}

// Health checks the storage the broker reads from: object storage for an
// s3:// credential location and the key set store when one is configured.
// The identity provider is not checked; see [Broker.KeyState].
func (b *Broker) Health(ctx context.Context) error {
	for _, dc := range b.checks {
		if err := dc.check(ctx); err != nil {
			return sserr.Wrapf(err, sserr.CodeUnavailableDependency, "broker: %s unhealthy", dc.name)
		}
	}
	return nil
}

// Close releases the clients New dialed.
func (b *Broker) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// reject logs err and returns it with a client-safe message. Code and
// cause are preserved.
func (b *Broker) reject(ctx context.Context, span trace.Span, op string, err error) error {
	se := sserr.FromError(err)
	public := &sserr.Error{Code: se.Code, Message: se.Public(), Cause: err}

	level := slog.LevelInfo
	if !sserr.IsAuthentication(se) && se.Code != sserr.CodeNotFoundUser {
		level = slog.LevelWarn
	}
	b.logger.Log(ctx, level, "broker: "+op+" rejected", "code", string(se.Code), "error", err.Error())

	span.RecordError(err)
	span.SetAttributes(attribute.String("auth.error_code", string(se.Code)))
	span.SetStatus(codes.Error, string(se.Code))
	return public
}

var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("dialogue-auth/unknown-user"), bcrypt.DefaultCost)
	return h
})

// burnVerify spends about as long as a bcrypt check so unknown usernames
// are not distinguishable by timing.
func burnVerify(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
}
