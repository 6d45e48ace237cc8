package federated

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/dialogue-auth/pkg/auth"
	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// DefaultRolesClaim is the Keycloak claim path holding realm roles.
const DefaultRolesClaim = "realm_access.roles"

// KeySource resolves signing keys by kid. [KeyCache] implements it.
type KeySource interface {
	GetKey(ctx context.Context, kid string) (SigningKey, error)
}

// ValidatorConfig configures a [Validator].
type ValidatorConfig struct {
	// Issuer, when set, must equal the token's "iss" claim.
	Issuer string

	// Audience, when set, must appear in "aud" or equal "azp".
	Audience string

	// RolesClaim is a dot-separated path to a string array of roles.
	RolesClaim string

	// ClientID adds resource_access.{ClientID}.roles to the role set.
	ClientID string

	Now func() time.Time
}

// Validator verifies RSA-signed tokens from the identity provider. The
// verification algorithm always comes from the resolved key, never from
// the token header. It is safe for concurrent use.
type Validator struct {
	keys   KeySource
	cfg    ValidatorConfig
	tracer trace.Tracer
}

var _ auth.TokenValidator = (*Validator)(nil)

// NewValidator returns a Validator resolving keys through keys.
func NewValidator(keys KeySource, cfg ValidatorConfig) *Validator {
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = DefaultRolesClaim
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Validator{keys: keys, cfg: cfg, tracer: otel.Tracer(tracerName)}
}

// Validate verifies token and returns the identity it asserts.
//
// Error codes returned:
//   - [sserr.CodeAuthenticationInvalid]: malformed token, unsupported or
//     missing header fields, bad claims, issuer or audience mismatch
//   - [sserr.CodeAuthenticationUnknownKey]: kid unknown after a refresh
//   - [sserr.CodeAuthenticationSignature]: signature or algorithm mismatch
//   - [sserr.CodeAuthenticationExpired]: exp is before now
//   - [sserr.CodeUnavailableProvider]: keys could not be obtained
func (v *Validator) Validate(ctx context.Context, token string) (auth.Identity, error) {
	ctx, span := v.tracer.Start(ctx, "federated.Validate")
	defer span.End()

	id, err := v.validate(ctx, span, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(sserr.GetCode(err)))
		return auth.Identity{}, err
	}
	span.SetStatus(codes.Ok, "")
	return id, nil
}

func (v *Validator) validate(ctx context.Context, span trace.Span, token string) (auth.Identity, error) {
	if strings.Count(token, ".") != 2 {
		return auth.Identity{}, malformed("token is not a compact JWS", nil)
	}

	header, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return auth.Identity{}, malformed("token header is unreadable", err)
	}
	alg, _ := header.Header["alg"].(string)
	kid, _ := header.Header["kid"].(string)
	span.SetAttributes(attribute.String("jwt.alg", alg), attribute.String("jwt.kid", kid))

	if _, ok := rsaAlgorithms[alg]; !ok {
		return auth.Identity{}, malformed("unsupported token algorithm "+quote(alg), nil)
	}
	if kid == "" {
		return auth.Identity{}, malformed("token header has no kid", nil)
	}

	key, err := v.keys.GetKey(ctx, kid)
	if err != nil {
		return auth.Identity{}, err
	}
	method := key.SigningMethod()
	if alg != method.Alg() {
		return auth.Identity{}, sserr.Newf(sserr.CodeAuthenticationSignature,
			"federated: token alg %s does not match key %q alg %s", alg, kid, method.Alg())
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{method.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key.PublicKey(), nil
	}); err != nil {
		return auth.Identity{}, classifyParseError(err)
	}

	return v.identity(claims)
}

func (v *Validator) identity(claims jwt.MapClaims) (auth.Identity, error) {
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return auth.Identity{}, malformed("token has no subject", err)
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return auth.Identity{}, malformed("token has no issued-at", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return auth.Identity{}, malformed("token expiration is unreadable", err)
	}
	nbf, err := claims.GetNotBefore()
	if err != nil {
		return auth.Identity{}, malformed("token not-before is unreadable", err)
	}

	now := v.cfg.Now()
	if nbf != nil && now.Before(auth.TruncateTime(nbf.Time)) {
		return auth.Identity{}, sserr.New(sserr.CodeAuthenticationInvalid, "federated: token is not valid yet")
	}
	if err := v.checkIssuer(claims); err != nil {
		return auth.Identity{}, err
	}
	if err := v.checkAudience(claims); err != nil {
		return auth.Identity{}, err
	}

	var expiration *time.Time
	if exp != nil {
		expiration = &exp.Time
	}
	id, err := auth.NewIdentity(subject, v.roles(claims), iat.Time, expiration, auth.SourceFederated)
	if err != nil {
		return auth.Identity{}, malformed("token claims are inconsistent", err)
	}
	if id.IsExpired(now) {
		return auth.Identity{}, sserr.New(sserr.CodeAuthenticationExpired, "federated: token has expired")
	}
	return id, nil
}

func (v *Validator) checkIssuer(claims jwt.MapClaims) error {
	if v.cfg.Issuer == "" {
		return nil
	}
	iss, _ := claims.GetIssuer()
	if iss != v.cfg.Issuer {
		return sserr.Newf(sserr.CodeAuthenticationInvalid, "federated: unexpected issuer %q", iss)
	}
	return nil
}

func (v *Validator) checkAudience(claims jwt.MapClaims) error {
	if v.cfg.Audience == "" {
		return nil
	}
	aud, _ := claims.GetAudience()
	if slices.Contains(aud, v.cfg.Audience) {
		return nil
	}
	if azp, _ := claims["azp"].(string); azp == v.cfg.Audience {
		return nil
	}
	return sserr.Newf(sserr.CodeAuthenticationInvalid, "federated: token is not intended for %q", v.cfg.Audience)
}

// roles gathers the configured claim path, a top-level "roles" array and
// the client's resource_access roles.
func (v *Validator) roles(claims jwt.MapClaims) []string {
	var roles []string
	roles = append(roles, stringsAt(claims, strings.Split(v.cfg.RolesClaim, "."))...)
	if v.cfg.RolesClaim != "roles" {
		roles = append(roles, stringsAt(claims, []string{"roles"})...)
	}
	if v.cfg.ClientID != "" {
		roles = append(roles, stringsAt(claims, []string{"resource_access", v.cfg.ClientID, "roles"})...)
	}
	return roles
}

func stringsAt(claims map[string]any, path []string) []string {
	var node any = claims
	for _, part := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[part]
	}
	items, ok := node.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeAuthenticationSignature, "federated: signature verification failed")
	default:
		return malformed("token could not be parsed", err)
	}
}

func malformed(msg string, cause error) error {
	if cause == nil {
		return sserr.New(sserr.CodeAuthenticationInvalid, "federated: "+msg)
	}
	return sserr.Wrap(cause, sserr.CodeAuthenticationInvalid, "federated: "+msg)
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	return s
}
