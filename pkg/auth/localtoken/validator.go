package localtoken

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/StricklySoft/dialogue-auth/pkg/auth"
	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// Validator verifies local tokens. It is safe for concurrent use.
type Validator struct {
	key    []byte
	cfg    Config
	parser *jwt.Parser
}

var _ auth.TokenValidator = (*Validator)(nil)

// NewValidator decodes the secret in cfg. See [Config.Key] for errors.
func NewValidator(cfg Config) (*Validator, error) {
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	return &Validator{
		key: key,
		cfg: cfg.withDefaults(),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Validate verifies token and returns its identity. Expiry is checked
// against second-truncated timestamps: a token expiring exactly now is
// valid. A token without "exp" never expires.
//
// Error codes returned:
//   - [sserr.CodeAuthenticationInvalid]: not a well-formed local token
//   - [sserr.CodeAuthenticationSignature]: signature or algorithm mismatch
//   - [sserr.CodeAuthenticationExpired]: expiration is before now
func (v *Validator) Validate(_ context.Context, token string) (auth.Identity, error) {
	var claims tokenClaims
	if _, err := v.parser.ParseWithClaims(token, &claims, v.keyFunc); err != nil {
		return auth.Identity{}, classify(err)
	}

	if claims.Subject == "" || claims.IssuedAt == nil {
		return auth.Identity{}, sserr.New(sserr.CodeAuthenticationInvalid, "localtoken: token lacks subject or issued-at")
	}
	if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
		return auth.Identity{}, sserr.Newf(sserr.CodeAuthenticationInvalid, "localtoken: unexpected issuer %q", claims.Issuer)
	}

	id, err := auth.NewIdentity(claims.Subject, claims.Roles, claims.IssuedAt.Time, numericTime(claims.ExpiresAt), auth.SourceLocal)
	if err != nil {
		return auth.Identity{}, sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "localtoken: token claims are inconsistent")
	}
	if id.IsExpired(v.cfg.Now()) {
		return auth.Identity{}, sserr.New(sserr.CodeAuthenticationExpired, "localtoken: token has expired")
	}
	return id, nil
}

func (v *Validator) keyFunc(*jwt.Token) (any, error) {
	return v.key, nil
}

func numericTime(d *jwt.NumericDate) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeAuthenticationSignature, "localtoken: signature verification failed")
	default:
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "localtoken: malformed token")
	}
}
