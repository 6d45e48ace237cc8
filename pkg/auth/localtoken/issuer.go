package localtoken

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/StricklySoft/dialogue-auth/pkg/auth"
	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// Issuer signs local tokens. It is safe for concurrent use.
type Issuer struct {
	key []byte
	cfg Config
}

// NewIssuer decodes the secret in cfg. See [Config.Key] for errors.
func NewIssuer(cfg Config) (*Issuer, error) {
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	return &Issuer{key: key, cfg: cfg.withDefaults()}, nil
}

// TTL returns the lifetime given to issued tokens.
func (i *Issuer) TTL() time.Duration { return i.cfg.TTL }

// Issue signs a token for subject valid from now for the configured TTL.
func (i *Issuer) Issue(subject string, roles ...string) (string, error) {
	token, _, err := i.IssueIdentity(subject, roles...)
	return token, err
}

// IssueIdentity signs a token and also returns the Identity a validator
// will recover from it.
//
// Error codes returned:
//   - [sserr.CodeValidation]: blank subject
//   - [sserr.CodeInternal]: signing failed
func (i *Issuer) IssueIdentity(subject string, roles ...string) (string, auth.Identity, error) {
	now := auth.TruncateTime(i.cfg.Now())
	exp := now.Add(i.cfg.TTL)

	id, err := auth.NewIdentity(subject, roles, now, &exp, auth.SourceLocal)
	if err != nil {
		return "", auth.Identity{}, err
	}

	claims := tokenClaims{
		Roles: id.Roles(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.Subject(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(i.key)
	if err != nil {
		return "", auth.Identity{}, sserr.Wrap(err, sserr.CodeInternal, "localtoken: failed to sign token")
	}
	return signed, id, nil
}
