// Package localtoken issues and validates the HMAC-signed bearer tokens
// minted for service accounts. Issuer and validator share one base64
// configured secret; neither keeps any other state.
//
//	cfg := localtoken.Config{Secret: auth.Secret(os.Getenv("DIALOGUE_SIGNING_SECRET"))}
//	issuer, err := localtoken.NewIssuer(cfg)
//	token, err := issuer.Issue("svc-wool", "ingest")
//
//	validator, err := localtoken.NewValidator(cfg)
//	id, err := validator.Validate(ctx, token)
package localtoken

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/StricklySoft/dialogue-auth/pkg/auth"
	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

const (
	// DefaultTTL is the lifetime of an issued token.
	DefaultTTL = 24 * time.Hour

	// MinSecretBytes is the shortest decoded secret accepted for HS256.
	MinSecretBytes = 32
)

var signingMethod = jwt.SigningMethodHS256

// Config holds the shared signing material.
type Config struct {
	// Secret is the base64 encoded HMAC key. Standard and URL alphabets,
	// padded or not, are accepted.
	Secret auth.Secret

	// TTL is the token lifetime. Zero means [DefaultTTL].
	TTL time.Duration

	// Issuer is written to "iss" and, when set, required on validation.
	Issuer string

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Key decodes the secret.
//
// Error codes returned:
//   - [sserr.CodeValidationRequired]: secret is empty
//   - [sserr.CodeValidation]: secret is not base64 or shorter than [MinSecretBytes]
func (c Config) Key() ([]byte, error) {
	raw := strings.TrimSpace(c.Secret.Value())
	if raw == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "localtoken: signing secret is required")
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		key, err := enc.DecodeString(raw)
		if err != nil {
			continue
		}
		if len(key) < MinSecretBytes {
			return nil, sserr.Newf(sserr.CodeValidation,
				"localtoken: signing secret decodes to %d bytes, need at least %d", len(key), MinSecretBytes)
		}
		return key, nil
	}
	return nil, sserr.New(sserr.CodeValidation, "localtoken: signing secret is not valid base64")
}

// tokenClaims is the payload of a local token.
type tokenClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}
