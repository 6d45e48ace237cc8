package federated

import (
	"context"
	"crypto/rsa"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/dialogue-auth/internal/testutil"
	"github.com/StricklySoft/dialogue-auth/internal/testutil/fixtures"
	"github.com/StricklySoft/dialogue-auth/pkg/auth"
	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

const (
	testIssuer   = "https://sso.example.com/realms/dialogue"
	testAudience = "dialogue-api"
	testClientID = "dialogue-web"
)

type validatorEnv struct {
	key       *rsa.PrivateKey
	srv       *fixtures.JWKSServer
	clock     *fixtures.Clock
	cache     *KeyCache
	validator *Validator
}

func newValidatorEnv(t *testing.T) *validatorEnv {
	t.Helper()
	key := fixtures.RSAKey(t)
	srv := fixtures.NewJWKSServer(t, fixtures.JWK("k1", &key.PublicKey, "RS256"))
	clock := fixtures.NewClock(time.Time{})
	cache := newTestCache(t, srv, clock)
	return &validatorEnv{
		key:   key,
		srv:   srv,
		clock: clock,
		cache: cache,
		validator: NewValidator(cache, ValidatorConfig{
			Issuer:   testIssuer,
			Audience: testAudience,
			ClientID: testClientID,
			Now:      clock.Now,
		}),
	}
}

// claims returns a valid claim set issued at the env clock.
func (e *validatorEnv) claims() jwt.MapClaims {
	now := e.clock.Now()
	return jwt.MapClaims{
		"sub":          fixtures.TestSubject,
		"iss":          testIssuer,
		"aud":          []string{testAudience, "account"},
		"iat":          now.Unix(),
		"exp":          now.Add(5 * time.Minute).Unix(),
		"realm_access": map[string]any{"roles": []string{"reader", "writer"}},
		"resource_access": map[string]any{
			testClientID: map[string]any{"roles": []string{"admin", "reader"}},
			"other":      map[string]any{"roles": []string{"ignored"}},
		},
	}
}

func TestValidator_Valid(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	now := env.clock.Now()

	id, err := env.validator.Validate(context.Background(), fixtures.SignRS256(t, env.key, "k1", env.claims()))
	require.NoError(t, err)

	assert.Equal(t, fixtures.TestSubject, id.Subject())
	assert.Equal(t, []string{"reader", "writer", "admin"}, id.Roles())
	assert.Equal(t, auth.SourceFederated, id.Source())
	assert.Equal(t, now, id.IssuedAt())
	exp, ok := id.Expiration()
	require.True(t, ok)
	assert.Equal(t, now.Add(5*time.Minute), exp)
}

func TestValidator_TopLevelRolesAndCustomClaim(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	v := NewValidator(env.cache, ValidatorConfig{RolesClaim: "dialogue.groups", Now: env.clock.Now})

	claims := env.claims()
	claims["roles"] = []string{"operator"}
	claims["dialogue"] = map[string]any{"groups": []any{"moderator", 7, "operator"}}

	id, err := v.Validate(context.Background(), fixtures.SignRS256(t, env.key, "k1", claims))
	require.NoError(t, err)
	assert.Equal(t, []string{"moderator", "operator"}, id.Roles())
}

func TestValidator_NoExpirationNeverExpires(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	claims := env.claims()
	delete(claims, "exp")
	token := fixtures.SignRS256(t, env.key, "k1", claims)

	env.clock.Advance(24 * 365 * time.Hour)
	id, err := env.validator.Validate(context.Background(), token)
	require.NoError(t, err)
	_, ok := id.Expiration()
	assert.False(t, ok)
}

func TestValidator_ExpirationBoundary(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	claims := env.claims()
	exp := env.clock.Now().Add(time.Minute)
	claims["exp"] = exp.Unix()
	token := fixtures.SignRS256(t, env.key, "k1", claims)

	env.clock.Set(exp)
	_, err := env.validator.Validate(context.Background(), token)
	require.NoError(t, err, "a token is still valid at its exact expiration")

	env.clock.Set(exp.Add(time.Microsecond))
	_, err = env.validator.Validate(context.Background(), token)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationExpired)
}

func TestValidator_AlgorithmConfusion(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	claims := env.claims()

	// An attacker signs with the public modulus bytes as an HMAC secret.
	hmacToken := fixtures.Sign(t, jwt.SigningMethodHS256, env.key.PublicKey.N.Bytes(), "k1", claims)
	_, err := env.validator.Validate(context.Background(), hmacToken)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationInvalid)

	noneToken := fixtures.Sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, "k1", claims)
	_, err = env.validator.Validate(context.Background(), noneToken)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationInvalid)

	assert.Zero(t, env.srv.Fetches(), "unsupported algorithms are rejected before key lookup")
}

func TestValidator_HeaderAlgMustMatchKey(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)

	token := fixtures.Sign(t, jwt.SigningMethodRS384, env.key, "k1", env.claims())
	_, err := env.validator.Validate(context.Background(), token)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationSignature)
}

func TestValidator_KeyWithoutAlgDefaultsToRS256(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	env.srv.SetKeys(fixtures.JWK("k1", &env.key.PublicKey, ""))

	_, err := env.validator.Validate(context.Background(), fixtures.SignRS256(t, env.key, "k1", env.claims()))
	require.NoError(t, err)

	_, err = env.validator.Validate(context.Background(), fixtures.Sign(t, jwt.SigningMethodPS256, env.key, "k1", env.claims()))
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationSignature)
}

func TestValidator_PSSKey(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	env.srv.SetKeys(fixtures.JWK("pss", &env.key.PublicKey, "PS256"))

	_, err := env.validator.Validate(context.Background(), fixtures.Sign(t, jwt.SigningMethodPS256, env.key, "pss", env.claims()))
	require.NoError(t, err)
}

func TestValidator_SignatureFailures(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	token := fixtures.SignRS256(t, env.key, "k1", env.claims())

	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	_, err := env.validator.Validate(context.Background(), tampered)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationSignature)

	impostor := fixtures.SignRS256(t, fixtures.RSAKey(t), "k1", env.claims())
	_, err = env.validator.Validate(context.Background(), impostor)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationSignature)
}

func TestValidator_Rejects(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		code   sserr.Code
	}{
		{"missing subject", func(c jwt.MapClaims) { delete(c, "sub") }, sserr.CodeAuthenticationInvalid},
		{"empty subject", func(c jwt.MapClaims) { c["sub"] = "" }, sserr.CodeAuthenticationInvalid},
		{"missing issued-at", func(c jwt.MapClaims) { delete(c, "iat") }, sserr.CodeAuthenticationInvalid},
		{"non-numeric exp", func(c jwt.MapClaims) { c["exp"] = "tomorrow" }, sserr.CodeAuthenticationInvalid},
		{"exp before iat", func(c jwt.MapClaims) { c["exp"] = env.clock.Now().Add(-time.Hour).Unix() }, sserr.CodeAuthenticationInvalid},
		{"not yet valid", func(c jwt.MapClaims) { c["nbf"] = env.clock.Now().Add(time.Minute).Unix() }, sserr.CodeAuthenticationInvalid},
		{"wrong issuer", func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com/realms/dialogue" }, sserr.CodeAuthenticationInvalid},
		{"wrong audience", func(c jwt.MapClaims) { c["aud"] = "account" }, sserr.CodeAuthenticationInvalid},
		{"expired", func(c jwt.MapClaims) {
			c["iat"] = env.clock.Now().Add(-time.Hour).Unix()
			c["exp"] = env.clock.Now().Add(-time.Second).Unix()
		}, sserr.CodeAuthenticationExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := env.claims()
			tt.mutate(claims)
			_, err := env.validator.Validate(context.Background(), fixtures.SignRS256(t, env.key, "k1", claims))
			testutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestValidator_AuthorizedPartySatisfiesAudience(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	claims := env.claims()
	delete(claims, "aud")
	claims["azp"] = testAudience

	_, err := env.validator.Validate(context.Background(), fixtures.SignRS256(t, env.key, "k1", claims))
	require.NoError(t, err)
}

func TestValidator_MalformedTokens(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	noKid := fixtures.Sign(t, jwt.SigningMethodRS256, env.key, "", env.claims())

	for name, token := range map[string]string{
		"empty":         "",
		"one segment":   "abc",
		"four segments": "a.b.c.d",
		"bad header":    "!!!.e30.sig",
		"no kid":        noKid,
	} {
		_, err := env.validator.Validate(context.Background(), token)
		testutil.AssertErrorCode(t, err, sserr.CodeAuthenticationInvalid, name)
	}
	assert.Zero(t, env.srv.Fetches())
}

func TestValidator_UnknownKid(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)

	_, err := env.validator.Validate(context.Background(), fixtures.SignRS256(t, env.key, "unknown", env.claims()))
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationUnknownKey)
}

func TestValidator_ProviderUnreachable(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	env.srv.SetStatus(503)

	_, err := env.validator.Validate(context.Background(), fixtures.SignRS256(t, env.key, "k1", env.claims()))
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableProvider)
}

func TestValidator_KeyRotationSingleFetch(t *testing.T) {
	t.Parallel()
	env := newValidatorEnv(t)
	_, err := env.validator.Validate(context.Background(), fixtures.SignRS256(t, env.key, "k1", env.claims()))
	require.NoError(t, err)

	rotated := fixtures.RSAKey(t)
	env.srv.SetKeys(fixtures.JWK("k1", &env.key.PublicKey, "RS256"), fixtures.JWK("k2", &rotated.PublicKey, "RS256"))
	env.srv.SetDelay(150 * time.Millisecond)
	env.srv.ResetFetches()
	token := fixtures.SignRS256(t, rotated, "k2", env.claims())

	const callers = 50
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.validator.Validate(context.Background(), token)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), env.srv.Fetches())
}
