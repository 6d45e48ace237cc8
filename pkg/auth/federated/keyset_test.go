package federated

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/dialogue-auth/internal/testutil"
	"github.com/StricklySoft/dialogue-auth/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

func TestCertsURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		baseURL string
		realm   string
		want    string
	}{
		{"no trailing slash", "https://sso.example.com", "dialogue", "https://sso.example.com/realms/dialogue/protocol/openid-connect/certs"},
		{"trailing slash", "https://sso.example.com/", "dialogue", "https://sso.example.com/realms/dialogue/protocol/openid-connect/certs"},
		{"base path", "http://keycloak:8080/auth/", "dialogue", "http://keycloak:8080/auth/realms/dialogue/protocol/openid-connect/certs"},
		{"escaped realm", "https://sso.example.com", "team a/b", "https://sso.example.com/realms/team%20a%2Fb/protocol/openid-connect/certs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := CertsURL(tt.baseURL, tt.realm)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCertsURL_Invalid(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ baseURL, realm string }{
		{"", "dialogue"},
		{"sso.example.com", "dialogue"},
		{"ftp://sso.example.com", "dialogue"},
		{"https://sso.example.com", ""},
	} {
		_, err := CertsURL(tc.baseURL, tc.realm)
		testutil.AssertErrorCode(t, err, sserr.CodeValidation, "base=%q realm=%q", tc.baseURL, tc.realm)
	}
}

func TestRealmIssuer(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://sso.example.com/realms/dialogue", RealmIssuer("https://sso.example.com/", "dialogue"))
}

func keySetJSON(t *testing.T, keys ...map[string]any) []byte {
	t.Helper()
	if keys == nil {
		keys = []map[string]any{}
	}
	doc, err := json.Marshal(map[string]any{"keys": keys})
	require.NoError(t, err)
	return doc
}

func TestParseKeySet(t *testing.T) {
	t.Parallel()
	key := fixtures.RSAKey(t)
	fetchedAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	snap, err := ParseKeySet(keySetJSON(t, fixtures.JWK("k1", &key.PublicKey, "RS256")), fetchedAt, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, fetchedAt.UTC(), snap.FetchedAt())
	assert.Equal(t, time.UTC, snap.FetchedAt().Location())

	got, ok := snap.Key("k1")
	require.True(t, ok)
	assert.Equal(t, "k1", got.KeyID)
	assert.Equal(t, "RSA", got.KeyType)
	assert.Equal(t, "RS256", got.Algorithm)
	assert.Equal(t, "sig", got.Use)
	assert.Equal(t, []string{"MIIC-not-a-real-cert"}, got.X5C)
	assert.Equal(t, "thumb-k1", got.X5T)
	assert.Equal(t, "thumb256-k1", got.X5TS256)
	assert.True(t, key.PublicKey.Equal(got.PublicKey()))

	_, ok = snap.Key("k2")
	assert.False(t, ok)
	assert.JSONEq(t, string(keySetJSON(t, fixtures.JWK("k1", &key.PublicKey, "RS256"))), string(snap.Document()))
}

func TestParseKeySet_DefaultAlgorithm(t *testing.T) {
	t.Parallel()
	key := fixtures.RSAKey(t)

	snap, err := ParseKeySet(keySetJSON(t, fixtures.JWK("k1", &key.PublicKey, "")), time.Now(), nil)
	require.NoError(t, err)

	got, ok := snap.Key("k1")
	require.True(t, ok)
	assert.Empty(t, got.Algorithm)
	assert.Equal(t, "RS256", got.SigningMethod().Alg())
}

func TestParseKeySet_SkipsUnusableEntries(t *testing.T) {
	t.Parallel()
	key := fixtures.RSAKey(t)
	weak, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	noKid := fixtures.JWK("", &key.PublicKey, "RS256")
	ec := fixtures.JWK("ec", &key.PublicKey, "ES256")
	ec["kty"] = "EC"
	enc := fixtures.JWK("enc", &key.PublicKey, "RSA-OAEP")
	enc["use"] = "enc"
	hmac := fixtures.JWK("hmac", &key.PublicKey, "HS256")
	badModulus := fixtures.JWK("bad-n", &key.PublicKey, "RS256")
	badModulus["n"] = "!!not base64!!"
	badExponent := fixtures.JWK("bad-e", &key.PublicKey, "RS256")
	badExponent["e"] = "AA"
	short := fixtures.JWK("short", &weak.PublicKey, "RS256")
	noUse := fixtures.JWK("no-use", &key.PublicKey, "PS256")
	delete(noUse, "use")

	snap, err := ParseKeySet(keySetJSON(t,
		noKid, ec, enc, hmac, badModulus, badExponent, short, noUse,
		fixtures.JWK("good", &key.PublicKey, "RS512"),
	), time.Now(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"good", "no-use"}, snap.KeyIDs())
	got, _ := snap.Key("no-use")
	assert.Equal(t, "PS256", got.SigningMethod().Alg())
}

func TestParseKeySet_DuplicateKidKeepsFirst(t *testing.T) {
	t.Parallel()
	first := fixtures.RSAKey(t)
	second := fixtures.RSAKey(t)

	snap, err := ParseKeySet(keySetJSON(t,
		fixtures.JWK("k1", &first.PublicKey, "RS256"),
		fixtures.JWK("k1", &second.PublicKey, "RS256"),
	), time.Now(), nil)
	require.NoError(t, err)

	got, ok := snap.Key("k1")
	require.True(t, ok)
	assert.True(t, first.PublicKey.Equal(got.PublicKey()))
	assert.Equal(t, 1, snap.Len())
}

func TestParseKeySet_EmptySetIsValid(t *testing.T) {
	t.Parallel()
	snap, err := ParseKeySet([]byte(`{"keys":[]}`), time.Now(), nil)
	require.NoError(t, err)
	assert.Zero(t, snap.Len())
	assert.Empty(t, snap.KeyIDs())
}

func TestParseKeySet_Rejects(t *testing.T) {
	t.Parallel()
	for name, doc := range map[string]string{
		"not json":      `<html>maintenance</html>`,
		"missing keys":  `{"issuer":"x"}`,
		"keys not list": `{"keys":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseKeySet([]byte(doc), time.Now(), nil)
			require.Error(t, err)
		})
	}
}
