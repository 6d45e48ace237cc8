package fixtures

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/xml"
	"math/big"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// RSAKey generates a 2048-bit RSA key.
func RSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")
	return key
}

// JWK renders pub as a JSON Web Key with the fields a Keycloak certs
// endpoint publishes. An empty alg omits the member.
func JWK(kid string, pub *rsa.PublicKey, alg string) map[string]any {
	jwk := map[string]any{
		"kid":      kid,
		"kty":      "RSA",
		"use":      "sig",
		"n":        base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":        base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		"x5c":      []string{"MIIC-not-a-real-cert"},
		"x5t":      "thumb-" + kid,
		"x5t#S256": "thumb256-" + kid,
	}
	if alg != "" {
		jwk["alg"] = alg
	}
	return jwk
}

// SignRS256 returns an RS256 compact token with kid in its header.
func SignRS256(t testing.TB, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	return Sign(t, jwt.SigningMethodRS256, key, kid, claims)
}

// Sign returns a compact token signed with method and key. An empty kid
// leaves the header without one.
func Sign(t testing.TB, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign %s token", method.Alg())
	return signed
}

// ServiceUsersXML renders a credential document from username/password
// pairs. An odd trailing username gets no password attribute.
func ServiceUsersXML(pairs ...string) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<service-users>\n")
	for i := 0; i < len(pairs); i += 2 {
		b.WriteString(`  <service-user username="`)
		_ = xml.EscapeText(&b, []byte(pairs[i]))
		b.WriteString(`"`)
		if i+1 < len(pairs) {
			b.WriteString(` password="`)
			_ = xml.EscapeText(&b, []byte(pairs[i+1]))
			b.WriteString(`"`)
		}
		b.WriteString("/>\n")
	}
	b.WriteString("</service-users>\n")
	return b.String()
}
