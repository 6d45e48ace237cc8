package federated

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// DefaultAlgorithm is assumed for RSA keys that do not declare "alg".
const DefaultAlgorithm = "RS256"

// minRSABits rejects keys too short to trust.
const minRSABits = 2048

// rsaAlgorithms are the only algorithms a federated key may be bound to.
var rsaAlgorithms = map[string]jwt.SigningMethod{
	"RS256": jwt.SigningMethodRS256,
	"RS384": jwt.SigningMethodRS384,
	"RS512": jwt.SigningMethodRS512,
	"PS256": jwt.SigningMethodPS256,
	"PS384": jwt.SigningMethodPS384,
	"PS512": jwt.SigningMethodPS512,
}

// CertsURL builds the realm key set endpoint
// {baseURL}/realms/{realm}/protocol/openid-connect/certs. A trailing slash
// on baseURL is optional and the realm is path-escaped.
func CertsURL(baseURL, realm string) (string, error) {
	if realm == "" {
		return "", sserr.New(sserr.CodeValidation, "federated: realm must not be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", sserr.Newf(sserr.CodeValidation, "federated: base URL %q must be an absolute http(s) URL", baseURL)
	}
	base := strings.TrimRight(baseURL, "/")
	return base + "/realms/" + url.PathEscape(realm) + "/protocol/openid-connect/certs", nil
}

// RealmIssuer returns the issuer Keycloak puts in tokens for realm.
func RealmIssuer(baseURL, realm string) string {
	return strings.TrimRight(baseURL, "/") + "/realms/" + url.PathEscape(realm)
}

// SigningKey is one RSA verification key published by the identity
// provider. It is immutable once parsed.
type SigningKey struct {
	KeyID     string
	KeyType   string
	Algorithm string
	Use       string
	X5C       []string
	X5T       string
	X5TS256   string
	N         string
	E         string

	publicKey *rsa.PublicKey
}

// PublicKey returns the RSA key rebuilt from the modulus and exponent.
func (k SigningKey) PublicKey() *rsa.PublicKey { return k.publicKey }

// SigningMethod returns the verification method bound to the key. Keys
// without an "alg" member default to RS256.
func (k SigningKey) SigningMethod() jwt.SigningMethod {
	if m, ok := rsaAlgorithms[k.Algorithm]; ok {
		return m
	}
	return rsaAlgorithms[DefaultAlgorithm]
}

// KeySetSnapshot is an immutable kid -> key mapping from one fetch.
type KeySetSnapshot struct {
	fetchedAt time.Time
	keys      map[string]SigningKey
	document  []byte
}

// FetchedAt returns when the document was fetched from the provider.
func (s *KeySetSnapshot) FetchedAt() time.Time { return s.fetchedAt }

// Key looks up kid.
func (s *KeySetSnapshot) Key(kid string) (SigningKey, bool) {
	k, ok := s.keys[kid]
	return k, ok
}

// Len returns the number of usable keys.
func (s *KeySetSnapshot) Len() int { return len(s.keys) }

// KeyIDs returns the key ids in sorted order.
func (s *KeySetSnapshot) KeyIDs() []string {
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Document returns a copy of the raw JSON the snapshot was parsed from.
func (s *KeySetSnapshot) Document() []byte { return slices.Clone(s.document) }

type jsonWebKey struct {
	Kid     string   `json:"kid"`
	Kty     string   `json:"kty"`
	Alg     string   `json:"alg"`
	Use     string   `json:"use"`
	X5C     []string `json:"x5c"`
	X5T     string   `json:"x5t"`
	X5TS256 string   `json:"x5t#S256"`
	N       string   `json:"n"`
	E       string   `json:"e"`
}

// ParseKeySet parses a JWKS document. Entries that cannot serve as RSA
// signature keys (no kid, other kty, use other than "sig", non-RSA alg,
// bad modulus or exponent) are skipped and logged at debug level. A
// repeated kid keeps its first entry.
//
// It fails only when the document itself is not a key set.
func ParseKeySet(document []byte, fetchedAt time.Time, logger *slog.Logger) (*KeySetSnapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var set struct {
		Keys *[]jsonWebKey `json:"keys"`
	}
	if err := json.Unmarshal(document, &set); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableProvider, "federated: key set is not valid JSON")
	}
	if set.Keys == nil {
		return nil, sserr.New(sserr.CodeUnavailableProvider, `federated: key set has no "keys" member`)
	}

	keys := make(map[string]SigningKey, len(*set.Keys))
	for i, jwk := range *set.Keys {
		key, err := jwk.signingKey()
		if err != nil {
			logger.Debug("federated: skipping key set entry", "index", i, "kid", jwk.Kid, "reason", err.Error())
			continue
		}
		if _, dup := keys[key.KeyID]; dup {
			logger.Warn("federated: duplicate kid in key set, keeping first", "kid", key.KeyID)
			continue
		}
		keys[key.KeyID] = key
	}

	return &KeySetSnapshot{
		fetchedAt: fetchedAt.UTC(),
		keys:      keys,
		document:  slices.Clone(document),
	}, nil
}

func (j jsonWebKey) signingKey() (SigningKey, error) {
	switch {
	case j.Kid == "":
		return SigningKey{}, fmt.Errorf("missing kid")
	case j.Kty != "RSA":
		return SigningKey{}, fmt.Errorf("unsupported kty %q", j.Kty)
	case j.Use != "" && j.Use != "sig":
		return SigningKey{}, fmt.Errorf("use %q is not sig", j.Use)
	}
	if j.Alg != "" {
		if _, ok := rsaAlgorithms[j.Alg]; !ok {
			return SigningKey{}, fmt.Errorf("unsupported alg %q", j.Alg)
		}
	}
	pub, err := parseRSAPublicKey(j.N, j.E)
	if err != nil {
		return SigningKey{}, err
	}
	return SigningKey{
		KeyID:     j.Kid,
		KeyType:   j.Kty,
		Algorithm: j.Alg,
		Use:       j.Use,
		X5C:       slices.Clone(j.X5C),
		X5T:       j.X5T,
		X5TS256:   j.X5TS256,
		N:         j.N,
		E:         j.E,
		publicKey: pub,
	}, nil
}

// parseRSAPublicKey rebuilds a public key from base64url modulus and
// exponent.
func parseRSAPublicKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(nB64, "="))
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(eB64, "="))
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if n.BitLen() < minRSABits {
		return nil, fmt.Errorf("modulus is %d bits, need at least %d", n.BitLen(), minRSABits)
	}
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 || e.Bit(0) == 0 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
