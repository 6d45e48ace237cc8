// Package fixtures provides shared test constants and factories: RSA keys,
// a fake identity provider certs endpoint, signed tokens and credential
// documents.
package fixtures

// Standard identity values used across auth tests.
const (
	// TestRealm is the identity provider realm served by [JWKSServer].
	TestRealm = "dialogue"

	// TestSubject is the default end-user subject for federated tokens.
	TestSubject = "f3c1a7e2-user"

	// TestServiceUser is the default service account name.
	TestServiceUser = "svc-wool"

	// TestServicePassword is the plaintext password of [TestServiceUser].
	TestServicePassword = "wool-s3cret"

	// TestSigningSecret is a base64 encoding of 32 bytes for local tokens.
	TestSigningSecret = "dGhpcy1pcy1hLTMyLWJ5dGUtdGVzdC1zaWduaW5nLWs="

	// TestIssuer is the issuer name used on locally issued tokens.
	TestIssuer = "dialogue-auth-test"
)
