// Package errors provides the structured error type shared by every
// dialogue-auth package. Each failure carries a machine-readable [Code], a
// message, and an optional cause.
//
// # Authentication Taxonomy
//
// Token and credential failures map onto stable codes so that callers can
// branch on the category without parsing messages:
//
//   - [CodeAuthenticationInvalid]: the token could not be parsed
//   - [CodeAuthenticationExpired]: the token expiration is in the past
//   - [CodeAuthenticationSignature]: the signature did not verify
//   - [CodeAuthenticationUnknownKey]: no signing key matches the token's kid
//   - [CodeAuthenticationCredentials]: password mismatch for a known user
//   - [CodeNotFoundUser]: the service user does not exist
//   - [CodeUnavailableProvider]: the identity provider could not be reached
//   - [CodeInternalCredentialStore]: the credential file failed to load
//
// # Usage
//
//	err := errors.New(errors.CodeAuthenticationExpired, "token has expired")
//
//	if errors.HasCode(err, errors.CodeUnavailableProvider) {
//	    // 503
//	}
//
// Messages returned to remote callers should come from [Error.Public],
// which never includes the cause chain.
package errors
