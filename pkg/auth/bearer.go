package auth

import "strings"

const (
	// HeaderAuthorization carries the bearer token on HTTP requests and,
	// lowercased, in gRPC metadata.
	HeaderAuthorization = "Authorization"

	bearerPrefix = "Bearer "
)

// ExtractBearerToken returns the token from an Authorization header value.
// The "Bearer " prefix is matched case-insensitively and surrounding
// whitespace on the token is trimmed. It returns "" when the header is empty,
// uses another scheme, or has no token.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}
