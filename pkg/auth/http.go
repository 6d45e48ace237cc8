package auth

import (
	"log/slog"
	"net/http"

	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// HTTPMiddleware returns middleware that authenticates every request with
// validator.
//
// The middleware reads the bearer token from the Authorization header,
// validates it, and stores the resulting [Identity] in the request context.
// A missing or rejected token gets 401 with a Bearer challenge; a validator
// that cannot reach its key source gets 503. Response bodies carry only the
// category text from [sserr.Error.Public].
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/api/dialogue", handleDialogue)
//	http.ListenAndServe(":8080", auth.HTTPMiddleware(broker)(mux))
func HTTPMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				writeChallenge(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			ctx := r.Context()
			identity, err := validator.Validate(ctx, token)
			if err != nil {
				status, msg := rejection(err)
				slog.DebugContext(ctx, "auth: rejected HTTP request",
					"code", sserr.GetCode(err),
					"path", r.URL.Path,
				)
				writeChallenge(w, status, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, identity)))
		})
	}
}

// RequireRole returns middleware that answers 403 unless the identity in the
// request context carries role. It must run behind [HTTPMiddleware].
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeChallenge(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !identity.HasRole(role) {
				http.Error(w, "insufficient role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rejection maps a validation failure to an HTTP status and public message.
// Anything that is not an outage is reported as 401.
func rejection(err error) (int, string) {
	e := sserr.FromError(err)
	if sserr.IsUnavailable(e) || sserr.IsTimeout(e) {
		return http.StatusServiceUnavailable, e.Public()
	}
	if sserr.IsAuthentication(e) || sserr.IsNotFound(e) {
		return http.StatusUnauthorized, e.Public()
	}
	return http.StatusUnauthorized, "authentication failed"
}

func writeChallenge(w http.ResponseWriter, status int, msg string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="dialogue"`)
	}
	http.Error(w, msg, status)
}
