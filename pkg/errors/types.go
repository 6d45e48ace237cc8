package errors

import (
	"fmt"
	"net/http"
)

// Error is a structured error with a code, a message, and an optional cause.
// Errors are not modified after creation; the With* methods return copies.
type Error struct {
	// Code is the machine-readable error code (e.g., "AUTH_002").
	Code Code

	// Message is the human-readable error message. It may contain internal
	// detail; use [Error.Public] for text shown to remote callers.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Details carries additional structured data for logging.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, supporting errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code for the error's category.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case "VAL":
		return http.StatusBadRequest
	case "AUTH":
		return http.StatusUnauthorized
	case "AUTHZ":
		return http.StatusForbidden
	case "NF":
		return http.StatusNotFound
	case "UNAVAIL":
		return http.StatusServiceUnavailable
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Public returns a message that is safe to hand to a remote caller. It
// depends only on the code, so two failures with different internal causes
// produce the same text.
func (e *Error) Public() string {
	switch e.Code {
	case CodeAuthenticationExpired:
		return "token has expired"
	case CodeAuthenticationInvalid, CodeAuthenticationSignature, CodeAuthenticationUnknownKey:
		return "invalid token"
	case CodeAuthenticationCredentials, CodeNotFoundUser:
		return "invalid credentials"
	case CodeUnavailableProvider:
		return "identity provider unavailable"
	}
	switch e.Code.Category() {
	case "AUTH":
		return "authentication failed"
	case "UNAVAIL", "TIMEOUT":
		return "service unavailable"
	default:
		return "internal error"
	}
}

// WithDetail returns a copy of the error with one detail key added.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// Format implements fmt.Formatter. %+v prints the code, message, details
// and the cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
