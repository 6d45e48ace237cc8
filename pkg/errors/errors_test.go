package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestCode_Category(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{CodeAuthenticationExpired, "AUTH"},
		{CodeAuthenticationUnknownKey, "AUTH"},
		{CodeNotFoundUser, "NF"},
		{CodeInternalCredentialStore, "INT"},
		{CodeUnavailableProvider, "UNAVAIL"},
		{Code("NOPREFIX"), "NOPREFIX"},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.Category(); got != tt.want {
				t.Errorf("Category() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeAuthenticationInvalid, http.StatusUnauthorized},
		{CodeAuthenticationSignature, http.StatusUnauthorized},
		{CodeNotFoundUser, http.StatusNotFound},
		{CodeUnavailableProvider, http.StatusServiceUnavailable},
		{CodeInternalCredentialStore, http.StatusInternalServerError},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeValidation, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestError_Public_DoesNotLeakCause(t *testing.T) {
	err := Wrap(errors.New("dial tcp 10.0.0.7:8443: connection refused"),
		CodeUnavailableProvider, "failed to fetch https://idp.internal/realms/x/certs")

	if got := err.Public(); got != "identity provider unavailable" {
		t.Errorf("Public() = %q", got)
	}
	if strings.Contains(err.Public(), "10.0.0.7") {
		t.Error("Public() leaked the cause")
	}
}

func TestError_Public_UniformForTokenFailures(t *testing.T) {
	malformed := New(CodeAuthenticationInvalid, "token is malformed")
	signature := New(CodeAuthenticationSignature, "signature mismatch")
	unknown := New(CodeAuthenticationUnknownKey, "kid not found")

	if malformed.Public() != signature.Public() || signature.Public() != unknown.Public() {
		t.Errorf("token failures should share one public message: %q %q %q",
			malformed.Public(), signature.Public(), unknown.Public())
	}
	if New(CodeNotFoundUser, "x").Public() != New(CodeAuthenticationCredentials, "y").Public() {
		t.Error("user-not-found and bad password should share one public message")
	}
}

func TestError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, CodeInternal, "failed")

	if got := err.Error(); got != "INT_001: failed: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if got := New(CodeInternal, "plain").Error(); got != "INT_001: plain" {
		t.Errorf("Error() = %q", got)
	}
}

func TestError_WithDetail_DoesNotMutate(t *testing.T) {
	orig := New(CodeAuthenticationUnknownKey, "kid not found")
	withKid := orig.WithDetail("kid", "k1")

	if len(orig.Details) != 0 {
		t.Error("WithDetail mutated the original")
	}
	if withKid.Details["kid"] != "k1" {
		t.Errorf("Details = %v", withKid.Details)
	}
}

func TestError_Format(t *testing.T) {
	err := Wrap(errors.New("inner"), CodeInternal, "outer").WithDetail("k", "v")

	if got := fmt.Sprintf("%v", err); got != err.Error() {
		t.Errorf("%%v = %q", got)
	}
	plus := fmt.Sprintf("%+v", err)
	for _, want := range []string{`Code: "INT_001"`, `Message: "outer"`, "Details:", "Cause: inner"} {
		if !strings.Contains(plus, want) {
			t.Errorf("%%+v = %q, missing %q", plus, want)
		}
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, CodeInternal, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, CodeInternal, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestChecks(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(CodeUnavailableProvider, "down"))

	if GetCode(wrapped) != CodeUnavailableProvider {
		t.Errorf("GetCode() = %q", GetCode(wrapped))
	}
	if !HasCode(wrapped, CodeUnavailableProvider) {
		t.Error("HasCode() = false")
	}
	if !IsUnavailable(wrapped) || !IsRetryable(wrapped) {
		t.Error("provider outage should be unavailable and retryable")
	}
	if IsAuthentication(wrapped) {
		t.Error("IsAuthentication() = true")
	}
	if !IsAuthentication(New(CodeAuthenticationExpired, "x")) {
		t.Error("IsAuthentication() = false for expired")
	}
	if !IsNotFound(New(CodeNotFoundUser, "x")) {
		t.Error("IsNotFound() = false")
	}
	if !IsInternal(New(CodeInternalCredentialStore, "x")) {
		t.Error("IsInternal() = false")
	}
	if !IsTimeout(New(CodeTimeoutDatabase, "x")) {
		t.Error("IsTimeout() = false")
	}
	if GetCode(errors.New("std")) != "" || GetCode(nil) != "" {
		t.Error("GetCode should be empty for non-platform errors")
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil) != nil {
		t.Error("FromError(nil) should be nil")
	}
	platform := New(CodeAuthenticationExpired, "x")
	if FromError(fmt.Errorf("w: %w", platform)) != platform {
		t.Error("FromError should return the platform error in the chain")
	}
	if got := FromError(errors.New("std")); got.Code != CodeInternal {
		t.Errorf("FromError(std).Code = %q", got.Code)
	}
}
