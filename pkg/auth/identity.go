// Package auth holds the contracts shared by every authentication path of the
// dialogue backend: the [Identity] produced by token validation, the
// [TokenValidator] interface consumed by request layers, and the HTTP and
// gRPC adapters that put an Identity into the request context.
//
// Two trust models produce identities:
//
//   - local: service accounts exchange static credentials for an
//     HMAC-signed token minted by this service (package localtoken)
//   - federated: end users present RSA-signed bearer tokens issued by an
//     external OIDC provider (package federated)
//
// Package broker composes both behind one [TokenValidator].
package auth

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// TokenSource identifies which trust model produced an Identity.
type TokenSource string

const (
	// SourceLocal marks identities recovered from locally issued tokens.
	SourceLocal TokenSource = "local"

	// SourceFederated marks identities recovered from identity provider tokens.
	SourceFederated TokenSource = "federated"
)

// String returns the string form of the source.
func (s TokenSource) String() string { return string(s) }

// Valid reports whether s is a recognized source.
func (s TokenSource) Valid() bool {
	return s == SourceLocal || s == SourceFederated
}

// TokenValidator verifies a bearer token and returns the identity it asserts.
// Failures are *sserr.Error values with an authentication or unavailable
// code. Implementations must be safe for concurrent use.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// Identity is the authenticated caller recovered from a token. It is an
// immutable value: accessors return copies and there are no setters.
//
// Timestamps are truncated to whole seconds and held in UTC, so an Identity
// compares equal to itself after a round trip through a token or JSON.
type Identity struct {
	subject    string
	roles      []string
	issuedAt   time.Time
	expiration time.Time
	expires    bool
	source     TokenSource
}

// NewIdentity builds an Identity. A nil expiration means the identity never
// expires. Roles keep their first-seen order; duplicates and empty names are
// dropped.
//
// It fails with [sserr.CodeValidation] when subject is blank, issuedAt is
// zero, or expiration is before issuedAt.
func NewIdentity(subject string, roles []string, issuedAt time.Time, expiration *time.Time, source TokenSource) (Identity, error) {
	if strings.TrimSpace(subject) == "" {
		return Identity{}, sserr.New(sserr.CodeValidation, "auth: identity subject must not be empty")
	}
	if issuedAt.IsZero() {
		return Identity{}, sserr.New(sserr.CodeValidation, "auth: identity issuedAt must be set")
	}

	id := Identity{
		subject:  subject,
		roles:    normalizeRoles(roles),
		issuedAt: TruncateTime(issuedAt),
		source:   source,
	}
	if expiration != nil {
		id.expiration = TruncateTime(*expiration)
		id.expires = true
		if id.expiration.Before(id.issuedAt) {
			return Identity{}, sserr.Newf(sserr.CodeValidation,
				"auth: identity expiration %s is before issuedAt %s",
				id.expiration.Format(time.RFC3339), id.issuedAt.Format(time.RFC3339))
		}
	}
	return id, nil
}

// TruncateTime drops sub-second precision and converts t to UTC.
func TruncateTime(t time.Time) time.Time {
	return t.Truncate(time.Second).UTC()
}

func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Subject returns the authenticated principal name.
func (i Identity) Subject() string { return i.subject }

// Roles returns a copy of the role names in token order.
func (i Identity) Roles() []string { return slices.Clone(i.roles) }

// HasRole reports whether the identity carries role. Comparison is exact.
func (i Identity) HasRole(role string) bool { return slices.Contains(i.roles, role) }

// IssuedAt returns the issue time in UTC, truncated to seconds.
func (i Identity) IssuedAt() time.Time { return i.issuedAt }

// Expiration returns the expiry time and true, or the zero time and false
// for a non-expiring identity.
func (i Identity) Expiration() (time.Time, bool) { return i.expiration, i.expires }

// Source returns the trust model that produced the identity.
func (i Identity) Source() TokenSource { return i.source }

// IsZero reports whether i is the zero Identity returned alongside errors.
func (i Identity) IsZero() bool { return i.subject == "" }

// IsExpired reports whether the identity is expired at now. An identity
// whose expiration equals now is still valid; only a strictly later now
// expires it. Non-expiring identities never expire.
func (i Identity) IsExpired(now time.Time) bool {
	return i.expires && now.After(i.expiration)
}

// Equal reports whether two identities carry the same values.
func (i Identity) Equal(o Identity) bool {
	return i.subject == o.subject &&
		slices.Equal(i.roles, o.roles) &&
		i.issuedAt.Equal(o.issuedAt) &&
		i.expires == o.expires &&
		i.expiration.Equal(o.expiration) &&
		i.source == o.source
}

// identityRecord is the wire form of Identity.
type identityRecord struct {
	Subject    string      `json:"subject"`
	Roles      []string    `json:"roles"`
	IssuedAt   time.Time   `json:"issuedAt"`
	Expiration *time.Time  `json:"expiration,omitempty"`
	Source     TokenSource `json:"source,omitempty"`
}

// MarshalJSON encodes the identity with stable wire keys. Roles are always
// an array, never null.
func (i Identity) MarshalJSON() ([]byte, error) {
	rec := identityRecord{
		Subject:  i.subject,
		Roles:    i.roles,
		IssuedAt: i.issuedAt,
		Source:   i.source,
	}
	if rec.Roles == nil {
		rec.Roles = []string{}
	}
	if i.expires {
		exp := i.expiration
		rec.Expiration = &exp
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes the wire form and applies the same checks as
// [NewIdentity].
func (i *Identity) UnmarshalJSON(data []byte) error {
	var rec identityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	id, err := NewIdentity(rec.Subject, rec.Roles, rec.IssuedAt, rec.Expiration, rec.Source)
	if err != nil {
		return err
	}
	*i = id
	return nil
}
