package auth

// Secret is a string that redacts itself when printed, formatted, or
// serialized. Use [Secret.Value] where the raw value is required, such as
// deriving a signing key.
type Secret string

const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder for %#v.
func (s Secret) GoString() string { return secretRedacted }

// Value returns the underlying secret.
func (s Secret) Value() string { return string(s) }

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return s == "" }

// MarshalText implements [encoding.TextMarshaler] with the redacted
// placeholder so secrets never reach JSON or YAML output.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }
