package serviceuser

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/StricklySoft/dialogue-auth/pkg/auth"
)

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// Credential is one service account record. The password is either a
// bcrypt hash or a plaintext secret.
type Credential struct {
	Username string
	Password auth.Secret
	Roles    []string
}

// Verify reports whether password matches the stored secret. Bcrypt hashes
// are checked with bcrypt; plaintext is compared in constant time. An
// empty password never matches.
func (c Credential) Verify(password string) bool {
	if password == "" || c.Password.IsZero() {
		return false
	}
	stored := c.Password.Value()
	if c.Hashed() {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

// Hashed reports whether the stored password is a bcrypt hash.
func (c Credential) Hashed() bool {
	stored := c.Password.Value()
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(stored, p) {
			return true
		}
	}
	return false
}

// String omits the password.
func (c Credential) String() string {
	return "Credential{" + c.Username + "}"
}
