// Package serviceuser loads the static service account credentials that
// may log in locally. The document is XML:
//
//	<service-users>
//	  <service-user username="svc-wool" password="$2a$10$..." roles="ingest,reader"/>
//	</service-users>
//
// Every record needs a non-empty username and password; roles are optional
// and comma separated. One bad record
// fails the whole load, so a damaged document yields no credentials at all.
package serviceuser

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/StricklySoft/dialogue-auth/pkg/auth"
	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// ParseError identifies the record that failed a load.
type ParseError struct {
	// Record is the 1-based position of the record in the document.
	Record int

	// Attribute is the offending attribute name.
	Attribute string

	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("service user record %d: attribute %q %s", e.Record, e.Attribute, e.Reason)
}

type document struct {
	XMLName xml.Name `xml:"service-users"`
	Users   []record `xml:"service-user"`
}

type record struct {
	Username string `xml:"username,attr"`
	Password string `xml:"password,attr"`
	Roles    string `xml:"roles,attr"`
}

// userSet is one fully parsed load. A non-nil err marks a corrupt
// document; it is served until a reload succeeds.
type userSet struct {
	users map[string]Credential
	err   error
}

// Store caches the parsed credential set and swaps it atomically on
// reload. It never refreshes on its own. It is safe for concurrent use.
type Store struct {
	source Source
	logger *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[userSet]
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore returns a store reading from source. Nothing is read until the
// first lookup or [Store.Reload].
func NewStore(source Source, opts ...Option) *Store {
	s := &Store{source: source, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "serviceuser", "source", source.String())
	return s
}

// FindUser looks username up case-insensitively, loading the document on
// first use.
//
// Error codes returned:
//   - [sserr.CodeNotFoundUser]: no such user
//   - [sserr.CodeInternalCredentialStore]: the document is corrupt or missing
//   - whatever the [Source] returns when it cannot be read
func (s *Store) FindUser(ctx context.Context, username string) (Credential, error) {
	set, err := s.loaded(ctx)
	if err != nil {
		return Credential{}, err
	}
	if set.err != nil {
		return Credential{}, set.err
	}
	c, ok := set.users[normalize(username)]
	if !ok {
		return Credential{}, sserr.Newf(sserr.CodeNotFoundUser, "serviceuser: unknown user %q", username)
	}
	return c, nil
}

// Reload reads and parses the document again. A parse failure replaces the
// current set with a failed state; a read failure keeps the current set.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "serviceuser: reload failed, keeping previous credentials", "error", err)
		return err
	}
	s.current.Store(set)
	return set.err
}

// Len returns the number of loaded users, or zero before a successful
// load.
func (s *Store) Len() int {
	if set := s.current.Load(); set != nil {
		return len(set.users)
	}
	return 0
}

func (s *Store) loaded(ctx context.Context) (*userSet, error) {
	if set := s.current.Load(); set != nil {
		return set, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.current.Load(); set != nil {
		return set, nil
	}
	set, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.current.Store(set)
	return set, nil
}

// load returns an error only when the source cannot be read.
func (s *Store) load(ctx context.Context) (*userSet, error) {
	data, err := s.source.Read(ctx)
	if err != nil {
		return nil, err
	}
	users, err := parse(data, s.logger)
	if err != nil {
		s.logger.ErrorContext(ctx, "serviceuser: credential document rejected", "error", err)
		return &userSet{err: err}, nil
	}
	s.logger.InfoContext(ctx, "serviceuser: credentials loaded", "users", len(users))
	return &userSet{users: users}, nil
}

func parse(data []byte, logger *slog.Logger) (map[string]Credential, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalCredentialStore, "serviceuser: credential document is not valid")
	}

	users := make(map[string]Credential, len(doc.Users))
	for i, r := range doc.Users {
		username := strings.TrimSpace(r.Username)
		if username == "" {
			return nil, corrupt(&ParseError{Record: i + 1, Attribute: "username", Reason: "is empty"})
		}
		if strings.TrimSpace(r.Password) == "" {
			return nil, corrupt(&ParseError{Record: i + 1, Attribute: "password", Reason: "is empty"})
		}
		key := normalize(username)
		if _, dup := users[key]; dup {
			logger.Warn("serviceuser: duplicate user, keeping first", "username", username, "record", i+1)
			continue
		}
		users[key] = Credential{Username: username, Password: auth.Secret(r.Password), Roles: splitRoles(r.Roles)}
	}
	return users, nil
}

func corrupt(pe *ParseError) error {
	return sserr.Wrap(pe, sserr.CodeInternalCredentialStore, "serviceuser: credential document rejected").
		WithDetail("record", pe.Record).
		WithDetail("attribute", pe.Attribute)
}

func splitRoles(attr string) []string {
	var roles []string
	for _, r := range strings.Split(attr, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
