package fixtures

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// JWKSServer is a fake identity provider certs endpoint for [TestRealm].
// Keys, status and latency can be changed while tests run; Fetches counts
// requests to the certs path.
type JWKSServer struct {
	*httptest.Server

	fetches atomic.Int64

	mu     sync.Mutex
	keys   []map[string]any
	status int
	body   string
	delay  time.Duration
}

// NewJWKSServer starts a server publishing keys and registers its shutdown
// with t.Cleanup.
func NewJWKSServer(t testing.TB, keys ...map[string]any) *JWKSServer {
	t.Helper()
	s := &JWKSServer{keys: keys, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// CertsPath is the path Keycloak serves the realm key set on.
func CertsPath(realm string) string {
	return "/realms/" + realm + "/protocol/openid-connect/certs"
}

func (s *JWKSServer) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != CertsPath(TestRealm) {
		http.NotFound(w, r)
		return
	}
	s.fetches.Add(1)

	s.mu.Lock()
	keys, status, body, delay := s.keys, s.status, s.body, s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if body != "" {
		_, _ = w.Write([]byte(body))
		return
	}
	if keys == nil {
		keys = []map[string]any{}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
}

// SetKeys replaces the published key set.
func (s *JWKSServer) SetKeys(keys ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
	s.body = ""
}

// SetBody publishes a raw response body instead of the key set.
func (s *JWKSServer) SetBody(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
}

// SetStatus makes the endpoint answer with status and no key set.
func (s *JWKSServer) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetDelay holds every response for d.
func (s *JWKSServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Fetches returns the number of certs requests served so far.
func (s *JWKSServer) Fetches() int64 { return s.fetches.Load() }

// ResetFetches zeroes the request counter.
func (s *JWKSServer) ResetFetches() { s.fetches.Store(0) }
