package federated

import (
	"context"
	"encoding/json"
	"time"

	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// DefaultSnapshotKey is the KV key a key set document is shared under.
const DefaultSnapshotKey = "dialogue-auth:jwks"

// SnapshotStore persists the last successfully fetched key set document so
// a replica that cannot reach the identity provider at startup can still
// verify tokens. Load returns a nil document when nothing is stored.
type SnapshotStore interface {
	Load(ctx context.Context) (document []byte, fetchedAt time.Time, err error)
	Save(ctx context.Context, document []byte, fetchedAt time.Time) error
}

// KVStore is the key-value surface [KVSnapshotStore] needs. The redis
// client satisfies it; a missing key must surface as [sserr.CodeNotFound].
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// KVSnapshotStore keeps the document in a [KVStore] as JSON.
type KVSnapshotStore struct {
	KV  KVStore
	Key string
	TTL time.Duration
}

type storedSnapshot struct {
	FetchedAt time.Time       `json:"fetchedAt"`
	Document  json.RawMessage `json:"document"`
}

func (s *KVSnapshotStore) key() string {
	if s.Key == "" {
		return DefaultSnapshotKey
	}
	return s.Key
}

// Load implements [SnapshotStore].
func (s *KVSnapshotStore) Load(ctx context.Context) ([]byte, time.Time, error) {
	raw, err := s.KV.Get(ctx, s.key())
	if err != nil {
		if sserr.IsNotFound(err) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, err
	}
	var stored storedSnapshot
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, time.Time{}, sserr.Wrap(err, sserr.CodeInternalDatabase, "federated: stored key set is corrupt")
	}
	return stored.Document, stored.FetchedAt, nil
}

// Save implements [SnapshotStore].
func (s *KVSnapshotStore) Save(ctx context.Context, document []byte, fetchedAt time.Time) error {
	raw, err := json.Marshal(storedSnapshot{FetchedAt: fetchedAt.UTC(), Document: document})
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "federated: failed to encode key set")
	}
	return s.KV.Set(ctx, s.key(), string(raw), s.TTL)
}
