package federated

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/dialogue-auth/internal/testutil"
	"github.com/StricklySoft/dialogue-auth/pkg/clients/redis"
	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

var _ KVStore = (*redis.Client)(nil)

type fakeKV struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.values[key]
	if !ok {
		return "", sserr.New(sserr.CodeNotFound, "redis: key not found")
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return nil
}

func TestKVSnapshotStore_RoundTrip(t *testing.T) {
	t.Parallel()
	kv := newFakeKV()
	store := &KVSnapshotStore{KV: kv, TTL: time.Hour}
	fetchedAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	require.NoError(t, store.Save(context.Background(), []byte(`{"keys":[]}`), fetchedAt))
	assert.Equal(t, time.Hour, kv.ttls[DefaultSnapshotKey])

	doc, gotAt, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":[]}`, string(doc))
	assert.True(t, fetchedAt.Equal(gotAt))
}

func TestKVSnapshotStore_CustomKey(t *testing.T) {
	t.Parallel()
	kv := newFakeKV()
	store := &KVSnapshotStore{KV: kv, Key: "jwks:dialogue"}

	require.NoError(t, store.Save(context.Background(), []byte(`{"keys":[]}`), time.Now()))
	assert.Contains(t, kv.values, "jwks:dialogue")
	assert.NotContains(t, kv.values, DefaultSnapshotKey)
}

func TestKVSnapshotStore_Missing(t *testing.T) {
	t.Parallel()
	doc, fetchedAt, err := (&KVSnapshotStore{KV: newFakeKV()}).Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.True(t, fetchedAt.IsZero())
}

func TestKVSnapshotStore_Corrupt(t *testing.T) {
	t.Parallel()
	kv := newFakeKV()
	kv.values[DefaultSnapshotKey] = "not json"

	_, _, err := (&KVSnapshotStore{KV: kv}).Load(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
}

func TestKVSnapshotStore_BackendError(t *testing.T) {
	t.Parallel()
	kv := newFakeKV()
	kv.getErr = sserr.New(sserr.CodeTimeoutDatabase, "redis: get failed")

	_, _, err := (&KVSnapshotStore{KV: kv}).Load(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeTimeoutDatabase)
}
