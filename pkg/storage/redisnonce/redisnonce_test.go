package redisnonce_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
	"github.com/mind-engage/mindengage-lti-provider/pkg/storage/redisnonce"
)

func newStore(t *testing.T) (*redisnonce.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisnonce.NewWithClient(client, "test:"), mr
}

func TestCheckAndRecordNonce(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	n := lti.NewNonce("ck1", "abc", now)
	seen, err := s.CheckAndRecordNonce(ctx, n)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = s.CheckAndRecordNonce(ctx, n)
	require.NoError(t, err)
	assert.True(t, seen)

	assert.True(t, mr.Exists("test:nonce:ck1:abc"))
	assert.Equal(t, lti.MaxNonceAge, mr.TTL("test:nonce:ck1:abc"))

	other, err := s.CheckAndRecordNonce(ctx, lti.NewNonce("ck2", "abc", now))
	require.NoError(t, err)
	assert.False(t, other, "nonces are scoped per consumer")

	mr.FastForward(lti.MaxNonceAge)
	found, err := s.LoadNonce(ctx, "ck1", "abc")
	require.NoError(t, err)
	assert.False(t, found, "expired by TTL")
}

func TestSaveNonce(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	now := time.Now()

	require.NoError(t, s.SaveNonce(ctx, lti.NewNonce("ck1", "n1", now)))
	found, err := s.LoadNonce(ctx, "ck1", "n1")
	require.NoError(t, err)
	assert.True(t, found)

	stale := lti.Nonce{ConsumerKey: "ck1", Value: "old", ExpiresAt: now.Add(-time.Minute)}
	require.NoError(t, s.SaveNonce(ctx, stale))
	assert.False(t, mr.Exists("test:nonce:ck1:old"), "expired nonces are not written")
}

func TestStoreErrors(t *testing.T) {
	s, mr := newStore(t)
	mr.Close()

	_, err := s.CheckAndRecordNonce(context.Background(), lti.NewNonce("ck1", "abc", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redisnonce: record")
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := redisnonce.New(context.Background(), "", "", 0, "")
	require.Error(t, err)
}
