package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
	"github.com/mind-engage/mindengage-lti-provider/pkg/storage"
	"github.com/mind-engage/mindengage-lti-provider/pkg/storage/memory"
)

func TestWithNonces_RoutesNoncePort(t *testing.T) {
	ctx := context.Background()
	base, nonces := memory.New(), memory.New()
	s := storage.WithNonces(base, nonces)

	n := lti.NewNonce("ck1", "n-1", time.Now())
	seen, err := s.CheckAndRecordNonce(ctx, n)
	require.NoError(t, err)
	assert.False(t, seen)

	inOverride, err := nonces.LoadNonce(ctx, "ck1", "n-1")
	require.NoError(t, err)
	assert.True(t, inOverride)
	inBase, err := base.LoadNonce(ctx, "ck1", "n-1")
	require.NoError(t, err)
	assert.False(t, inBase)

	err = s.Atomically(ctx, func(tx lti.Store) error {
		seen, err := tx.CheckAndRecordNonce(ctx, n)
		require.NoError(t, err)
		assert.True(t, seen, "transactional view keeps the override")
		return tx.SaveToolConsumer(ctx, lti.NewToolConsumer("ck1", true))
	})
	require.NoError(t, err)
	_, err = base.LoadToolConsumer(ctx, "ck1")
	require.NoError(t, err)
}

func TestWithNonces_NilOverride(t *testing.T) {
	base := memory.New()
	assert.Same(t, lti.Store(base), storage.WithNonces(base, nil))
}
