package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti-provider/internal/config"
	"github.com/mind-engage/mindengage-lti-provider/internal/logging"
	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

func TestOpenBackend_SQLiteWithRedisNonces(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{
		StoreDriver:    config.StoreSQLite,
		DBDSN:          ":memory:",
		NonceBackend:   config.NonceRedis,
		RedisAddr:      mr.Addr(),
		RedisKeyPrefix: "test:",
	}
	ctx := context.Background()
	b, err := OpenBackend(ctx, cfg, logging.Get())
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Ready(ctx))

	require.NoError(t, b.Store.SaveToolConsumer(ctx, lti.NewToolConsumer("ck1", true)))
	_, err = b.Store.LoadToolConsumer(ctx, "ck1")
	require.NoError(t, err)

	n := lti.NewNonce("ck1", "abc", time.Now())
	replay, err := b.Store.CheckAndRecordNonce(ctx, n)
	require.NoError(t, err)
	assert.False(t, replay)
	assert.True(t, mr.Exists("test:nonce:ck1:abc"))
}

func TestOpenBackend_Memory(t *testing.T) {
	b, err := OpenBackend(context.Background(), config.Config{StoreDriver: config.StoreMemory, NonceBackend: config.NonceMemory}, logging.Get())
	require.NoError(t, err)
	assert.NoError(t, b.Ready(context.Background()))
	assert.NoError(t, b.Close())
}

func TestOpenBackend_Errors(t *testing.T) {
	_, err := OpenBackend(context.Background(), config.Config{StoreDriver: "mongo"}, logging.Get())
	assert.Error(t, err)

	_, err = OpenBackend(context.Background(), config.Config{StoreDriver: config.StoreMemory, NonceBackend: config.NonceRedis, RedisAddr: "127.0.0.1:1"}, logging.Get())
	assert.Error(t, err)
}
