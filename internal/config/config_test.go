package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"STORE_DRIVER", "DB_DSN", "NONCE_BACKEND", "LTI_ID_SCOPE", "LTI_TIMESTAMP_WINDOW", "SESSION_TTL", "LAUNCH_RATE_LIMIT", "CORS_ORIGINS", "ADMIN_USER", "ADMIN_PASS_HASH"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, StoreSQLite, c.StoreDriver)
	assert.Equal(t, "file:lti.db", c.DBDSN)
	assert.Equal(t, NonceSQL, c.NonceBackend)
	assert.Equal(t, lti.IDScopeIDOnly, c.IDScope)
	assert.Equal(t, 300*time.Second, c.TimestampWindow)
	assert.Equal(t, 8*time.Hour, c.SessionTTL)
	assert.Equal(t, 20.0, c.LaunchRateLimit)
	assert.Equal(t, []string{"http://localhost:3000"}, c.CORSOrigins)
	assert.False(t, c.AdminEnabled())
	require.NoError(t, c.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DB_DSN", "postgres://lti@db/lti")
	t.Setenv("PUBLIC_URL", "https://tool.example.com/")
	t.Setenv("LTI_ID_SCOPE", "context")
	t.Setenv("LTI_ALLOW_SHARING", "yes")
	t.Setenv("LTI_TIMESTAMP_WINDOW", "90")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("REDIS_DB", "not-a-number")

	c := FromEnv()
	assert.Equal(t, StorePostgres, c.StoreDriver)
	assert.Equal(t, "https://tool.example.com", c.PublicURL)
	assert.Equal(t, lti.IDScopeContext, c.IDScope)
	assert.True(t, c.AllowSharing)
	assert.Equal(t, 90*time.Second, c.TimestampWindow)
	assert.Equal(t, 30*time.Minute, c.SessionTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins)
	assert.Equal(t, 0, c.RedisDB)
}

func TestValidate(t *testing.T) {
	base := Config{StoreDriver: StoreMemory, NonceBackend: NonceMemory}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.StoreDriver = "mongo" }},
		{"sqlite without dsn", func(c *Config) { c.StoreDriver = StoreSQLite }},
		{"redis without addr", func(c *Config) { c.NonceBackend = NonceRedis }},
		{"unknown nonce backend", func(c *Config) { c.NonceBackend = "etcd" }},
		{"admin user without hash", func(c *Config) { c.AdminUser = "root" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
