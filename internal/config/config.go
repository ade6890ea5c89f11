package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

type StoreDriver string

const (
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
	StoreMemory   StoreDriver = "memory"
)

type NonceBackend string

const (
	NonceSQL    NonceBackend = "sql"
	NonceRedis  NonceBackend = "redis"
	NonceMemory NonceBackend = "memory"
)

type Config struct {
	HTTPAddr  string
	PublicURL string

	StoreDriver StoreDriver
	DBDSN       string

	NonceBackend   NonceBackend
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// Launch handling
	AllowSharing    bool
	DefaultEmail    string
	IDScope         lti.IDScope
	AutoEnable      bool
	TimestampWindow time.Duration

	SessionSecret   string
	SessionTTL      time.Duration
	SuccessRedirect string

	AdminUser     string
	AdminPassHash string // bcrypt

	CORSOrigins []string

	LaunchRateLimit float64 // per second per client IP; 0 disables
	LaunchRateBurst int

	LogLevel      string
	LogFormat     string // text|json
	EnableMetrics bool
}

func FromEnv() Config {
	driver := StoreDriver(strings.ToLower(envOr("STORE_DRIVER", string(StoreSQLite))))
	dsn := os.Getenv("DB_DSN")
	if dsn == "" && driver == StoreSQLite {
		dsn = "file:lti.db"
	}
	scope, _ := lti.ParseIDScope(os.Getenv("LTI_ID_SCOPE"))
	return Config{
		HTTPAddr:  envOr("HTTP_ADDR", ":8080"),
		PublicURL: strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/"),

		StoreDriver: driver,
		DBDSN:       dsn,

		NonceBackend:   NonceBackend(strings.ToLower(envOr("NONCE_BACKEND", string(NonceSQL)))),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        envInt("REDIS_DB", 0),
		RedisKeyPrefix: envOr("REDIS_KEY_PREFIX", "lti:"),

		AllowSharing:    envBool("LTI_ALLOW_SHARING", false),
		DefaultEmail:    os.Getenv("LTI_DEFAULT_EMAIL"),
		IDScope:         scope,
		AutoEnable:      envBool("LTI_AUTO_ENABLE", false),
		TimestampWindow: envDuration("LTI_TIMESTAMP_WINDOW", 300*time.Second),

		SessionSecret:   os.Getenv("SESSION_HMAC_SECRET"),
		SessionTTL:      envDuration("SESSION_TTL", 8*time.Hour),
		SuccessRedirect: os.Getenv("SUCCESS_REDIRECT_URL"),

		AdminUser:     os.Getenv("ADMIN_USER"),
		AdminPassHash: os.Getenv("ADMIN_PASS_HASH"),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000"),

		LaunchRateLimit: envFloat("LAUNCH_RATE_LIMIT", 20),
		LaunchRateBurst: envInt("LAUNCH_RATE_BURST", 40),

		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogFormat:     envOr("LOG_FORMAT", "text"),
		EnableMetrics: envBool("ENABLE_METRICS", true),
	}
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreSQLite, StorePostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("config: DB_DSN is required for STORE_DRIVER=%s", c.StoreDriver)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.NonceBackend {
	case NonceSQL, NonceMemory:
	case NonceRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: REDIS_ADDR is required for NONCE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("config: unknown NONCE_BACKEND %q", c.NonceBackend)
	}
	if (c.AdminUser == "") != (c.AdminPassHash == "") {
		return fmt.Errorf("config: ADMIN_USER and ADMIN_PASS_HASH must be set together")
	}
	return nil
}

// AdminEnabled reports whether the admin API should be mounted.
func (c Config) AdminEnabled() bool { return c.AdminUser != "" && c.AdminPassHash != "" }

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k))); err == nil {
		return n
	}
	return def
}
func envFloat(k string, def float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(k)), 64); err == nil {
		return f
	}
	return def
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
