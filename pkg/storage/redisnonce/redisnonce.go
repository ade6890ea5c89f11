// Package redisnonce keeps OAuth nonces in Redis so that several tool
// provider instances share one replay window.
package redisnonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

// DefaultKeyPrefix namespaces nonce keys when none is configured.
const DefaultKeyPrefix = "lti:"

// Store implements lti.NonceStore. Expiry is left to Redis key TTLs.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string

	// Now computes TTLs from nonce expiry times. Defaults to time.Now.
	Now func() time.Time
}

var _ lti.NonceStore = (*Store)(nil)

// New connects to addr and verifies the connection.
func New(ctx context.Context, addr, password string, db int, keyPrefix string) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redisnonce: address is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisnonce: ping: %w", err)
	}
	return NewWithClient(client, keyPrefix), nil
}

// NewWithClient wraps an existing client. This is useful for testing with
// miniredis.
func NewWithClient(client redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// Ping checks connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) key(consumerKey, value string) string {
	return s.keyPrefix + "nonce:" + consumerKey + ":" + value
}

func (s *Store) LoadNonce(ctx context.Context, consumerKey, value string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(consumerKey, value)).Result()
	if err != nil {
		return false, fmt.Errorf("redisnonce: load: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SaveNonce(ctx context.Context, n lti.Nonce) error {
	ttl := n.TTL(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(n.ConsumerKey, n.Value), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redisnonce: save: %w", err)
	}
	return nil
}

// CheckAndRecordNonce uses SET NX so concurrent instances agree on a single
// first presentation.
func (s *Store) CheckAndRecordNonce(ctx context.Context, n lti.Nonce) (bool, error) {
	ttl := n.TTL(s.now())
	if ttl <= 0 {
		return s.LoadNonce(ctx, n.ConsumerKey, n.Value)
	}
	ok, err := s.client.SetNX(ctx, s.key(n.ConsumerKey, n.Value), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redisnonce: record: %w", err)
	}
	return !ok, nil
}
