// pkg/storage/compose.go
package storage

import (
	"context"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

// WithNonces returns base with its nonce port replaced by nonces, so replay
// protection can live in a shared cache while records stay in the database.
func WithNonces(base lti.Store, nonces lti.NonceStore) lti.Store {
	if nonces == nil {
		return base
	}
	return &splitStore{Store: base, nonces: nonces}
}

type splitStore struct {
	lti.Store
	nonces lti.NonceStore
}

func (s *splitStore) LoadNonce(ctx context.Context, consumerKey, value string) (bool, error) {
	return s.nonces.LoadNonce(ctx, consumerKey, value)
}

func (s *splitStore) SaveNonce(ctx context.Context, n lti.Nonce) error {
	return s.nonces.SaveNonce(ctx, n)
}

func (s *splitStore) CheckAndRecordNonce(ctx context.Context, n lti.Nonce) (bool, error) {
	return s.nonces.CheckAndRecordNonce(ctx, n)
}

// Atomically keeps the nonce override on the transactional store. Nonce
// writes made inside fn are not rolled back with the transaction.
func (s *splitStore) Atomically(ctx context.Context, fn func(lti.Store) error) error {
	return s.Store.Atomically(ctx, func(tx lti.Store) error {
		return fn(&splitStore{Store: tx, nonces: s.nonces})
	})
}
