// pkg/lti/datastore.go
package lti

import (
	"context"
	"time"

	"github.com/mind-engage/mindengage-lti-provider/pkg/oauth1"
)

// oauthStore adapts one launch's consumer and nonce store to the verifier.
// It always answers with the consumer already loaded by the pipeline.
type oauthStore struct {
	consumer *ToolConsumer
	nonces   NonceStore
	now      func() time.Time

	// reason is set when the nonce was refused.
	reason string
}

var _ oauth1.DataStore = (*oauthStore)(nil)

func (s *oauthStore) LookupConsumer(_ context.Context, _ string) (oauth1.Consumer, error) {
	return oauth1.Consumer{Key: s.consumer.Key, Secret: s.consumer.Secret}, nil
}

func (s *oauthStore) LookupToken(_ context.Context, _ oauth1.Consumer, _, _ string) (*oauth1.Token, error) {
	return &oauth1.Token{}, nil
}

// LookupNonce records value and reports true when it had been seen already.
func (s *oauthStore) LookupNonce(ctx context.Context, _ oauth1.Consumer, _ *oauth1.Token, value string, _ int64) (bool, error) {
	n := NewNonce(s.consumer.Key, value, s.now())
	seen, err := s.nonces.CheckAndRecordNonce(ctx, n)
	if err != nil {
		return false, err
	}
	if seen {
		s.reason = "Invalid nonce."
	}
	return seen, nil
}

func (s *oauthStore) NewRequestToken(context.Context, oauth1.Consumer, string) (*oauth1.Token, error) {
	return nil, ErrNotSupported
}

func (s *oauthStore) NewAccessToken(context.Context, *oauth1.Token, oauth1.Consumer, string) (*oauth1.Token, error) {
	return nil, ErrNotSupported
}
