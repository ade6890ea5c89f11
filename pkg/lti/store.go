// pkg/lti/store.go
package lti

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load* methods when no record exists.
var ErrNotFound = errors.New("lti: not found")

// ErrNotSupported is returned for OAuth token issuance, which this tool
// provider does not offer.
var ErrNotSupported = errors.New("lti: not supported")

// ToolConsumerStore persists tool consumers.
type ToolConsumerStore interface {
	LoadToolConsumer(ctx context.Context, key string) (*ToolConsumer, error)
	// SaveToolConsumer inserts or updates c and stamps Created/Updated.
	SaveToolConsumer(ctx context.Context, c *ToolConsumer) error
	// DeleteToolConsumer removes the consumer with its nonces, share keys,
	// users and links, and detaches links that were sharing its links.
	DeleteToolConsumer(ctx context.Context, key string) error
	// ListToolConsumers returns every consumer ordered by name.
	ListToolConsumers(ctx context.Context) ([]*ToolConsumer, error)
}

// ResourceLinkStore persists resource links.
type ResourceLinkStore interface {
	LoadResourceLink(ctx context.Context, consumerKey, id string) (*ResourceLink, error)
	SaveResourceLink(ctx context.Context, l *ResourceLink) error
	DeleteResourceLink(ctx context.Context, l *ResourceLink) error
	// UserResultSourcedIDs returns the users of l holding a result sourcedid,
	// keyed by ScopedID(scope). Unless localOnly, users of approved links
	// sharing l are included.
	UserResultSourcedIDs(ctx context.Context, l *ResourceLink, localOnly bool, scope IDScope) (map[string]*User, error)
	// ResourceLinkShares lists the links sharing l, ordered by consumer key.
	ResourceLinkShares(ctx context.Context, l *ResourceLink) ([]ResourceLinkShare, error)
}

// UserStore persists users keyed by (link, user id).
type UserStore interface {
	LoadUser(ctx context.Context, l *ResourceLink, id string) (*User, error)
	SaveUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, u *User) error
}

// ShareKeyStore persists share keys. Expired keys are purged before a load.
type ShareKeyStore interface {
	LoadShareKey(ctx context.Context, id string) (*ShareKey, error)
	SaveShareKey(ctx context.Context, k *ShareKey) error
	DeleteShareKey(ctx context.Context, id string) error
}

// NonceStore persists nonces. Expired nonces are purged before a load.
type NonceStore interface {
	// LoadNonce reports whether an unexpired (consumerKey, value) exists.
	LoadNonce(ctx context.Context, consumerKey, value string) (bool, error)
	SaveNonce(ctx context.Context, n Nonce) error
	// CheckAndRecordNonce atomically records n and reports whether it was
	// already present (true means replay).
	CheckAndRecordNonce(ctx context.Context, n Nonce) (bool, error)
}

// Store is the full storage port of the tool provider.
type Store interface {
	ToolConsumerStore
	ResourceLinkStore
	UserStore
	ShareKeyStore
	NonceStore

	// Atomically runs fn against a store whose writes commit together or
	// not at all.
	Atomically(ctx context.Context, fn func(Store) error) error
}
