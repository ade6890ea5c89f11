// pkg/lti/sharekey.go
package lti

import (
	"crypto/rand"
	"math/big"
	"time"
)

const (
	MaxShareKeyLife     = 168 // hours
	DefaultShareKeyLife = 24  // hours
	MinShareKeyLength   = 5
	MaxShareKeyLength   = 32
)

// ShareKey is a single-use capability granting access to a primary link.
type ShareKey struct {
	ID                    string    `json:"id"`
	PrimaryConsumerKey    string    `json:"primary_consumer_key"`
	PrimaryResourceLinkID string    `json:"primary_resource_link_id"`
	AutoApprove           bool      `json:"auto_approve"`
	Life                  int       `json:"life"`
	Length                int       `json:"length"`
	ExpiresAt             time.Time `json:"expires_at"`
}

// NewShareKey builds a key for primary. life is in hours: 0 means the
// default, negative values clamp to 0 and the maximum is one week. length is
// clamped to [MinShareKeyLength, MaxShareKeyLength]; 0 means the maximum.
func NewShareKey(primary *ResourceLink, autoApprove bool, life, length int, now time.Time) *ShareKey {
	switch {
	case life == 0:
		life = DefaultShareKeyLife
	case life < 0:
		life = 0
	case life > MaxShareKeyLife:
		life = MaxShareKeyLife
	}
	switch {
	case length == 0:
		length = MaxShareKeyLength
	case length < MinShareKeyLength:
		length = MinShareKeyLength
	case length > MaxShareKeyLength:
		length = MaxShareKeyLength
	}
	return &ShareKey{
		ID:                    RandomString(length),
		PrimaryConsumerKey:    primary.ConsumerKey,
		PrimaryResourceLinkID: primary.ID,
		AutoApprove:           autoApprove,
		Life:                  life,
		Length:                length,
		ExpiresAt:             now.Add(time.Duration(life) * time.Hour),
	}
}

// Expired reports whether the key can no longer be redeemed at now.
func (k *ShareKey) Expired(now time.Time) bool { return !k.ExpiresAt.After(now) }

// ResourceLinkShare describes a link that is sharing another link.
type ResourceLinkShare struct {
	ConsumerKey    string `json:"consumer_key"`
	ResourceLinkID string `json:"resource_link_id"`
	Title          string `json:"title"`
	Approved       bool   `json:"approved"`
}

const randomChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString returns n characters drawn uniformly from [A-Za-z0-9].
func RandomString(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(randomChars)))
	for i := range b {
		x, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("lti: crypto/rand unavailable: " + err.Error())
		}
		b[i] = randomChars[x.Int64()]
	}
	return string(b)
}
