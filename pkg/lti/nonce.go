// pkg/lti/nonce.go
package lti

import (
	"encoding/base64"
	"time"
)

const (
	// MaxNonceAge is how long a recorded nonce blocks replays.
	MaxNonceAge = 30 * time.Minute
	// MaxNonceLength is the longest stored nonce value.
	MaxNonceLength = 32
)

// Nonce is a recorded oauth_nonce for one consumer.
type Nonce struct {
	ConsumerKey string
	Value       string
	ExpiresAt   time.Time
}

// NewNonce normalizes raw and stamps the expiry relative to now.
//
// Values longer than MaxNonceLength are base64-decoded; the decoded form is
// kept only if every byte is printable ASCII. Anything still too long is
// truncated.
func NewNonce(consumerKey, raw string, now time.Time) Nonce {
	v := raw
	if len(v) > MaxNonceLength {
		if dec, ok := decodePrintable(v); ok {
			v = dec
		}
	}
	if len(v) > MaxNonceLength {
		v = v[:MaxNonceLength]
	}
	return Nonce{ConsumerKey: consumerKey, Value: v, ExpiresAt: now.Add(MaxNonceAge)}
}

// Expired reports whether the nonce no longer blocks replays at now.
func (n Nonce) Expired(now time.Time) bool { return !n.ExpiresAt.After(now) }

// TTL returns the remaining life at now (never negative).
func (n Nonce) TTL(now time.Time) time.Duration {
	if d := n.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

func decodePrintable(s string) (string, bool) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return "", false
		}
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7f {
			return "", false
		}
	}
	return string(b), true
}
