// pkg/oauth1/signature.go
package oauth1

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
)

// Consumer identifies the party signing a request.
type Consumer struct {
	Key         string
	Secret      string
	CallbackURL string
}

// Token is an OAuth token. Launch verification uses an empty placeholder.
type Token struct {
	Key    string
	Secret string
}

// SignatureMethod produces and checks signatures over a Request.
type SignatureMethod interface {
	Name() string
	BuildSignature(r *Request, c Consumer, t *Token) string
	CheckSignature(r *Request, c Consumer, t *Token, signature string) bool
}

// HMACSHA1 is the HMAC-SHA1 signature method.
type HMACSHA1 struct{}

func (HMACSHA1) Name() string { return "HMAC-SHA1" }

// BuildSignature returns base64(HMAC-SHA1(enc(consumer secret)&enc(token secret), base string)).
func (HMACSHA1) BuildSignature(r *Request, c Consumer, t *Token) string {
	mac := hmac.New(sha1.New, []byte(signingKey(c, t)))
	mac.Write([]byte(r.SignatureBaseString()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (m HMACSHA1) CheckSignature(r *Request, c Consumer, t *Token, signature string) bool {
	return ConstantTimeEqual(m.BuildSignature(r, c, t), signature)
}

func signingKey(c Consumer, t *Token) string {
	tokenSecret := ""
	if t != nil {
		tokenSecret = t.Secret
	}
	return Encode(c.Secret) + "&" + Encode(tokenSecret)
}

// ConstantTimeEqual compares a and b without short-circuiting on the first
// differing byte. Empty inputs and length mismatches never match.
func ConstantTimeEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	var acc byte
	for i := 0; i < len(a); i++ {
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}
