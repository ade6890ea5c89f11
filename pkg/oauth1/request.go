// pkg/oauth1/request.go
package oauth1

import (
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the only protocol version accepted and emitted.
const Version = "1.0"

// Well-known protocol parameter names.
const (
	ParamConsumerKey     = "oauth_consumer_key"
	ParamToken           = "oauth_token"
	ParamSignature       = "oauth_signature"
	ParamSignatureMethod = "oauth_signature_method"
	ParamTimestamp       = "oauth_timestamp"
	ParamNonce           = "oauth_nonce"
	ParamVersion         = "oauth_version"
	ParamCallback        = "oauth_callback"
	ParamBodyHash        = "oauth_body_hash"
)

// Request is the canonical model of a request to be signed or verified:
// an HTTP method, an absolute URL and a multi-valued parameter map.
//
// A Request is not safe for concurrent mutation; build it, then sign or verify.
type Request struct {
	Method string
	URL    string
	params url.Values
}

// NewRequest builds a Request. Parameters found in the URL query are merged
// in first and are overridden by params with the same name.
func NewRequest(method, rawURL string, params url.Values) *Request {
	merged := url.Values{}
	if u, err := url.Parse(rawURL); err == nil {
		for k, vs := range u.Query() {
			merged[k] = append([]string(nil), vs...)
		}
	}
	for k, vs := range params {
		merged[k] = append([]string(nil), vs...)
	}
	return &Request{Method: method, URL: rawURL, params: merged}
}

// FromConsumerAndToken builds an outbound request carrying the default
// protocol parameters (version, nonce, timestamp, consumer key and token).
func FromConsumerAndToken(c Consumer, t *Token, method, rawURL string, params url.Values) *Request {
	defaults := url.Values{}
	defaults.Set(ParamVersion, Version)
	defaults.Set(ParamNonce, generateNonce())
	defaults.Set(ParamTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	defaults.Set(ParamConsumerKey, c.Key)
	if t != nil {
		defaults.Set(ParamToken, t.Key)
	}
	for k, vs := range params {
		defaults[k] = append([]string(nil), vs...)
	}
	return NewRequest(method, rawURL, defaults)
}

// AddParameter sets name to value. With allowDuplicates an existing value is
// kept and value is appended after it; otherwise it is overwritten.
func (r *Request) AddParameter(name, value string, allowDuplicates bool) {
	if allowDuplicates {
		r.params.Add(name, value)
		return
	}
	r.params.Set(name, value)
}

// RemoveParameter drops every value of name.
func (r *Request) RemoveParameter(name string) { r.params.Del(name) }

// Get returns the first value of name ("" when absent).
func (r *Request) Get(name string) string { return r.params.Get(name) }

// Has reports whether name is present, even with an empty value.
func (r *Request) Has(name string) bool {
	_, ok := r.params[name]
	return ok
}

// Parameters returns a copy of the parameter map.
func (r *Request) Parameters() url.Values {
	out := make(url.Values, len(r.params))
	for k, vs := range r.params {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// SignableParameters serializes every parameter except oauth_signature.
func (r *Request) SignableParameters() string {
	return normalizeParameters(r.params, ParamSignature)
}

// NormalizedURL returns the URL as it takes part in the base string.
func (r *Request) NormalizedURL() string { return normalizeURL(r.URL) }

// NormalizedMethod returns the upper-cased HTTP method.
func (r *Request) NormalizedMethod() string { return strings.ToUpper(r.Method) }

// SignatureBaseString returns METHOD&enc(url)&enc(params).
func (r *Request) SignatureBaseString() string {
	return Encode(r.NormalizedMethod()) + "&" + Encode(r.NormalizedURL()) + "&" + Encode(r.SignableParameters())
}

// Sign sets oauth_signature_method and oauth_signature using m.
func (r *Request) Sign(m SignatureMethod, c Consumer, t *Token) {
	r.params.Set(ParamSignatureMethod, m.Name())
	r.params.Set(ParamSignature, m.BuildSignature(r, c, t))
}

// AuthorizationHeader renders the oauth_* parameters as an OAuth
// Authorization header value. An empty realm is still emitted.
func (r *Request) AuthorizationHeader(realm string) string {
	keys := make([]string, 0, len(r.params))
	for k := range r.params {
		if strings.HasPrefix(k, "oauth") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`OAuth realm="`)
	b.WriteString(Encode(realm))
	b.WriteByte('"')
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(Encode(k))
		b.WriteString(`="`)
		b.WriteString(Encode(r.params.Get(k)))
		b.WriteByte('"')
	}
	return b.String()
}

// PostBody form-encodes every parameter, skipping the names in omit.
func (r *Request) PostBody(omit ...string) string {
	return normalizeParameters(r.params, omit...)
}

// ParseAuthorizationHeader extracts the parameters of an "OAuth ..." header.
// realm is dropped. ok is false when h is not an OAuth header.
func ParseAuthorizationHeader(h string) (params url.Values, ok bool) {
	h = strings.TrimSpace(h)
	if !strings.HasPrefix(h, "OAuth ") {
		return nil, false
	}
	params = url.Values{}
	for _, part := range strings.Split(h[len("OAuth "):], ",") {
		part = strings.TrimSpace(part)
		i := strings.IndexByte(part, '=')
		if i <= 0 {
			continue
		}
		name := Decode(strings.TrimSpace(part[:i]))
		value := strings.Trim(strings.TrimSpace(part[i+1:]), `"`)
		if name == "realm" {
			continue
		}
		params.Set(name, Decode(value))
	}
	return params, true
}

// BodyHash returns base64(SHA-1(body)) as used by oauth_body_hash.
func BodyHash(body []byte) string {
	sum := sha1.Sum(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func generateNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
