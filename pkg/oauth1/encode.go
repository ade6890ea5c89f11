// pkg/oauth1/encode.go
package oauth1

import (
	"bytes"
	"net/url"
	"sort"
	"strings"
)

// unreserved characters per RFC 3986 section 2.3; everything else is escaped.
var noEscape = [256]bool{
	'A': true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true,
	'a': true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true, true,
	'0': true, true, true, true, true, true, true, true, true, true,
	'-': true,
	'.': true,
	'_': true,
	'~': true,
}

// Encode percent-encodes s per RFC 5849 section 3.6 (upper-case hex, spaces as %20).
func Encode(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if noEscape[s[i]] {
			n++
		} else {
			n += 3
		}
	}
	if n == len(s) {
		return s
	}
	p := make([]byte, 0, n)
	for i := 0; i < len(s); i++ {
		b := s[i]
		if noEscape[b] {
			p = append(p, b)
			continue
		}
		p = append(p, '%', "0123456789ABCDEF"[b>>4], "0123456789ABCDEF"[b&15])
	}
	return string(p)
}

// Decode reverses Encode. Invalid escapes are returned untouched.
func Decode(s string) string {
	v, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return v
}

type keyValue struct{ key, value []byte }

type byKeyValue []keyValue

func (p byKeyValue) Len() int      { return len(p) }
func (p byKeyValue) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p byKeyValue) Less(i, j int) bool {
	sgn := bytes.Compare(p[i].key, p[j].key)
	if sgn == 0 {
		sgn = bytes.Compare(p[i].value, p[j].value)
	}
	return sgn < 0
}

// normalizeParameters encodes every pair, sorts by (key, value) byte order and
// joins them as k=v&k=v. Names listed in skip are left out.
func normalizeParameters(params url.Values, skip ...string) string {
	p := make(byKeyValue, 0, len(params))
	for k, vs := range params {
		if contains(skip, k) {
			continue
		}
		ek := []byte(Encode(k))
		for _, v := range vs {
			p = append(p, keyValue{ek, []byte(Encode(v))})
		}
	}
	sort.Sort(p)

	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.Write(kv.key)
		b.WriteByte('=')
		b.Write(kv.value)
	}
	return b.String()
}

// normalizeURL lowercases scheme and host, drops the default port for the
// scheme, keeps the path and discards query and fragment.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + host + u.EscapedPath()
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
