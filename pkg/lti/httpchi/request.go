// pkg/lti/httpchi/request.go
package httpchi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

// maxLaunchBody bounds the form a consumer may post.
const maxLaunchBody = 1 << 20

// LaunchRequestFromHTTP captures the launch as the consumer signed it. The
// URL is rebuilt from publicURL when set, otherwise from the request and
// proxy headers. Only form body values go into Params; query values stay
// on the URL.
func LaunchRequestFromHTTP(w http.ResponseWriter, r *http.Request, publicURL string) (lti.LaunchRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLaunchBody)
	if err := r.ParseForm(); err != nil {
		return lti.LaunchRequest{}, fmt.Errorf("httpchi: parse form: %w", err)
	}
	params := make(url.Values, len(r.PostForm))
	for k, vs := range r.PostForm {
		params[k] = append([]string(nil), vs...)
	}
	return lti.LaunchRequest{
		Method:        r.Method,
		URL:           externalURL(r, publicURL),
		Params:        params,
		Authorization: r.Header.Get("Authorization"),
	}, nil
}

func externalURL(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/") + r.URL.RequestURI()
	}
	host := r.Host
	if xh := r.Header.Get("X-Forwarded-Host"); xh != "" {
		host = firstValue(xh)
	}
	return schemeFromRequest(r) + "://" + host + r.URL.RequestURI()
}

// schemeFromRequest returns "https" when behind a proxy that sets X-Forwarded-Proto,
// otherwise falls back to r.URL.Scheme or "http".
func schemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		return firstValue(xf)
	}
	if r.URL != nil && r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// firstValue takes the first entry of a comma-separated proxy header.
func firstValue(h string) string {
	if i := strings.IndexByte(h, ','); i >= 0 {
		return strings.TrimSpace(h[:i])
	}
	return strings.TrimSpace(h)
}
