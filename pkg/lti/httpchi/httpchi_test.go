package httpchi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
	"github.com/mind-engage/mindengage-lti-provider/pkg/oauth1"
	"github.com/mind-engage/mindengage-lti-provider/pkg/storage/memory"
)

const publicURL = "https://tool.example.com"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newHandler(t *testing.T) (*Handler, *memory.Store) {
	t.Helper()
	st := memory.New()
	st.Now = clock
	c := lti.NewToolConsumer("ck1", true)
	c.Secret = "secret1"
	require.NoError(t, st.SaveToolConsumer(context.Background(), c))

	sessions := NewSessionIssuer("session-secret", time.Hour)
	sessions.now = clock
	return &Handler{
		Store:     st,
		Options:   lti.Options{Now: clock},
		Sessions:  sessions,
		PublicURL: publicURL,
	}, st
}

func signedForm(t *testing.T, secret, nonce string, extra url.Values) url.Values {
	t.Helper()
	p := url.Values{}
	p.Set("lti_message_type", "basic-lti-launch-request")
	p.Set("lti_version", "LTI-1p0")
	p.Set("resource_link_id", "rl1")
	p.Set("user_id", "u1")
	p.Set("roles", "Instructor")
	p.Set("lis_person_name_full", "Ada Lovelace")
	for k, vs := range extra {
		p[k] = vs
	}
	p.Set(oauth1.ParamConsumerKey, "ck1")
	p.Set(oauth1.ParamNonce, nonce)
	p.Set(oauth1.ParamTimestamp, strconv.FormatInt(fixedNow.Unix(), 10))
	p.Set(oauth1.ParamVersion, oauth1.Version)
	r := oauth1.NewRequest("POST", publicURL+"/lti/launch", p)
	r.Sign(oauth1.HMACSHA1{}, oauth1.Consumer{Key: "ck1", Secret: secret}, nil)
	return r.Parameters()
}

// mount serves the handler the way the server does, under /lti.
func mount(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Mount("/lti", h.Routes())
	return r
}

func postForm(h http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/lti/launch", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLaunch_ProceedReturnsJSONAndCookie(t *testing.T) {
	h, st := newHandler(t)
	rec := postForm(mount(h), signedForm(t, "secret1", "n1", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out launchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "ck1", out.ConsumerKey)
	assert.Equal(t, "rl1", out.ResourceLinkID)
	assert.Equal(t, "u1", out.UserID)
	assert.Equal(t, "Ada Lovelace", out.Fullname)
	assert.Contains(t, out.Roles, "urn:lti:role:ims/lis/Instructor")
	require.NotEmpty(t, out.Token)

	claims, err := h.Sessions.Parse(out.Token)
	require.NoError(t, err)
	assert.Equal(t, "ck1", claims.ConsumerKey)
	assert.Equal(t, "u1", claims.Subject)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	_, err = st.LoadResourceLink(context.Background(), "ck1", "rl1")
	require.NoError(t, err)
}

func TestLaunch_SuccessRedirect(t *testing.T) {
	h, _ := newHandler(t)
	h.SuccessRedirect = "https://app.example.com/start?x=1"
	rec := postForm(mount(h), signedForm(t, "secret1", "n1", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, "1", loc.Query().Get("x"))
	assert.Equal(t, "ck1", loc.Query().Get("consumer_key"))
	assert.Equal(t, "rl1", loc.Query().Get("resource_link_id"))
}

func TestLaunch_BadSignatureRendersEscapedPage(t *testing.T) {
	h, _ := newHandler(t)
	rec := postForm(mount(h), signedForm(t, "wrong", "n1", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Sorry, there was an error connecting you to the application.")
	assert.Empty(t, rec.Result().Cookies())
}

func TestLaunch_ErrorRedirectsToReturnURL(t *testing.T) {
	h, _ := newHandler(t)
	form := signedForm(t, "wrong", "n1", url.Values{"launch_presentation_return_url": {"https://lms.example.edu/return"}})
	rec := postForm(mount(h), form)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "lms.example.edu", loc.Host)
	assert.NotEmpty(t, loc.Query().Get("lti_errormsg"))
}

func TestLaunch_ReplayRejected(t *testing.T) {
	h, _ := newHandler(t)
	routes := mount(h)
	form := signedForm(t, "secret1", "same-nonce", nil)
	require.Equal(t, http.StatusOK, postForm(routes, form).Code)
	assert.Equal(t, http.StatusBadRequest, postForm(routes, form).Code)
}

func TestSessionEndpoint(t *testing.T) {
	h, _ := newHandler(t)
	routes := mount(h)
	tok, err := h.Sessions.Issue(&lti.ToolConsumer{Key: "ck1"}, lti.NewResourceLink("ck1", "rl1"), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/lti/session", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/lti/session", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tok})
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var claims SessionClaims
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claims))
	assert.Equal(t, "rl1", claims.ResourceLinkID)

	req = httptest.NewRequest(http.MethodGet, "/lti/session", nil)
	req.Header.Set("Authorization", "Bearer "+tok+"x")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionIssuer_Expiry(t *testing.T) {
	s := NewSessionIssuer("k", time.Minute)
	s.now = clock
	tok, err := s.Issue(nil, nil, nil)
	require.NoError(t, err)

	s.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	_, err = s.Parse(tok)
	assert.Error(t, err)

	assert.Nil(t, NewSessionIssuer("", time.Minute))
}

func TestLaunchRequestFromHTTP_URL(t *testing.T) {
	tests := []struct {
		name      string
		publicURL string
		headers   map[string]string
		tls       bool
		want      string
	}{
		{"public url wins", "https://tool.example.com/", map[string]string{"X-Forwarded-Proto": "http"}, false, "https://tool.example.com/lti/launch?a=1"},
		{"forwarded headers", "", map[string]string{"X-Forwarded-Proto": "https, http", "X-Forwarded-Host": "proxy.example.com"}, false, "https://proxy.example.com/lti/launch?a=1"},
		{"tls", "", nil, true, "https://example.com/lti/launch?a=1"},
		{"plain", "", nil, false, "http://example.com/lti/launch?a=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "http://example.com/lti/launch?a=1", strings.NewReader("b=2&b=3"))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.URL.Scheme = ""
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.tls {
				req.TLS = &tls.ConnectionState{}
			}
			lr, err := LaunchRequestFromHTTP(httptest.NewRecorder(), req, tt.publicURL)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lr.URL)
			assert.Equal(t, []string{"2", "3"}, lr.Params["b"])
			assert.False(t, lr.Params.Has("a"), "query values stay on the URL")
		})
	}
}

func TestRateLimiter(t *testing.T) {
	assert.Nil(t, NewRateLimiter(0, 5))

	l := NewRateLimiter(1, 2)
	l.now = clock
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := l.Middleware(ok)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "192.0.2.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code, "separate bucket per client")
}
