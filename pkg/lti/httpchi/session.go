// pkg/lti/httpchi/session.go
package httpchi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

// SessionCookie carries the session token for browser follow-ups.
const SessionCookie = "lti_session"

const sessionIssuer = "mindengage-lti-provider"

// SessionClaims describe an accepted launch.
type SessionClaims struct {
	ConsumerKey    string   `json:"consumer_key"`
	ResourceLinkID string   `json:"resource_link_id"`
	UserID         string   `json:"user_id"`
	Roles          []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// SessionIssuer mints and checks HS256 tool session tokens.
type SessionIssuer struct {
	hmac []byte
	ttl  time.Duration
	now  func() time.Time
}

// NewSessionIssuer returns nil when secret is empty, which disables sessions.
func NewSessionIssuer(secret string, ttl time.Duration) *SessionIssuer {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &SessionIssuer{hmac: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue mints a token for the launch; the subject is the user id scoped by
// the consumer's id scope.
func (s *SessionIssuer) Issue(c *lti.ToolConsumer, l *lti.ResourceLink, u *lti.User) (string, error) {
	now := s.now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	if c != nil {
		claims.ConsumerKey = c.Key
	}
	if l != nil {
		claims.ResourceLinkID = l.ID
	}
	if u != nil {
		scope := lti.IDScopeIDOnly
		if c != nil {
			scope = c.IDScope
		}
		claims.UserID = u.ScopedID(scope)
		claims.Subject = claims.UserID
		claims.Roles = u.Roles
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.hmac)
}

// Parse validates tok and returns its claims.
func (s *SessionIssuer) Parse(tok string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tok, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("httpchi: invalid session")
	}
	return c, nil
}

// RequireSession accepts a Bearer token or the session cookie and puts the
// claims on the request context.
func (s *SessionIssuer) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tok = strings.TrimPrefix(h, "Bearer ")
		} else if c, err := r.Cookie(SessionCookie); err == nil {
			tok = c.Value
		}
		if tok == "" {
			http.Error(w, "missing session", http.StatusUnauthorized)
			return
		}
		claims, err := s.Parse(tok)
		if err != nil {
			http.Error(w, "bad session", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), claims)))
	})
}

type ctxKey string

const ctxKeySession ctxKey = "lti_session"

func WithSession(ctx context.Context, c *SessionClaims) context.Context {
	return context.WithValue(ctx, ctxKeySession, c)
}

// SessionFromContext returns nil outside RequireSession.
func SessionFromContext(ctx context.Context) *SessionClaims {
	c, _ := ctx.Value(ctxKeySession).(*SessionClaims)
	return c
}
