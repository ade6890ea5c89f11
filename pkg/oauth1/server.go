// pkg/oauth1/server.go
package oauth1

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultTimestampThreshold is the maximum accepted clock skew.
const DefaultTimestampThreshold = 300 * time.Second

// DataStore supplies the lookups the verifier needs.
type DataStore interface {
	// LookupConsumer returns ErrNotFound when the key is unknown.
	LookupConsumer(ctx context.Context, key string) (Consumer, error)
	// LookupToken returns ErrNotFound when the token is unknown.
	LookupToken(ctx context.Context, c Consumer, tokenType, token string) (*Token, error)
	// LookupNonce reports whether the nonce was already used. When it was
	// not, the call must also record it: check and insert are one step.
	LookupNonce(ctx context.Context, c Consumer, t *Token, nonce string, timestamp int64) (bool, error)
	NewRequestToken(ctx context.Context, c Consumer, callback string) (*Token, error)
	NewAccessToken(ctx context.Context, t *Token, c Consumer, verifier string) (*Token, error)
}

// ErrNotFound is returned by DataStore lookups that miss.
var ErrNotFound = errors.New("oauth1: not found")

// ErrorKind classifies verification failures.
type ErrorKind string

const (
	UnsupportedVersion         ErrorKind = "unsupported_version"
	InvalidConsumer            ErrorKind = "invalid_consumer"
	InvalidToken               ErrorKind = "invalid_token"
	MissingTimestamp           ErrorKind = "missing_timestamp"
	ExpiredTimestamp           ErrorKind = "expired_timestamp"
	MissingNonce               ErrorKind = "missing_nonce"
	NonceReused                ErrorKind = "nonce_reused"
	MissingSignatureMethod     ErrorKind = "missing_signature_method"
	UnsupportedSignatureMethod ErrorKind = "unsupported_signature_method"
	InvalidSignature           ErrorKind = "invalid_signature"
)

// Error is a protocol-level verification failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return "oauth1: " + e.Message }

// Is matches on Kind so callers can write errors.Is(err, &oauth1.Error{Kind: ...}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func fail(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the ErrorKind of err, or "" if err is not a protocol error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Server verifies signed requests against a DataStore.
type Server struct {
	Store              DataStore
	TimestampThreshold time.Duration
	Now                func() time.Time

	methods map[string]SignatureMethod
}

// NewServer returns a Server with the default timestamp threshold and no
// signature methods registered.
func NewServer(store DataStore) *Server {
	return &Server{
		Store:              store,
		TimestampThreshold: DefaultTimestampThreshold,
		methods:            map[string]SignatureMethod{},
	}
}

// AddSignatureMethod registers m under its name.
func (s *Server) AddSignatureMethod(m SignatureMethod) {
	if s.methods == nil {
		s.methods = map[string]SignatureMethod{}
	}
	s.methods[m.Name()] = m
}

// VerifyRequest runs the full check sequence and returns the resolved
// consumer and token. The first failing step ends verification.
func (s *Server) VerifyRequest(ctx context.Context, r *Request) (Consumer, *Token, error) {
	if err := s.checkVersion(r); err != nil {
		return Consumer{}, nil, err
	}
	c, err := s.consumer(ctx, r)
	if err != nil {
		return Consumer{}, nil, err
	}
	t, err := s.token(ctx, r, c, "access")
	if err != nil {
		return Consumer{}, nil, err
	}
	if err := s.checkSignature(ctx, r, c, t); err != nil {
		return Consumer{}, nil, err
	}
	return c, t, nil
}

// FetchRequestToken verifies a request-token request (no token) and asks the
// store for a new request token.
func (s *Server) FetchRequestToken(ctx context.Context, r *Request) (*Token, error) {
	if err := s.checkVersion(r); err != nil {
		return nil, err
	}
	c, err := s.consumer(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := s.checkSignature(ctx, r, c, nil); err != nil {
		return nil, err
	}
	return s.Store.NewRequestToken(ctx, c, r.Get(ParamCallback))
}

// FetchAccessToken verifies a request signed with an authorized request
// token and asks the store to exchange it.
func (s *Server) FetchAccessToken(ctx context.Context, r *Request) (*Token, error) {
	if err := s.checkVersion(r); err != nil {
		return nil, err
	}
	c, err := s.consumer(ctx, r)
	if err != nil {
		return nil, err
	}
	t, err := s.token(ctx, r, c, "request")
	if err != nil {
		return nil, err
	}
	if err := s.checkSignature(ctx, r, c, t); err != nil {
		return nil, err
	}
	return s.Store.NewAccessToken(ctx, t, c, r.Get("oauth_verifier"))
}

/* ------------------------------- steps ----------------------------------- */

func (s *Server) checkVersion(r *Request) error {
	v := r.Get(ParamVersion)
	if v == "" {
		v = Version
	}
	if v != Version {
		return fail(UnsupportedVersion, "OAuth version '%s' not supported", v)
	}
	return nil
}

func (s *Server) consumer(ctx context.Context, r *Request) (Consumer, error) {
	key := r.Get(ParamConsumerKey)
	if key == "" {
		return Consumer{}, fail(InvalidConsumer, "invalid consumer key")
	}
	c, err := s.Store.LookupConsumer(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Consumer{}, fail(InvalidConsumer, "invalid consumer")
	}
	if err != nil {
		return Consumer{}, fmt.Errorf("oauth1: lookup consumer: %w", err)
	}
	return c, nil
}

func (s *Server) token(ctx context.Context, r *Request, c Consumer, tokenType string) (*Token, error) {
	field := r.Get(ParamToken)
	t, err := s.Store.LookupToken(ctx, c, tokenType, field)
	if errors.Is(err, ErrNotFound) || (err == nil && t == nil) {
		return nil, fail(InvalidToken, "invalid %s token: %s", tokenType, field)
	}
	if err != nil {
		return nil, fmt.Errorf("oauth1: lookup token: %w", err)
	}
	return t, nil
}

func (s *Server) checkSignature(ctx context.Context, r *Request, c Consumer, t *Token) error {
	ts, err := s.checkTimestamp(r.Get(ParamTimestamp))
	if err != nil {
		return err
	}
	if err := s.checkNonce(ctx, c, t, r.Get(ParamNonce), ts); err != nil {
		return err
	}
	m, err := s.signatureMethod(r)
	if err != nil {
		return err
	}
	if !m.CheckSignature(r, c, t, r.Get(ParamSignature)) {
		return fail(InvalidSignature, "invalid signature")
	}
	return nil
}

func (s *Server) checkTimestamp(raw string) (int64, error) {
	if raw == "" {
		return 0, fail(MissingTimestamp, "missing timestamp parameter. The parameter is required")
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fail(ExpiredTimestamp, "invalid timestamp %q", raw)
	}
	now := s.now().Unix()
	threshold := s.TimestampThreshold
	if threshold <= 0 {
		threshold = DefaultTimestampThreshold
	}
	skew := now - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(threshold/time.Second) {
		return 0, fail(ExpiredTimestamp, "expired timestamp, yours %d, ours %d", ts, now)
	}
	return ts, nil
}

func (s *Server) checkNonce(ctx context.Context, c Consumer, t *Token, nonce string, ts int64) error {
	if nonce == "" {
		return fail(MissingNonce, "missing nonce parameter. The parameter is required")
	}
	found, err := s.Store.LookupNonce(ctx, c, t, nonce, ts)
	if err != nil {
		return fmt.Errorf("oauth1: lookup nonce: %w", err)
	}
	if found {
		return fail(NonceReused, "nonce already used: %s", nonce)
	}
	return nil
}

func (s *Server) signatureMethod(r *Request) (SignatureMethod, error) {
	name := r.Get(ParamSignatureMethod)
	if name == "" {
		return nil, fail(MissingSignatureMethod, "no signature method parameter. This parameter is required")
	}
	m, ok := s.methods[name]
	if !ok {
		names := make([]string, 0, len(s.methods))
		for n := range s.methods {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fail(UnsupportedSignatureMethod, "signature method '%s' not supported try one of the following: %s", name, strings.Join(names, ", "))
	}
	return m, nil
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
