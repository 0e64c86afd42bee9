// Package auth resolves the caller identity of an HTTP request.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated indicates the request carries no valid identity.
var ErrUnauthenticated = errors.New("not authenticated")

// Identity is an authenticated caller.
type Identity struct {
	UserID string
}

// Authenticator extracts an Identity from a request.
// Implementations return an error wrapping ErrUnauthenticated when the
// request has no usable credentials.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// SessionCookie is the cookie consulted when no bearer token is present.
const SessionCookie = "__session"

// JWTAuthenticator validates a session JWT and uses its subject as the
// user ID. The token is read from an "Authorization: Bearer" header, or
// from the SessionCookie.
type JWTAuthenticator struct {
	keyFunc jwt.Keyfunc
	parser  *jwt.Parser
}

// JWTOption configures a JWTAuthenticator.
type JWTOption func(*jwtOptions)

type jwtOptions struct {
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// WithIssuer requires the iss claim to match.
func WithIssuer(iss string) JWTOption {
	return func(o *jwtOptions) { o.issuer = iss }
}

// WithAudience requires the aud claim to contain aud.
func WithAudience(aud string) JWTOption {
	return func(o *jwtOptions) { o.audience = aud }
}

// WithLeeway allows for clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) JWTOption {
	return func(o *jwtOptions) { o.leeway = d }
}

// WithTimeFunc overrides the clock used for expiry checks. For tests.
func WithTimeFunc(now func() time.Time) JWTOption {
	return func(o *jwtOptions) { o.now = now }
}

func buildParser(methods []string, opts []JWTOption) *jwt.Parser {
	var o jwtOptions
	for _, opt := range opts {
		opt(&o)
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if o.issuer != "" {
		popts = append(popts, jwt.WithIssuer(o.issuer))
	}
	if o.audience != "" {
		popts = append(popts, jwt.WithAudience(o.audience))
	}
	if o.leeway > 0 {
		popts = append(popts, jwt.WithLeeway(o.leeway))
	}
	if o.now != nil {
		popts = append(popts, jwt.WithTimeFunc(o.now))
	}
	return jwt.NewParser(popts...)
}

// NewHMACAuthenticator validates HS256/384/512 tokens signed with secret.
func NewHMACAuthenticator(secret []byte, opts ...JWTOption) (*JWTAuthenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty jwt secret")
	}
	return &JWTAuthenticator{
		keyFunc: func(*jwt.Token) (any, error) { return secret, nil },
		parser:  buildParser([]string{"HS256", "HS384", "HS512"}, opts),
	}, nil
}

// NewRSAAuthenticator validates RS256 tokens against a PEM public key.
func NewRSAAuthenticator(publicKeyPEM []byte, opts ...JWTOption) (*JWTAuthenticator, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	return newRSAAuthenticator(key, opts...), nil
}

func newRSAAuthenticator(key *rsa.PublicKey, opts ...JWTOption) *JWTAuthenticator {
	return &JWTAuthenticator{
		keyFunc: func(*jwt.Token) (any, error) { return key, nil },
		parser:  buildParser([]string{"RS256"}, opts),
	}
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: no session token", ErrUnauthenticated)
	}

	token, err := a.parser.ParseWithClaims(raw, &jwt.RegisteredClaims{}, a.keyFunc)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return Identity{UserID: sub}, nil
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// HeaderAuthenticator trusts a header set by an upstream proxy that has
// already authenticated the caller.
type HeaderAuthenticator struct {
	Header string
}

// Authenticate implements Authenticator.
func (a HeaderAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	id := strings.TrimSpace(r.Header.Get(a.Header))
	if id == "" {
		return Identity{}, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, a.Header)
	}
	return Identity{UserID: id}, nil
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
