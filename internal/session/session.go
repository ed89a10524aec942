// Package session issues and checks the signed, short-lived credentials that
// bind a request to a username. Nothing is stored server-side: a token is
// valid exactly when its signature checks out and it has not expired.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultTTL is how long a freshly minted token stays valid.
	DefaultTTL = 5 * time.Minute
	// DefaultIssuer is stamped into tokens minted by the server.
	DefaultIssuer = "server"

	minKeyLen = 32
)

// ErrInvalid is returned by Parse for any token that is not acceptable.
var ErrInvalid = errors.New("session token is invalid or expired")

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock replaces time.Now for both minting and validation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager mints and verifies HS256 tokens with a key known only to the
// server process. It is immutable after New and safe for concurrent use.
type Manager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// New creates a Manager. The key must be at least 32 bytes.
func New(key []byte, opts ...Option) (*Manager, error) {
	if len(key) < minKeyLen {
		return nil, fmt.Errorf("session key must be at least %d bytes, got %d", minKeyLen, len(key))
	}
	m := &Manager{
		key: append([]byte(nil), key...),
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the lifetime of minted tokens.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue mints a token for username.
func (m *Manager) Issue(issuer, username string) (string, error) {
	if username == "" {
		return "", errors.New("issue token: empty username")
	}
	now := m.now()
	claims := jwt.RegisteredClaims{
		ID:        ulid.Make().String(),
		Issuer:    issuer,
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Parse verifies token and returns its claims. Every failure, whatever the
// cause, is reported as ErrInvalid wrapping the underlying reason.
func (m *Manager) Parse(token string) (*jwt.RegisteredClaims, error) {
	if token == "" {
		return nil, ErrInvalid
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Validate reports whether token has a good signature and has not expired.
func (m *Manager) Validate(token string) bool {
	_, err := m.Parse(token)
	return err == nil
}

// Subject returns the username a valid token was minted for. ok is false for
// any token that does not validate; callers must then treat the request as
// unauthenticated, never as coming from an empty username.
func (m *Manager) Subject(token string) (username string, ok bool) {
	claims, err := m.Parse(token)
	if err != nil {
		return "", false
	}
	return claims.Subject, true
}
