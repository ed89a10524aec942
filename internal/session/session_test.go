package session

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func testManager(t *testing.T, c *clock) *Manager {
	t.Helper()
	m, err := New(testKey, WithClock(c.Now))
	require.NoError(t, err)
	return m
}

func TestIssueAndValidate(t *testing.T) {
	c := &clock{now: time.Now()}
	m := testManager(t, c)

	token, err := m.Issue(DefaultIssuer, "alice")
	require.NoError(t, err)
	assert.True(t, m.Validate(token))

	user, ok := m.Subject(token)
	assert.True(t, ok)
	assert.Equal(t, "alice", user)

	claims, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenExpiresAfterTTL(t *testing.T) {
	c := &clock{now: time.Now()}
	m := testManager(t, c)

	token, err := m.Issue(DefaultIssuer, "alice")
	require.NoError(t, err)

	c.now = c.now.Add(DefaultTTL - 2*time.Second)
	assert.True(t, m.Validate(token))

	c.now = c.now.Add(5 * time.Second)
	assert.False(t, m.Validate(token))
	_, ok := m.Subject(token)
	assert.False(t, ok)
}

func TestWithTTL(t *testing.T) {
	c := &clock{now: time.Now()}
	assert.Equal(t, DefaultTTL, testManager(t, c).TTL())

	m, err := New(testKey, WithClock(c.Now), WithTTL(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, m.TTL())

	token, err := m.Issue(DefaultIssuer, "alice")
	require.NoError(t, err)
	c.now = c.now.Add(m.TTL() + time.Second)
	assert.False(t, m.Validate(token))
}

func TestRefreshedTokensAreDistinct(t *testing.T) {
	c := &clock{now: time.Now()}
	m := testManager(t, c)

	a, err := m.Issue(DefaultIssuer, "alice")
	require.NoError(t, err)
	b, err := m.Issue(DefaultIssuer, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	// The older token keeps working until its own expiry.
	assert.True(t, m.Validate(a))
	assert.True(t, m.Validate(b))
}

func TestRejectsForeignAndMalformedTokens(t *testing.T) {
	c := &clock{now: time.Now()}
	m := testManager(t, c)

	other, err := New([]byte("ffffffffffffffffffffffffffffffff"), WithClock(c.Now))
	require.NoError(t, err)
	foreign, err := other.Issue(DefaultIssuer, "mallory")
	require.NoError(t, err)

	good, err := m.Issue(DefaultIssuer, "alice")
	require.NoError(t, err)
	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(c.now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "alice",
	}).SignedString(testKey)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"empty":     "",
		"garbage":   "not-a-token",
		"foreign":   foreign,
		"tampered":  tampered,
		"alg none":  unsigned,
		"no expiry": noExpiry,
	} {
		assert.False(t, m.Validate(tok), name)
		user, ok := m.Subject(tok)
		assert.False(t, ok, name)
		assert.Empty(t, user, name)
	}
}

func TestEmptySubjectIsNotAUser(t *testing.T) {
	c := &clock{now: time.Now()}
	m := testManager(t, c)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(c.now.Add(time.Minute)),
	}).SignedString(testKey)
	require.NoError(t, err)

	_, ok := m.Subject(tok)
	assert.False(t, ok)

	_, err = m.Issue(DefaultIssuer, "")
	assert.Error(t, err)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}
