// Package users authorizes clients: an unknown login is registered on first
// contact, a known one must present the matching password.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/ssd-technologies/depot/internal/collection"
	"github.com/ssd-technologies/depot/internal/crypto"
	"github.com/ssd-technologies/depot/internal/storage"
)

var (
	ErrWrongPassword = errors.New("wrong password")
	ErrEmptyLogin    = errors.New("login must not be empty")
	// ErrReservedLogin is returned when a client tries to register the
	// admin login. The admin account only exists once SeedAdmin ran.
	ErrReservedLogin = errors.New("login is reserved")
)

// Outcome says which branch Authorize took.
type Outcome int

const (
	LoggedIn Outcome = iota
	Registered
)

func (o Outcome) String() string {
	if o == Registered {
		return "Registered"
	}
	return "Authorized"
}

// Store is the user table.
type Store interface {
	CreateUser(ctx context.Context, login, passwordHash string) error
	GetUser(ctx context.Context, login string) (*storage.User, error)
	SetUserPassword(ctx context.Context, login, passwordHash string) error
}

// Issuer mints session tokens.
type Issuer interface {
	Issue(issuer, username string) (string, error)
}

// Manager ties the user table to password hashing and token minting.
type Manager struct {
	store  Store
	tokens Issuer
	issuer string
	admin  string
	hash   func(string) string
}

// NewManager creates a Manager. issuer is stamped into every token.
func NewManager(store Store, tokens Issuer, issuer string) *Manager {
	return &Manager{
		store:  store,
		tokens: tokens,
		issuer: issuer,
		admin:  collection.DefaultAdmin,
		hash:   crypto.HashPassword,
	}
}

// WithAdmin sets the login that bypasses ownership. It can never be
// registered through Authorize.
func (m *Manager) WithAdmin(login string) *Manager {
	m.admin = strings.TrimSpace(login)
	return m
}

// SeedAdmin creates the admin account, or resets its password, so that the
// configured password is the only way in.
func (m *Manager) SeedAdmin(ctx context.Context, password string) error {
	if password == "" {
		return errors.New("admin password must not be empty")
	}
	if err := m.store.SetUserPassword(ctx, m.admin, m.hash(password)); err != nil {
		return fmt.Errorf("seed admin %s: %w", m.admin, err)
	}
	glog.Infof("[users] admin account %s ready", m.admin)
	return nil
}

// WithParams makes the Manager hash new passwords with p. Tests use cheap
// parameters to keep argon2 fast.
func (m *Manager) WithParams(p crypto.Params) *Manager {
	m.hash = func(pw string) string { return crypto.HashPasswordWith(pw, p) }
	return m
}

// Authorize logs login in, registering it first if it does not exist yet,
// and returns a fresh session token.
func (m *Manager) Authorize(ctx context.Context, login, password string) (string, Outcome, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return "", LoggedIn, ErrEmptyLogin
	}

	outcome := LoggedIn
	u, err := m.store.GetUser(ctx, login)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		if login == m.admin {
			glog.Warningf("[users] refused to register reserved login %s", login)
			return "", LoggedIn, ErrReservedLogin
		}
		err = m.store.CreateUser(ctx, login, m.hash(password))
		if errors.Is(err, storage.ErrUserExists) {
			// Lost a registration race; fall back to a normal login.
			return m.Authorize(ctx, login, password)
		}
		if err != nil {
			return "", LoggedIn, fmt.Errorf("register %s: %w", login, err)
		}
		outcome = Registered
		glog.Infof("[users] registered %s", login)
	case err != nil:
		return "", LoggedIn, fmt.Errorf("lookup %s: %w", login, err)
	default:
		if !crypto.VerifyPassword(password, u.PasswordHash) {
			glog.V(2).Infof("[users] wrong password for %s", login)
			return "", LoggedIn, ErrWrongPassword
		}
	}

	token, err := m.tokens.Issue(m.issuer, login)
	if err != nil {
		return "", outcome, fmt.Errorf("issue token: %w", err)
	}
	return token, outcome, nil
}
