// Package server runs the datagram pipeline: one accept loop feeding a
// bounded request queue, receiver tasks that turn requests into responses,
// and sender tasks that write those responses back to the wire.
package server

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/ssd-technologies/depot/internal/collection"
	"github.com/ssd-technologies/depot/internal/command"
	"github.com/ssd-technologies/depot/internal/config"
	"github.com/ssd-technologies/depot/internal/protocol"
	"github.com/ssd-technologies/depot/internal/ratelimit"
	"github.com/ssd-technologies/depot/internal/session"
	"github.com/ssd-technologies/depot/internal/transport"
	"github.com/ssd-technologies/depot/internal/users"
)

// Authorizer logs a user in or registers them.
type Authorizer interface {
	Authorize(ctx context.Context, login, password string) (string, users.Outcome, error)
}

// Tokens mints and checks session tokens.
type Tokens interface {
	Issue(issuer, username string) (string, error)
	Subject(token string) (string, bool)
}

// inbound is one decoded request and where it came from.
type inbound struct {
	req  protocol.Request
	from netip.AddrPort
}

// stats are monotonically increasing pipeline counters.
type stats struct {
	received  atomic.Int64
	malformed atomic.Int64
	limited   atomic.Int64
	authFails atomic.Int64
	sent      atomic.Int64
	sendFails atomic.Int64
}

// Server is the depot pipeline bound to one listener.
type Server struct {
	ln       *transport.Listener
	store    *collection.Store
	registry *command.Registry
	users    Authorizer
	tokens   Tokens
	limiter  *ratelimit.Limiter
	cfg      config.Server

	requests  chan inbound
	responses chan protocol.Response
	stats     stats
}

// New wires a Server. It does not start any goroutine.
func New(ln *transport.Listener, store *collection.Store, auth Authorizer, tokens Tokens, cfg config.Server) *Server {
	cfg.QueueCapacity = max(cfg.QueueCapacity, 1)
	cfg.Workers = max(cfg.Workers, 1)
	s := &Server{
		ln:        ln,
		store:     store,
		registry:  command.NewRegistry(),
		users:     auth,
		tokens:    tokens,
		limiter:   ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		cfg:       cfg,
		requests:  make(chan inbound, cfg.QueueCapacity),
		responses: make(chan protocol.Response, cfg.QueueCapacity),
	}
	s.RegisterCommands()
	return s
}

// RegisterCommands replaces the command table with the default set. It is
// safe to call while the server is running.
func (s *Server) RegisterCommands() {
	s.registry.Replace(command.Defaults(s.store))
}

// Registry exposes the command table.
func (s *Server) Registry() *command.Registry { return s.registry }

// Addr returns the listening address.
func (s *Server) Addr() string { return s.ln.Addr() }

// Reload replaces the in-memory collection with the persisted one.
func (s *Server) Reload(ctx context.Context) error {
	return s.store.Load(ctx)
}

func (s *Server) issuer() string { return session.DefaultIssuer }

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return s.cfg.ShutdownTimeout
}
