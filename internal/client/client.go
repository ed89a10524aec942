// Package client talks to a depot server: every call passes the circuit
// breaker, is matched to its reply by correlation id, and keeps the session
// token current.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/ssd-technologies/depot/internal/breaker"
	"github.com/ssd-technologies/depot/internal/command"
	"github.com/ssd-technologies/depot/internal/protocol"
	"github.com/ssd-technologies/depot/internal/transport"
)

var (
	// ErrCircuitOpen is returned without touching the network while the
	// breaker is open.
	ErrCircuitOpen = breaker.ErrOpen
	// ErrUnauthenticated means the client holds no valid token.
	ErrUnauthenticated = errors.New("not authenticated, authorize again")
	// ErrUnknownCommand is returned for names missing from the catalogue.
	ErrUnknownCommand = errors.New("unknown command")
)

// Conn is a datagram channel to the server.
type Conn interface {
	Send(payload []byte) error
	Receive() ([]byte, error)
}

// Client is one connection to the server. Calls are serialized.
type Client struct {
	conn Conn
	br   *breaker.Breaker

	mu        sync.Mutex
	token     string
	catalogue *command.Catalogue
}

// New creates a Client over conn guarded by br.
func New(conn Conn, br *breaker.Breaker) *Client {
	return &Client{conn: conn, br: br}
}

// Call sends req and waits for the response carrying the same id. Replies
// to earlier requests that arrive late are discarded. Transport failures
// count against the breaker; any decoded reply counts as a success.
func (c *Client) Call(req protocol.Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call(req)
}

func (c *Client) call(req protocol.Request) (protocol.Response, error) {
	if err := c.br.Allow(); err != nil {
		return protocol.Response{}, err
	}

	resp, err := c.roundTrip(req)
	if err != nil {
		c.br.Failure()
		glog.V(2).Infof("[client] %s %q failed (breaker %s): %v", req.Kind, req.Message, c.br.State(), err)
		return protocol.Response{}, err
	}
	c.br.Success()

	switch {
	case resp.Kind == protocol.KindAuthError:
		c.token = ""
	case resp.Token != "":
		c.token = resp.Token
	}
	return resp, nil
}

func (c *Client) roundTrip(req protocol.Request) (protocol.Response, error) {
	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		return protocol.Response{}, err
	}
	if err := c.conn.Send(payload); err != nil {
		return protocol.Response{}, err
	}
	for {
		data, err := c.conn.Receive()
		if err != nil {
			return protocol.Response{}, err
		}
		resp, err := protocol.DecodeResponse(data)
		if err != nil {
			glog.Warningf("[client] dropping undecodable reply: %v", err)
			continue
		}
		if resp.ID != req.ID {
			glog.V(2).Infof("[client] dropping stale reply %s", resp.ID)
			continue
		}
		return resp, nil
	}
}

// Ping measures the round trip to the server.
func (c *Client) Ping() (time.Duration, error) {
	start := time.Now()
	resp, err := c.Call(protocol.NewRequest(protocol.KindPing, "", nil, ""))
	if err != nil {
		return 0, err
	}
	if resp.Kind != protocol.KindSystem {
		return 0, fmt.Errorf("unexpected ping reply %s: %s", resp.Kind, resp.Message)
	}
	return time.Since(start), nil
}

// Initialize fetches the command catalogue and keeps it for validating
// later Exec calls.
func (c *Client) Initialize() (command.Catalogue, error) {
	resp, err := c.Call(protocol.NewRequest(protocol.KindInitialize, "", nil, ""))
	if err != nil {
		return command.Catalogue{}, err
	}
	if resp.Kind != protocol.KindSystem {
		return command.Catalogue{}, fmt.Errorf("initialize: %s: %s", resp.Kind, resp.Message)
	}
	var cat command.Catalogue
	if err := json.Unmarshal([]byte(resp.Message), &cat); err != nil {
		return command.Catalogue{}, fmt.Errorf("decode catalogue: %w", err)
	}

	c.mu.Lock()
	c.catalogue = &cat
	c.mu.Unlock()
	return cat, nil
}

// Authorize logs in, or registers on first use, and keeps the token.
// It returns the server's message ("Authorized" or "Registered").
func (c *Client) Authorize(username, password string) (string, error) {
	resp, err := c.Call(protocol.NewRequest(protocol.KindAuthorize, protocol.AuthLogin, map[string]string{
		protocol.ArgUsername: username,
		protocol.ArgPassword: password,
	}, ""))
	if err != nil {
		return "", err
	}
	switch resp.Kind {
	case protocol.KindOK:
		return resp.Message, nil
	case protocol.KindAuthError:
		return "", fmt.Errorf("%w: %s", ErrUnauthenticated, resp.Message)
	}
	return "", fmt.Errorf("authorize: %s: %s", resp.Kind, resp.Message)
}

// Logout forgets the token. Tokens are stateless, so the server only
// acknowledges.
func (c *Client) Logout() error {
	_, err := c.Call(protocol.NewRequest(protocol.KindAuthorize, protocol.AuthLogout, nil, ""))
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return err
}

// Exec runs a command. OK and ERROR replies are both returned as responses;
// the error is reserved for transport, breaker and session failures.
func (c *Client) Exec(name string, args map[string]string) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" {
		return protocol.Response{}, ErrUnauthenticated
	}
	if err := c.checkArgs(name, args); err != nil {
		return protocol.Response{}, err
	}

	resp, err := c.call(protocol.NewRequest(protocol.KindExec, name, args, c.token))
	if err != nil {
		return protocol.Response{}, err
	}
	if resp.Kind == protocol.KindAuthError {
		return resp, fmt.Errorf("%w: %s", ErrUnauthenticated, resp.Message)
	}
	return resp, nil
}

// checkArgs validates name and args against the catalogue, if one was
// fetched. Without a catalogue the server is the only judge.
func (c *Client) checkArgs(name string, args map[string]string) error {
	if c.catalogue == nil {
		return nil
	}
	schema, err := c.catalogue.Schema(name)
	if err != nil {
		return fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
	names := schema.Names()
	for _, n := range names {
		if _, ok := args[n]; !ok {
			return fmt.Errorf("%s: missing argument %q", name, n)
		}
	}
	for n := range args {
		if !slices.Contains(names, n) {
			return fmt.Errorf("%s: unexpected argument %q", name, n)
		}
	}
	return nil
}

// Catalogue returns the last fetched catalogue.
func (c *Client) Catalogue() (command.Catalogue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.catalogue == nil {
		return command.Catalogue{}, false
	}
	return *c.catalogue, true
}

// Token returns the current session token, or "" when logged out.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Breaker exposes the breaker state for display.
func (c *Client) Breaker() breaker.State { return c.br.State() }

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool { return errors.Is(err, transport.ErrTimeout) }
