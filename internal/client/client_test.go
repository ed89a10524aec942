package client

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/depot/internal/breaker"
	"github.com/ssd-technologies/depot/internal/collection"
	"github.com/ssd-technologies/depot/internal/command"
	"github.com/ssd-technologies/depot/internal/config"
	"github.com/ssd-technologies/depot/internal/crypto"
	"github.com/ssd-technologies/depot/internal/protocol"
	"github.com/ssd-technologies/depot/internal/server"
	"github.com/ssd-technologies/depot/internal/session"
	"github.com/ssd-technologies/depot/internal/storage"
	"github.com/ssd-technologies/depot/internal/transport"
	"github.com/ssd-technologies/depot/internal/users"
)

// fakeConn answers each request synchronously through handler. Replies are
// queued so Receive never blocks; an empty queue reads as a timeout.
type fakeConn struct {
	sendErr error
	sends   int
	inbox   [][]byte
	handler func(protocol.Request) []protocol.Response
}

func (f *fakeConn) Send(payload []byte) error {
	f.sends++
	if f.sendErr != nil {
		return f.sendErr
	}
	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		return err
	}
	if f.handler == nil {
		return nil
	}
	for _, resp := range f.handler(req) {
		data, err := protocol.EncodeResponse(resp)
		if err != nil {
			return err
		}
		f.inbox = append(f.inbox, data)
	}
	return nil
}

func (f *fakeConn) Receive() ([]byte, error) {
	if len(f.inbox) == 0 {
		return nil, transport.ErrTimeout
	}
	data := f.inbox[0]
	f.inbox = f.inbox[1:]
	return data, nil
}

func reply(kind protocol.ResponseKind, msg, token string) func(protocol.Request) []protocol.Response {
	return func(req protocol.Request) []protocol.Response {
		return []protocol.Response{protocol.NewResponse(req.ID, kind, msg, "").WithToken(token)}
	}
}

func TestBreakerOpensAfterThreeFailures(t *testing.T) {
	conn := &fakeConn{sendErr: errors.New("connection refused")}
	c := New(conn, breaker.New(3, 20*time.Second))

	for i := 0; i < 3; i++ {
		_, err := c.Ping()
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, breaker.Open, c.Breaker())

	_, err := c.Ping()
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, conn.sends, "an open breaker must not touch the connection")
}

func TestTimeoutsCountAsFailures(t *testing.T) {
	conn := &fakeConn{}
	c := New(conn, breaker.New(2, time.Minute))

	_, err := c.Ping()
	assert.True(t, IsTimeout(err))
	_, err = c.Ping()
	assert.True(t, IsTimeout(err))

	_, err = c.Ping()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestErrorReplyCountsAsSuccess(t *testing.T) {
	conn := &fakeConn{handler: reply(protocol.KindError, "nope", "")}
	c := New(conn, breaker.New(1, time.Minute))

	for i := 0; i < 3; i++ {
		resp, err := c.Call(protocol.NewRequest(protocol.KindExec, "show", nil, ""))
		require.NoError(t, err)
		assert.Equal(t, protocol.KindError, resp.Kind)
	}
	assert.Equal(t, breaker.Closed, c.Breaker())
}

func TestStaleRepliesAreDiscarded(t *testing.T) {
	conn := &fakeConn{handler: func(req protocol.Request) []protocol.Response {
		return []protocol.Response{
			protocol.NewResponse("old-id", protocol.KindSystem, "late", ""),
			protocol.NewResponse(req.ID, protocol.KindSystem, "Pong", ""),
		}
	}}
	c := New(conn, breaker.New(3, time.Minute))

	resp, err := c.Call(protocol.NewRequest(protocol.KindPing, "", nil, ""))
	require.NoError(t, err)
	assert.Equal(t, "Pong", resp.Message)
}

func TestTokenTracking(t *testing.T) {
	conn := &fakeConn{handler: reply(protocol.KindOK, "Registered", "tok-1")}
	c := New(conn, breaker.New(3, time.Minute))

	msg, err := c.Authorize("alice", "x")
	require.NoError(t, err)
	assert.Equal(t, "Registered", msg)
	assert.Equal(t, "tok-1", c.Token())

	conn.handler = func(req protocol.Request) []protocol.Response {
		assert.Equal(t, "tok-1", req.Token)
		return reply(protocol.KindOK, "done", "tok-2")(req)
	}
	_, err = c.Exec("show", nil)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", c.Token(), "refreshed token replaces the old one")

	conn.handler = reply(protocol.KindAuthError, "Unknown token. Authorize again.", "")
	_, err = c.Exec("show", nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, c.Token())

	sends := conn.sends
	_, err = c.Exec("show", nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, sends, conn.sends, "no token means nothing is sent")
}

func TestAuthorizeWrongPassword(t *testing.T) {
	conn := &fakeConn{handler: reply(protocol.KindAuthError, "Wrong password", "")}
	c := New(conn, breaker.New(3, time.Minute))

	_, err := c.Authorize("alice", "bad")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Contains(t, err.Error(), "Wrong password")
}

func TestLogoutClearsToken(t *testing.T) {
	conn := &fakeConn{handler: reply(protocol.KindOK, "Authorized", "tok")}
	c := New(conn, breaker.New(3, time.Minute))
	_, err := c.Authorize("alice", "x")
	require.NoError(t, err)

	conn.handler = reply(protocol.KindOK, "Logged out", "")
	require.NoError(t, c.Logout())
	assert.Empty(t, c.Token())
}

func TestExecValidatesAgainstCatalogue(t *testing.T) {
	cat := command.Catalogue{
		Commands:    map[string]string{"remove_by_id": "remove a vehicle"},
		Arguments:   map[string]string{"remove_by_id": `{"id":"Int"}`},
		Interactive: map[string]bool{"remove_by_id": false},
	}
	payload, err := json.Marshal(cat)
	require.NoError(t, err)

	conn := &fakeConn{handler: func(req protocol.Request) []protocol.Response {
		switch req.Kind {
		case protocol.KindInitialize:
			return reply(protocol.KindSystem, string(payload), "")(req)
		case protocol.KindAuthorize:
			return reply(protocol.KindOK, "Authorized", "tok")(req)
		}
		return reply(protocol.KindOK, "Vehicle removed", "tok")(req)
	}}
	c := New(conn, breaker.New(3, time.Minute))

	got, err := c.Initialize()
	require.NoError(t, err)
	assert.Equal(t, cat.Commands, got.Commands)
	_, ok := c.Catalogue()
	assert.True(t, ok)
	_, err = c.Authorize("alice", "x")
	require.NoError(t, err)

	sends := conn.sends
	_, err = c.Exec("teleport", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	_, err = c.Exec("remove_by_id", nil)
	assert.ErrorContains(t, err, "missing argument")
	_, err = c.Exec("remove_by_id", map[string]string{"id": "1", "extra": "2"})
	assert.ErrorContains(t, err, "unexpected argument")
	assert.Equal(t, sends, conn.sends)

	resp, err := c.Exec("remove_by_id", map[string]string{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, "Vehicle removed", resp.Message)
}

func TestAgainstServer(t *testing.T) {
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "depot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := session.New(crypto.SessionKey("client-test"))
	require.NoError(t, err)
	auth := users.NewManager(db, tokens, session.DefaultIssuer).
		WithParams(crypto.Params{Time: 1, Memory: 1024, Threads: 1})

	ln, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	srv := server.New(ln, collection.NewStore(db), auth, tokens, config.DefaultServer())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := transport.Dial(srv.Addr(), 3*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c := New(conn, breaker.New(3, time.Minute))

	rtt, err := c.Ping()
	require.NoError(t, err)
	assert.Positive(t, rtt)

	cat, err := c.Initialize()
	require.NoError(t, err)
	assert.Contains(t, cat.Commands, "add")

	msg, err := c.Authorize("alice", "x")
	require.NoError(t, err)
	assert.Equal(t, "Registered", msg)

	resp, err := c.Exec("add", map[string]string{
		"vehicle": `{"name":"bus","coordinates":{"x":0,"y":0},"capacity":40,"distanceTravelled":1}`,
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.KindOK, resp.Kind, resp.Message)

	resp, err = c.Exec("show", map[string]string{})
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "bus")
}
