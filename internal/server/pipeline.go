package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/ssd-technologies/depot/internal/protocol"
	"github.com/ssd-technologies/depot/internal/transport"
	"github.com/ssd-technologies/depot/internal/users"
)

const (
	unknownToken = "Unknown token. Authorize again."
	rateLimited  = "Rate limited. Slow down and retry."
)

// Serve runs the accept loop until ctx is cancelled, then drains: no new
// datagrams are read, queued work is given up to the shutdown timeout to
// finish, and the socket is closed.
func (s *Server) Serve(ctx context.Context) error {
	// Commands already accepted run to completion even after shutdown starts.
	work := context.WithoutCancel(ctx)

	var receivers, senders errgroup.Group
	receivers.SetLimit(s.cfg.Workers)
	senders.SetLimit(s.cfg.Workers)

	glog.Infof("[accept] listening on %s (queue %d, workers %d)", s.ln.Addr(), s.cfg.QueueCapacity, s.cfg.Workers)

	var serveErr error
accept:
	for {
		data, from, err := s.ln.ReadFrom(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				serveErr = err
				break
			}
			glog.Warningf("[accept] read: %v", err)
			continue
		}
		s.stats.received.Add(1)

		if !s.limiter.Allow(from.Addr()) {
			s.stats.limited.Add(1)
			glog.V(2).Infof("[accept] rate limited %s", from)
			if s.limiter.Notify(from.Addr()) {
				s.notifyLimited(data, from)
			}
			continue
		}

		req, err := protocol.DecodeRequest(data)
		if err != nil {
			s.stats.malformed.Add(1)
			glog.Warningf("[accept] drop datagram from %s: %v", from, err)
			continue
		}

		select {
		case s.requests <- inbound{req: req, from: from}:
		case <-ctx.Done():
			break accept
		}
		receivers.Go(func() error { s.receive(work); return nil })
		senders.Go(func() error { s.send(); return nil })
	}

	glog.Infof("[accept] stopped, draining")
	done := make(chan struct{})
	go func() {
		receivers.Wait()
		senders.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.shutdownTimeout()):
		glog.Warningf("[accept] drain timed out after %s, closing socket", s.shutdownTimeout())
	}
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		glog.Warningf("[accept] close: %v", err)
	}
	return serveErr
}

// receive takes one request off the queue and always pushes exactly one
// response, whatever happens while handling it.
func (s *Server) receive(ctx context.Context) {
	in := <-s.requests
	resp := protocol.NewResponse(in.req.ID, protocol.KindError, "internal error", in.from.String())
	defer func() { s.responses <- resp }()
	resp = s.handle(ctx, in)
}

func (s *Server) handle(ctx context.Context, in inbound) (resp protocol.Response) {
	req := in.req
	receiver := in.from.String()
	defer func() {
		if p := recover(); p != nil {
			glog.Errorf("[receiver] panic handling %s %q from %s: %v", req.Kind, req.Message, receiver, p)
			resp = protocol.NewResponse(req.ID, protocol.KindError, fmt.Sprintf("internal error: %v", p), receiver)
		}
	}()

	glog.V(2).Infof("[receiver] %s %q from %s", req.Kind, req.Message, receiver)
	switch req.Kind {
	case protocol.KindPing:
		return protocol.NewResponse(req.ID, protocol.KindSystem, "Pong", receiver)
	case protocol.KindInitialize:
		return s.initialize(req).WithReceiver(receiver)
	case protocol.KindAuthorize:
		return s.authorize(ctx, req).WithReceiver(receiver)
	case protocol.KindExec:
		return s.exec(ctx, req).WithReceiver(receiver)
	}
	return protocol.NewResponse(req.ID, protocol.KindError, fmt.Sprintf("unsupported request kind %q", req.Kind), receiver)
}

func (s *Server) initialize(req protocol.Request) protocol.Response {
	payload, err := json.Marshal(s.registry.Catalogue())
	if err != nil {
		return protocol.NewResponse(req.ID, protocol.KindError, fmt.Sprintf("encode catalogue: %v", err), "")
	}
	return protocol.NewResponse(req.ID, protocol.KindSystem, string(payload), "")
}

func (s *Server) authorize(ctx context.Context, req protocol.Request) protocol.Response {
	if req.Message == protocol.AuthLogout {
		return protocol.NewResponse(req.ID, protocol.KindOK, "Logged out", "")
	}

	login, _ := req.Arg(protocol.ArgUsername)
	password, _ := req.Arg(protocol.ArgPassword)
	token, outcome, err := s.users.Authorize(ctx, login, password)
	switch {
	case errors.Is(err, users.ErrWrongPassword):
		s.stats.authFails.Add(1)
		return protocol.NewResponse(req.ID, protocol.KindAuthError, "Wrong password", "")
	case errors.Is(err, users.ErrEmptyLogin), errors.Is(err, users.ErrReservedLogin):
		s.stats.authFails.Add(1)
		return protocol.NewResponse(req.ID, protocol.KindAuthError, err.Error(), "")
	case err != nil:
		glog.Errorf("[receiver] authorize %s: %v", login, err)
		return protocol.NewResponse(req.ID, protocol.KindError, "authorization failed: "+err.Error(), "")
	}
	glog.Infof("[receiver] %s: %s", outcome, login)
	return protocol.NewResponse(req.ID, protocol.KindOK, outcome.String(), "").WithToken(token)
}

func (s *Server) exec(ctx context.Context, req protocol.Request) protocol.Response {
	user, ok := s.tokens.Subject(req.Token)
	if !ok {
		s.stats.authFails.Add(1)
		return protocol.NewResponse(req.ID, protocol.KindAuthError, unknownToken, "")
	}

	resp := s.registry.Execute(ctx, &req, user)
	token, err := s.tokens.Issue(s.issuer(), user)
	if err != nil {
		glog.Errorf("[receiver] refresh token for %s: %v", user, err)
		return resp
	}
	return resp.WithToken(token)
}

// notifyLimited tells a sender once that it is being rate limited, so its
// client sees an ERROR reply instead of a timeout. It writes directly from
// the accept loop; a limited sender never occupies a queue slot.
func (s *Server) notifyLimited(data []byte, from netip.AddrPort) {
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		return
	}
	payload, err := protocol.EncodeResponse(protocol.NewResponse(req.ID, protocol.KindError, rateLimited, from.String()))
	if err != nil {
		glog.Errorf("[accept] encode rate limit notice: %v", err)
		return
	}
	if err := s.ln.WriteTo(payload, from); err != nil {
		s.stats.sendFails.Add(1)
		glog.Warningf("[accept] rate limit notice to %s: %v", from, err)
		return
	}
	s.stats.sent.Add(1)
}

// send takes one response off the queue and writes it to its receiver.
// Failures are logged and stay confined to this task.
func (s *Server) send() {
	resp := <-s.responses

	to, err := netip.ParseAddrPort(resp.Receiver)
	if err != nil {
		s.stats.sendFails.Add(1)
		glog.Errorf("[sender] bad receiver %q for %s: %v", resp.Receiver, resp.ID, err)
		return
	}

	payload, err := protocol.EncodeResponse(resp)
	if err == nil && len(payload) > transport.MaxDatagramSize {
		glog.Warningf("[sender] response %s to %s is %d bytes, replacing with error", resp.ID, to, len(payload))
		tooBig := protocol.NewResponse(resp.ID, protocol.KindError,
			fmt.Sprintf("response too large (%d bytes, limit %d)", len(payload), transport.MaxDatagramSize),
			resp.Receiver).WithToken(resp.Token)
		payload, err = protocol.EncodeResponse(tooBig)
	}
	if err != nil {
		s.stats.sendFails.Add(1)
		glog.Errorf("[sender] encode %s: %v", resp.ID, err)
		return
	}

	if err := s.ln.WriteTo(payload, to); err != nil {
		s.stats.sendFails.Add(1)
		glog.Warningf("[sender] write to %s: %v", to, err)
		return
	}
	s.stats.sent.Add(1)
	glog.V(2).Infof("[sender] %s %s to %s", resp.Kind, resp.ID, to)
}
