// Package protocol defines the datagram messages exchanged between depot
// clients and the server.
package protocol

import (
	"maps"

	"github.com/google/uuid"
)

// Message types carried in every datagram so a decoder can tell a request
// from a response without any prior negotiation.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
)

// RequestKind selects how the server handles a request.
type RequestKind string

const (
	KindPing       RequestKind = "PING"
	KindAuthorize  RequestKind = "AUTHORIZATION"
	KindInitialize RequestKind = "INITIALIZATION"
	KindExec       RequestKind = "COMMAND_EXEC"
)

// Valid reports whether k is a known request kind.
func (k RequestKind) Valid() bool {
	switch k {
	case KindPing, KindAuthorize, KindInitialize, KindExec:
		return true
	}
	return false
}

// ResponseKind classifies the outcome of a request.
type ResponseKind string

const (
	KindOK        ResponseKind = "OK"
	KindError     ResponseKind = "ERROR"
	KindAuthError ResponseKind = "AUTH_ERROR"
	KindSystem    ResponseKind = "SYSTEM"
)

// Valid reports whether k is a known response kind.
func (k ResponseKind) Valid() bool {
	switch k {
	case KindOK, KindError, KindAuthError, KindSystem:
		return true
	}
	return false
}

// Auth verbs carried in Request.Message for KindAuthorize.
const (
	AuthLogin  = "login"
	AuthLogout = "logout"
)

// Argument names carried by an AUTHORIZATION request.
const (
	ArgUsername = "username"
	ArgPassword = "password"
)

// Message is implemented by Request and Response.
type Message interface {
	MessageType() string
}

// Request is sent by a client. ID correlates the request with its response;
// the sender address is carried by the transport, not the message.
type Request struct {
	ID      string            `json:"id"`
	Kind    RequestKind       `json:"kind"`
	Message string            `json:"message"`
	Args    map[string]string `json:"args"`
	Token   string            `json:"token,omitempty"`
}

// NewRequest builds a request with a fresh correlation ID. The args map is
// copied so later changes by the caller do not leak into the request.
func NewRequest(kind RequestKind, message string, args map[string]string, token string) Request {
	return Request{
		ID:      uuid.New().String(),
		Kind:    kind,
		Message: message,
		Args:    maps.Clone(args),
		Token:   token,
	}
}

// MessageType implements Message.
func (Request) MessageType() string { return TypeRequest }

// Arg returns the named argument.
func (r Request) Arg(name string) (string, bool) {
	v, ok := r.Args[name]
	return v, ok
}

// Response is sent by the server. Receiver is the "ip:port" of the client the
// response is addressed to.
type Response struct {
	ID       string       `json:"id"`
	Kind     ResponseKind `json:"kind"`
	Message  string       `json:"message"`
	Token    string       `json:"token,omitempty"`
	Receiver string       `json:"receiver"`
}

// NewResponse builds a response to the request with the given ID.
func NewResponse(id string, kind ResponseKind, message, receiver string) Response {
	return Response{
		ID:       id,
		Kind:     kind,
		Message:  message,
		Receiver: receiver,
	}
}

// MessageType implements Message.
func (Response) MessageType() string { return TypeResponse }

// WithToken returns a copy of r carrying token.
func (r Response) WithToken(token string) Response {
	r.Token = token
	return r
}

// WithReceiver returns a copy of r addressed to receiver.
func (r Response) WithReceiver(receiver string) Response {
	r.Receiver = receiver
	return r
}
