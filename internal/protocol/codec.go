package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a datagram that could not be turned into a message,
// typically because it was truncated or is not a depot message at all.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

type wireRequest struct {
	MessageType string `json:"message_type"`
	Request
}

type wireResponse struct {
	MessageType string `json:"message_type"`
	Response
}

// EncodeRequest serializes a request to its wire form.
func EncodeRequest(r Request) ([]byte, error) {
	data, err := json.Marshal(wireRequest{MessageType: TypeRequest, Request: r})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

// EncodeResponse serializes a response to its wire form.
func EncodeResponse(r Response) ([]byte, error) {
	data, err := json.Marshal(wireResponse{MessageType: TypeResponse, Response: r})
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}

// DecodeRequest parses a request. Anything other than a well-formed request
// with a known kind yields a *DecodeError.
func DecodeRequest(data []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return Request{}, &DecodeError{Reason: "malformed request", Err: err}
	}
	if w.MessageType != TypeRequest {
		return Request{}, &DecodeError{Reason: fmt.Sprintf("message type %q is not a request", w.MessageType)}
	}
	if !w.Kind.Valid() {
		return Request{}, &DecodeError{Reason: fmt.Sprintf("unknown request kind %q", w.Kind)}
	}
	return w.Request, nil
}

// DecodeResponse parses a response. Anything other than a well-formed
// response with a known kind yields a *DecodeError.
func DecodeResponse(data []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return Response{}, &DecodeError{Reason: "malformed response", Err: err}
	}
	if w.MessageType != TypeResponse {
		return Response{}, &DecodeError{Reason: fmt.Sprintf("message type %q is not a response", w.MessageType)}
	}
	if !w.Kind.Valid() {
		return Response{}, &DecodeError{Reason: fmt.Sprintf("unknown response kind %q", w.Kind)}
	}
	return w.Response, nil
}

// Decode parses either message shape, using the embedded message type.
func Decode(data []byte) (Message, error) {
	var head struct {
		MessageType string `json:"message_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Reason: "malformed message", Err: err}
	}
	switch head.MessageType {
	case TypeRequest:
		req, err := DecodeRequest(data)
		if err != nil {
			return nil, err
		}
		return req, nil
	case TypeResponse:
		resp, err := DecodeResponse(data)
		if err != nil {
			return nil, err
		}
		return resp, nil
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown message type %q", head.MessageType)}
	}
}
