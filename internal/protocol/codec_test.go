package protocol

import (
	"errors"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("DecodeRequest(EncodeRequest(r)) == r", prop.ForAll(
		func(kind RequestKind, id, message, token string, args map[string]string) bool {
			r := Request{ID: id, Kind: kind, Message: message, Args: args, Token: token}
			data, err := EncodeRequest(r)
			if err != nil {
				return false
			}
			got, err := DecodeRequest(data)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(got, r)
		},
		gen.OneConstOf(KindPing, KindAuthorize, KindInitialize, KindExec),
		gen.Identifier(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestResponseRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("DecodeResponse(EncodeResponse(r)) == r", prop.ForAll(
		func(kind ResponseKind, id, message, token, receiver string) bool {
			r := Response{ID: id, Kind: kind, Message: message, Token: token, Receiver: receiver}
			data, err := EncodeResponse(r)
			if err != nil {
				return false
			}
			got, err := DecodeResponse(data)
			if err != nil {
				return false
			}
			return got == r
		},
		gen.OneConstOf(KindOK, KindError, KindAuthError, KindSystem),
		gen.Identifier(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestRoundTripPreservesNilAndEmptyArgs(t *testing.T) {
	for _, args := range []map[string]string{nil, {}} {
		r := Request{ID: "1", Kind: KindPing, Message: "Ping", Args: args}
		data, err := EncodeRequest(r)
		require.NoError(t, err)
		got, err := DecodeRequest(data)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestRoundTripUnicodePayload(t *testing.T) {
	r := NewResponse("id-1", KindOK, "Vehicle added: Жигули 🚗", "127.0.0.1:5000").WithToken("a.b.c")
	data, err := EncodeResponse(r)
	require.NoError(t, err)
	got, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestNewRequestCopiesArgs(t *testing.T) {
	args := map[string]string{"id": "3"}
	r := NewRequest(KindExec, "remove_by_id", args, "tok")
	args["id"] = "4"

	v, ok := r.Arg("id")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
	assert.NotEmpty(t, r.ID)
}

func TestNewRequestUniqueIDs(t *testing.T) {
	a := NewRequest(KindPing, "Ping", nil, "")
	b := NewRequest(KindPing, "Ping", nil, "")
	assert.NotEqual(t, a.ID, b.ID)
}

func TestDecodeTruncatedDatagram(t *testing.T) {
	data, err := EncodeRequest(NewRequest(KindExec, "show", map[string]string{"a": "b"}, "tok"))
	require.NoError(t, err)

	for _, n := range []int{0, 1, len(data) / 2, len(data) - 1} {
		_, err := DecodeRequest(data[:n])
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("truncated to %d bytes: err = %v, want *DecodeError", n, err)
		}
	}
}

func TestDecodeRejectsWrongShape(t *testing.T) {
	resp, err := EncodeResponse(NewResponse("1", KindOK, "ok", ""))
	require.NoError(t, err)

	_, err = DecodeRequest(resp)
	var de *DecodeError
	require.ErrorAs(t, err, &de)

	_, err = DecodeRequest([]byte(`{"message_type":"request","kind":"DELETE_EVERYTHING","message":"x","args":{}}`))
	require.ErrorAs(t, err, &de)

	_, err = DecodeResponse([]byte(`{"message_type":"response","kind":"MAYBE","message":"x","receiver":""}`))
	require.ErrorAs(t, err, &de)
}

func TestDecodeDispatchesOnMessageType(t *testing.T) {
	reqData, err := EncodeRequest(NewRequest(KindPing, "Ping", nil, ""))
	require.NoError(t, err)
	respData, err := EncodeResponse(NewResponse("1", KindSystem, "Pong", "127.0.0.1:1"))
	require.NoError(t, err)

	m, err := Decode(reqData)
	require.NoError(t, err)
	_, ok := m.(Request)
	assert.True(t, ok, "want Request, got %T", m)

	m, err = Decode(respData)
	require.NoError(t, err)
	_, ok = m.(Response)
	assert.True(t, ok, "want Response, got %T", m)

	m, err = Decode([]byte(`{"message_type":"gossip"}`))
	assert.Nil(t, m)
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}
