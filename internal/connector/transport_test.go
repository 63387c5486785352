package connector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransportErrorUnwrapsCause(t *testing.T) {
	var cause = errors.New("dial refused")
	var err error = &TransportError{Resource: ResourceDialProxy, Cause: cause}

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "dial-proxy")
	require.Contains(t, err.Error(), "dial refused")
}

func TestJSONCodecRoundTrip(t *testing.T) {
	var codec = jsonCodec{}

	var req = CaptureRequest{Open: &ReqOpen{ExplicitAcks: true}}
	b, err := codec.Marshal(&req)
	require.NoError(t, err)

	var got CaptureRequest
	require.NoError(t, codec.Unmarshal(b, &got))
	require.NotNil(t, got.Open)
	require.True(t, got.Open.ExplicitAcks)
}
