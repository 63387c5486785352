package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestSignProducesVerifiableClaim(t *testing.T) {
	var signer = NewJWTSigner([]byte("test-secret"))

	raw, err := signer.Sign("shard/capture/001", "flow-reactor", CapabilityProxyConnector, time.Minute)
	require.NoError(t, err)

	var claims proxyClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)
	require.Equal(t, "shard/capture/001", claims.Subject)
	require.Equal(t, "flow-reactor", claims.Issuer)
	require.Equal(t, CapabilityProxyConnector, claims.Capability)
}

func TestExpiredClaimFailsVerification(t *testing.T) {
	var signer = NewJWTSigner([]byte("test-secret"))

	raw, err := signer.Sign("shard/capture/001", "flow-reactor", CapabilityProxyConnector, -time.Minute)
	require.NoError(t, err)

	var claims proxyClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	require.Error(t, err)
}
