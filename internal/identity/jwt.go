package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// proxyClaims is the HS256-signed claim body a proxy dial presents to
// the data-plane reactor, per spec.md section 4.4 step 1.
type proxyClaims struct {
	jwt.RegisteredClaims
	Capability Capability `json:"cap"`
}

// JWTSigner is the default ClaimSigner, signing HS256 claims with a
// shared secret known to the data-plane reactor.
type JWTSigner struct {
	secret []byte
}

// NewJWTSigner returns a JWTSigner using secret to sign claims.
func NewJWTSigner(secret []byte) *JWTSigner {
	return &JWTSigner{secret: secret}
}

// Sign implements ClaimSigner.
func (s *JWTSigner) Sign(subject, issuer string, capability Capability, ttl time.Duration) (string, error) {
	var now = time.Now()
	var claims = proxyClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Capability: capability,
	}

	var token = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing proxy claim: %w", err)
	}
	return signed, nil
}
