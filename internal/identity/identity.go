// Package identity defines the claim-signing interface the proxied
// connector transport depends on. The wire format and trust model
// behind a real claim are out of scope here; only the surface C4 needs
// to dial a proxied connector is defined.
package identity

import "time"

// Capability is a bitset of actions a signed claim authorizes.
type Capability uint32

const (
	// CapabilityProxyConnector authorizes dialing a connector through
	// the data-plane proxy (spec.md section 4.4 step 1).
	CapabilityProxyConnector Capability = 1 << iota
)

// ClaimSigner signs a claim asserting that subject (issued by issuer) is
// authorized for capability, expiring after ttl.
type ClaimSigner interface {
	Sign(subject, issuer string, capability Capability, ttl time.Duration) (string, error)
}
