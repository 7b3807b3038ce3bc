// Package txsigner provides the sponsor-signing capability consumed by the
// gas pool and the pool initializer: a sidecar signer that calls out to an
// HTTP service holding the sponsor key, and an in-process keypair signer
// for tests and local development.
package txsigner

import (
	"context"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
)

// Signer is an immutable capability handle: once constructed it never
// mutates, so it is safe to share between the gas pool and the replenisher
// without any additional synchronization.
type Signer interface {
	// Sign produces a sponsor signature over txBytes. Neither
	// implementation adds an intent prefix: Keypair signs txBytes exactly
	// as given, and Sidecar sends them unchanged to the signing service.
	Sign(ctx context.Context, txBytes []byte) ([]byte, error)

	// Address returns the sponsor address this signer speaks for.
	Address() gastypes.Address
}
