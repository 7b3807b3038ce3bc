package txsigner

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gaserrors"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
)

// Keypair is an in-process signer over a raw ed25519 keypair. It is used in
// tests and for local/dev deployments where running a separate signing
// sidecar is unnecessary.
//
// Ed25519 rather than secp256r1: MySocial addresses and signatures are
// ed25519-native, and secp256r1 would only be needed here to back an EVM
// precompile, which this chain has no use for.
type Keypair struct {
	priv    ed25519.PrivateKey
	address gastypes.Address
}

// NewKeypair derives the signer's address directly from the public key.
func NewKeypair(priv ed25519.PrivateKey) *Keypair {
	pub := priv.Public().(ed25519.PublicKey)
	var addr gastypes.Address
	copy(addr[:], pub)
	return &Keypair{priv: priv, address: addr}
}

// GenerateKeypair creates a fresh random signer, for tests and local runs.
func GenerateKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	return NewKeypair(priv), nil
}

// KeypairFromHex loads a raw ed25519 seed or private key from hex, for
// local/dev deployments that pass the sponsor key in directly rather than
// running a signing sidecar.
func KeypairFromHex(s string) (*Keypair, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding keypair hex: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return NewKeypair(ed25519.NewKeyFromSeed(raw)), nil
	case ed25519.PrivateKeySize:
		return NewKeypair(ed25519.PrivateKey(raw)), nil
	default:
		return nil, fmt.Errorf("keypair hex must decode to %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

func (k *Keypair) Address() gastypes.Address { return k.address }

// Sign signs txBytes exactly as given, with no intent prefix added; there
// is no network hop so no retry policy applies here.
func (k *Keypair) Sign(ctx context.Context, txBytes []byte) ([]byte, error) {
	if len(k.priv) == 0 {
		return nil, gaserrors.Signer(fmt.Errorf("keypair not initialized"))
	}
	sig := ed25519.Sign(k.priv, txBytes)
	return sig, nil
}
