// Package gastypes defines the core data model of the gas station: coin
// references, reservations, and the sponsor address space.
package gastypes

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the size, in bytes, of a MySocial address or object ID.
// Addresses and object IDs share the same identity space on this chain.
const AddressLength = 32

// Address is a 32-byte chain identity: a sponsor address or an object ID.
type Address [AddressLength]byte

// HexToAddress decodes a "0x"-prefixed (or bare) hex string into an Address.
// Short inputs are left-padded with zeroes, matching the chain's address
// display convention.
func HexToAddress(s string) Address {
	var a Address
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) > AddressLength {
		return a
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string { return a.Hex() }

func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.Hex() + `"`), nil
}

func (a *Address) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	*a = HexToAddress(s)
	return nil
}

// ObjectID is an alias for Address: on this chain every on-chain object,
// coin included, is addressed the same way a sponsor account is.
type ObjectID = Address

// Digest is the content hash of an object at a particular version.
type Digest [32]byte

func (d Digest) Hex() string { return "0x" + hex.EncodeToString(d[:]) }

func (d Digest) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Hex() + `"`), nil
}

func (d *Digest) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	copy(d[:], b)
	return nil
}

// ObjectRef jointly identifies a specific historical state of an object:
// the chain rejects any transaction referencing a stale version.
type ObjectRef struct {
	ObjectID ObjectID `json:"objectId"`
	Version  uint64   `json:"version"`
	Digest   Digest   `json:"digest"`
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s@%d/%s", r.ObjectID.Hex(), r.Version, r.Digest.Hex())
}

// Coin is a reference to an on-chain native-asset coin object together with
// its current balance, in native units.
type Coin struct {
	ObjectRef
	Balance uint64 `json:"balance"`
}

func (c Coin) String() string {
	return fmt.Sprintf("Coin{%s, balance=%d}", c.ObjectRef, c.Balance)
}

// ReservationID is a 64-bit monotonically increasing integer assigned by the
// storage backend. It is never reused within a process lifetime.
type ReservationID uint64

// Reservation is one row of the active-reservation table: a time-bounded
// exclusive claim on a non-empty set of coins whose combined balance covers
// the budget requested at reservation time. Budget is stored alongside the
// coins so a reservation fetched fresh from a durable backend (after a
// process restart, say) carries everything needed to validate an execute
// call against it, without depending on any in-process cache.
type Reservation struct {
	ID        ReservationID
	Sponsor   Address
	Coins     []Coin
	ExpiresAt int64 // unix seconds
	Budget    uint64
}

// TotalBalance sums the balances of all coins in the reservation.
func (r Reservation) TotalBalance() uint64 {
	var total uint64
	for _, c := range r.Coins {
		total += c.Balance
	}
	return total
}

// ObjectRefs extracts the bare object references of the reservation's coins,
// the shape returned over RPC.
func (r Reservation) ObjectRefs() []ObjectRef {
	refs := make([]ObjectRef, len(r.Coins))
	for i, c := range r.Coins {
		refs[i] = c.ObjectRef
	}
	return refs
}

// Owner classifies who currently controls an object, as reported by the
// chain. Only AddressOwner coins are admissible into the pool.
type Owner struct {
	Kind    OwnerKind
	Address Address // valid only when Kind == OwnerAddressOwner
}

type OwnerKind int

const (
	OwnerAddressOwner OwnerKind = iota
	OwnerShared
	OwnerImmutable
	OwnerObjectOwner
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerAddressOwner:
		return "AddressOwner"
	case OwnerShared:
		return "Shared"
	case OwnerImmutable:
		return "Immutable"
	case OwnerObjectOwner:
		return "ObjectOwner"
	default:
		return "Unknown"
	}
}
