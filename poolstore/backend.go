// Package poolstore is the authoritative store of the reservable coin set
// and the active reservation table. It is the linearization point for coin
// exclusivity: once Reserve returns, the returned coins are invisible to
// any other caller until Release or ExpireDue frees them.
package poolstore

import (
	"context"
	"errors"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
)

// MaxCoinsPerReservation bounds how many coins a single reservation may
// bundle, matching the on-chain transaction input limit.
const MaxCoinsPerReservation = 256

// ErrInsufficientPool is returned by Reserve when the budget cannot be
// covered within MaxCoinsPerReservation coins.
var ErrInsufficientPool = errors.New("insufficient pool")

// SelectionOrder picks which deterministic ordering Reserve walks when
// building a prefix that covers the requested budget. Both orders satisfy
// the budget-sufficiency invariant; the choice only affects fragmentation.
type SelectionOrder int

const (
	// LargestFirst takes the largest coins first, and is this store's
	// default.
	LargestFirst SelectionOrder = iota
	// SmallestSuffix takes the smallest coins that still cover the budget,
	// reducing fragmentation of the large-coin tail at the cost of using
	// more coins per reservation.
	SmallestSuffix
)

// Sizes reports pool occupancy for metrics and admission checks.
type Sizes struct {
	AvailableCount int
	ReservedCount  int
	TotalBalance   uint64
}

// Backend is the storage contract every gas pool operates against. Any
// successful Reserve must survive a process crash until its ExpiresAt, or
// the exclusivity a reservation is supposed to grant is void; that
// durability is this interface's responsibility, not the gas pool's.
type Backend interface {
	// Init bulk-inserts coins into the available set. Idempotent per
	// object id: re-inserting a known coin is a no-op.
	Init(ctx context.Context, coins []gastypes.Coin) error

	// Reserve atomically selects a prefix of available coins summing to at
	// least budget (honoring the configured SelectionOrder), moves them
	// into the reserved set with expiresAt = now+duration, and returns the
	// new reservation. Returns ErrInsufficientPool if no prefix within
	// MaxCoinsPerReservation coins covers the budget.
	Reserve(ctx context.Context, budget uint64, duration int64, now int64) (*gastypes.Reservation, error)

	// Get looks up a reservation still in the reserved set by id. Callers
	// use this to recover a reservation's coins and budget without relying
	// on any of their own in-process bookkeeping, so a reservation granted
	// before a caller process restart remains usable for as long as the
	// backend itself still holds it. The second return value is false if
	// the id is unknown, already released, or already removed by ExpireDue;
	// a reservation past its ExpiresAt that ExpireDue has not yet collected
	// is still returned.
	Get(ctx context.Context, reservationID gastypes.ReservationID) (*gastypes.Reservation, bool, error)

	// Release atomically removes reservationID from the reserved set and
	// inserts updatedCoins back into available. updatedCoins may omit
	// coins that were fully consumed and may include coins not originally
	// reserved (newly created replenishment coins).
	Release(ctx context.Context, reservationID gastypes.ReservationID, updatedCoins []gastypes.Coin) error

	// ExpireDue atomically collects and removes every reservation whose
	// ExpiresAt <= now. The caller becomes responsible for re-validating
	// and re-admitting (or dropping) the returned coins.
	ExpireDue(ctx context.Context, now int64) ([]gastypes.Reservation, error)

	// Size reports current occupancy.
	Size(ctx context.Context) (Sizes, error)
}
