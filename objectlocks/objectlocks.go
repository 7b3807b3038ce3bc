// Package objectlocks audits coin ownership against chain-observed truth.
// Apart from fetching the reference gas price and submitting a signed
// transaction, it is the only place the gas pool consults the chain:
// reservations themselves are O(1)
// against the storage backend alone (see poolstore), trading a window of
// staleness for throughput. The auditor closes that window at the two
// points where staleness would otherwise leak into the pool: admission at
// startup/replenish, and reconciliation after a reservation expires.
package objectlocks

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/mysclient"
)

// Auditor determines, for a candidate set of coins, which are still
// admissible: owned by sponsor as an AddressOwner, independent of the
// version the caller last observed (the caller is expected to refresh
// balance/version from the admitted result, not trust its own copy).
type Auditor struct {
	client  mysclient.Client
	sponsor gastypes.Address
}

func NewAuditor(client mysclient.Client, sponsor gastypes.Address) *Auditor {
	return &Auditor{client: client, sponsor: sponsor}
}

// Admissible partitions candidates into admitted (still sponsor-owned,
// refreshed to chain-current version/balance) and dropped (owner changed,
// object deleted, or the chain lookup failed to resolve it at all).
//
// It never calls the chain once per coin: ownership is fetched with a
// single MultiGetOwnerAndVersion batch, and refreshed balances with a
// single MultiGetCoin batch, rather than looping RPCs per candidate.
func (a *Auditor) Admissible(ctx context.Context, candidates []gastypes.Coin) (admitted, dropped []gastypes.Coin, err error) {
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	ids := make([]gastypes.ObjectID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ObjectID
	}

	owners, err := a.client.MultiGetOwnerAndVersion(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	var ownedIDs []gastypes.ObjectID
	for _, c := range candidates {
		ov, ok := owners[c.ObjectID]
		if !ok || ov.Owner.Kind != gastypes.OwnerAddressOwner || ov.Owner.Address != a.sponsor {
			dropped = append(dropped, c)
			continue
		}
		ownedIDs = append(ownedIDs, c.ObjectID)
	}

	if len(ownedIDs) == 0 {
		log.Debug("object-lock audit dropped every candidate", "candidates", len(candidates))
		return nil, dropped, nil
	}

	coins, err := a.client.MultiGetCoin(ctx, ownedIDs)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range ownedIDs {
		c := coins[id]
		if c == nil {
			dropped = append(dropped, gastypes.Coin{ObjectRef: gastypes.ObjectRef{ObjectID: id}})
			continue
		}
		admitted = append(admitted, *c)
	}

	if len(dropped) > 0 {
		log.Info("object-lock audit dropped coins", "admitted", len(admitted), "dropped", len(dropped))
	}
	return admitted, dropped, nil
}
