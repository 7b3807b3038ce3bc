package objectlocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/mysclient"
)

func objID(b byte) gastypes.ObjectID {
	var id gastypes.ObjectID
	id[len(id)-1] = b
	return id
}

func TestAdmissibleDropsNonSponsorOwned(t *testing.T) {
	sponsor := gastypes.HexToAddress("0x01")
	other := gastypes.HexToAddress("0x02")
	client := mysclient.NewMock()

	owned := gastypes.Coin{ObjectRef: gastypes.ObjectRef{ObjectID: objID(1), Version: 1}, Balance: 100}
	moved := gastypes.Coin{ObjectRef: gastypes.ObjectRef{ObjectID: objID(2), Version: 1}, Balance: 50}
	client.AddCoin(owned, sponsor)
	client.AddCoin(moved, other)

	auditor := NewAuditor(client, sponsor)
	admitted, dropped, err := auditor.Admissible(context.Background(), []gastypes.Coin{owned, moved})
	require.NoError(t, err)
	require.Len(t, admitted, 1)
	require.Equal(t, owned.ObjectID, admitted[0].ObjectID)
	require.Len(t, dropped, 1)
	require.Equal(t, moved.ObjectID, dropped[0].ObjectID)
}

func TestAdmissibleDropsDeletedObjects(t *testing.T) {
	sponsor := gastypes.HexToAddress("0x01")
	client := mysclient.NewMock()

	ghost := gastypes.Coin{ObjectRef: gastypes.ObjectRef{ObjectID: objID(3), Version: 1}, Balance: 10}
	client.Owners[ghost.ObjectID] = mysclient.OwnerAndVersion{
		Owner:   gastypes.Owner{Kind: gastypes.OwnerAddressOwner, Address: sponsor},
		Version: 1,
	}
	// deliberately no Coins entry: simulates an object deleted after the
	// owner lookup but before the coin lookup.

	auditor := NewAuditor(client, sponsor)
	admitted, dropped, err := auditor.Admissible(context.Background(), []gastypes.Coin{ghost})
	require.NoError(t, err)
	require.Empty(t, admitted)
	require.Len(t, dropped, 1)
}

func TestAdmissibleRefreshesBalance(t *testing.T) {
	sponsor := gastypes.HexToAddress("0x01")
	client := mysclient.NewMock()

	stale := gastypes.Coin{ObjectRef: gastypes.ObjectRef{ObjectID: objID(4), Version: 1}, Balance: 100}
	client.AddCoin(stale, sponsor)
	// chain has since mutated the coin to a new version/balance.
	client.Coins[stale.ObjectID] = gastypes.Coin{ObjectRef: gastypes.ObjectRef{ObjectID: stale.ObjectID, Version: 2}, Balance: 42}

	auditor := NewAuditor(client, sponsor)
	admitted, dropped, err := auditor.Admissible(context.Background(), []gastypes.Coin{stale})
	require.NoError(t, err)
	require.Empty(t, dropped)
	require.Len(t, admitted, 1)
	require.Equal(t, uint64(2), admitted[0].Version)
	require.Equal(t, uint64(42), admitted[0].Balance)
}

func TestAdmissibleEmptyInput(t *testing.T) {
	sponsor := gastypes.HexToAddress("0x01")
	client := mysclient.NewMock()
	auditor := NewAuditor(client, sponsor)
	admitted, dropped, err := auditor.Admissible(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, admitted)
	require.Empty(t, dropped)
}
