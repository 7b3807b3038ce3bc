package poolinit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/mysclient"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/objectlocks"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/poolstore"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/txsigner"
)

func bigCoin(id byte, balance uint64) gastypes.Coin {
	var objID gastypes.ObjectID
	objID[len(objID)-1] = id
	return gastypes.Coin{ObjectRef: gastypes.ObjectRef{ObjectID: objID, Version: 1}, Balance: balance}
}

func outputCoins(n int, balance uint64, startID byte) []mysclient.CreatedObject {
	out := make([]mysclient.CreatedObject, n)
	for i := 0; i < n; i++ {
		var objID gastypes.ObjectID
		objID[len(objID)-1] = startID + byte(i)
		out[i] = mysclient.CreatedObject{
			Ref:     gastypes.ObjectRef{ObjectID: objID, Version: 1},
			Owner:   gastypes.Owner{Kind: gastypes.OwnerAddressOwner},
			IsCoin:  true,
			Balance: balance,
		}
	}
	return out
}

func TestInitializeSplitsAndAdmits(t *testing.T) {
	sponsor := gastypes.HexToAddress("0x01")
	client := mysclient.NewMock()
	client.DevInspectGas = 1000
	big := bigCoin(1, 10_000_000_000)
	client.AddCoin(big, sponsor)

	outputs := outputCoins(10, 1_000_000_000, 2)
	for _, o := range outputs {
		// the auditor's MultiGetOwnerAndVersion/MultiGetCoin must see these
		// as sponsor-owned for Admissible to keep them.
		client.Owners[o.Ref.ObjectID] = mysclient.OwnerAndVersion{
			Owner:   gastypes.Owner{Kind: gastypes.OwnerAddressOwner, Address: sponsor},
			Version: 1,
		}
		client.Coins[o.Ref.ObjectID] = gastypes.Coin{ObjectRef: o.Ref, Balance: o.Balance}
	}
	client.ExecuteFunc = func(tx mysclient.SignedTransaction) (*mysclient.Effects, error) {
		return &mysclient.Effects{Status: mysclient.StatusSuccess, Created: outputs}, nil
	}

	signer, err := txsigner.GenerateKeypair()
	require.NoError(t, err)
	auditor := objectlocks.NewAuditor(client, sponsor)
	store := poolstore.NewMemory(poolstore.LargestFirst)

	cfg := DefaultConfig()
	cfg.MinSplitBalance = 1_000_000
	cfg.TargetBalance = 1_000_000_000
	cfg.MaxSplitsPerTx = 500
	cfg.MinPoolCount = 5
	cfg.ReplenishInterval = 0

	ini := New(cfg, sponsor, client, signer, auditor, store, JSONSplitTxBuilder{})
	stats, err := ini.Initialize(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.SplitTxCount)
	require.Equal(t, 10, stats.Admitted)

	sizes, err := store.Size(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, sizes.AvailableCount)
}

func TestInitializeFailsUnderProvisioned(t *testing.T) {
	sponsor := gastypes.HexToAddress("0x01")
	client := mysclient.NewMock()
	// no oversized coins at all: ListOwnedCoins returns empty.

	signer, err := txsigner.GenerateKeypair()
	require.NoError(t, err)
	auditor := objectlocks.NewAuditor(client, sponsor)
	store := poolstore.NewMemory(poolstore.LargestFirst)

	cfg := DefaultConfig()
	cfg.MinPoolCount = 10
	cfg.ReplenishInterval = 0

	ini := New(cfg, sponsor, client, signer, auditor, store, JSONSplitTxBuilder{})
	_, err = ini.Initialize(context.Background())
	require.Error(t, err, "initialize must fail fast when the resulting pool is under-provisioned")
}

func TestInitializeIdempotent(t *testing.T) {
	sponsor := gastypes.HexToAddress("0x01")
	client := mysclient.NewMock()
	client.DevInspectGas = 1000
	big := bigCoin(1, 10_000_000_000)
	client.AddCoin(big, sponsor)

	outputs := outputCoins(6, 1_000_000_000, 2)
	for _, o := range outputs {
		client.Owners[o.Ref.ObjectID] = mysclient.OwnerAndVersion{
			Owner:   gastypes.Owner{Kind: gastypes.OwnerAddressOwner, Address: sponsor},
			Version: 1,
		}
		client.Coins[o.Ref.ObjectID] = gastypes.Coin{ObjectRef: o.Ref, Balance: o.Balance}
	}
	client.ExecuteFunc = func(tx mysclient.SignedTransaction) (*mysclient.Effects, error) {
		return &mysclient.Effects{Status: mysclient.StatusSuccess, Created: outputs}, nil
	}

	signer, err := txsigner.GenerateKeypair()
	require.NoError(t, err)
	auditor := objectlocks.NewAuditor(client, sponsor)
	store := poolstore.NewMemory(poolstore.LargestFirst)

	cfg := DefaultConfig()
	cfg.MinSplitBalance = 1_000_000
	cfg.TargetBalance = 1_000_000_000
	cfg.MinPoolCount = 1
	cfg.ReplenishInterval = 0

	ini := New(cfg, sponsor, client, signer, auditor, store, JSONSplitTxBuilder{})
	_, err = ini.Initialize(context.Background())
	require.NoError(t, err)

	// re-running must not duplicate already-known coins (poolstore.Backend.Init is idempotent).
	_, err = ini.Initialize(context.Background())
	require.NoError(t, err)

	sizes, err := store.Size(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, sizes.AvailableCount)
}
