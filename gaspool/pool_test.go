package gaspool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gaserrors"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/mysclient"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/objectlocks"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/poolstore"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/txsigner"
)

func coin(id byte, balance uint64) gastypes.Coin {
	var objID gastypes.ObjectID
	objID[len(objID)-1] = id
	return gastypes.Coin{ObjectRef: gastypes.ObjectRef{ObjectID: objID, Version: 1}, Balance: balance}
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *mysclient.Mock, gastypes.Address) {
	t.Helper()
	sponsor := gastypes.HexToAddress("0xaa")
	store := poolstore.NewMemory(poolstore.LargestFirst)
	require.NoError(t, store.Init(context.Background(), []gastypes.Coin{coin(1, 1000)}))

	client := mysclient.NewMock()
	client.AddCoin(coin(1, 1000), sponsor)
	client.GasPrice = 10

	signer, err := txsigner.GenerateKeypair()
	require.NoError(t, err)
	auditor := objectlocks.NewAuditor(client, sponsor)

	p := New(cfg, sponsor, store, auditor, client, signer, JSONTxDecoder{})
	return p, client, sponsor
}

func buildTxBytes(t *testing.T, sponsor gastypes.Address, refs []gastypes.ObjectRef, budget, price uint64) []byte {
	t.Helper()
	b, err := json.Marshal(txEnvelope{
		GasOwner:   sponsor.Hex(),
		GasPayment: refs,
		GasBudget:  budget,
		GasPrice:   price,
	})
	require.NoError(t, err)
	return b
}

func TestReserveGasValidatesBounds(t *testing.T) {
	p, _, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	_, _, _, err := p.ReserveGas(ctx, 0, 60)
	require.ErrorIs(t, err, gaserrors.ErrInvalidRequest)

	_, _, _, err = p.ReserveGas(ctx, MaxBudget+1, 60)
	require.ErrorIs(t, err, gaserrors.ErrInvalidRequest)

	_, _, _, err = p.ReserveGas(ctx, 100, 0)
	require.ErrorIs(t, err, gaserrors.ErrInvalidRequest)

	_, _, _, err = p.ReserveGas(ctx, 100, MaxDurationS+1)
	require.ErrorIs(t, err, gaserrors.ErrInvalidRequest)
}

func TestReserveGasSuccess(t *testing.T) {
	p, _, sponsor := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	id, refs, addr, err := p.ReserveGas(ctx, 500, 60)
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Len(t, refs, 1)
	require.Equal(t, sponsor, addr)
}

func TestExecuteTransactionHappyPath(t *testing.T) {
	p, client, sponsor := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	id, refs, _, err := p.ReserveGas(ctx, 500, 60)
	require.NoError(t, err)

	txBytes := buildTxBytes(t, sponsor, refs, 500, 20)
	effects, err := p.ExecuteTransaction(ctx, id, txBytes, []byte("user-sig"))
	require.NoError(t, err)
	require.Equal(t, mysclient.StatusSuccess, effects.Status)

	_, _, _, err = p.ReserveGas(ctx, 1000, 60)
	require.NoError(t, err, "coin must be available again after a successful execute releases it")

	_ = client
}

func TestExecuteTransactionUnknownReservation(t *testing.T) {
	p, _, sponsor := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	txBytes := buildTxBytes(t, sponsor, nil, 100, 20)
	_, err := p.ExecuteTransaction(ctx, gastypes.ReservationID(999), txBytes, []byte("sig"))
	require.ErrorIs(t, err, gaserrors.ErrReservationNotFound)
}

func TestExecuteTransactionMismatchedPayment(t *testing.T) {
	p, _, sponsor := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	id, _, _, err := p.ReserveGas(ctx, 500, 60)
	require.NoError(t, err)

	wrongRef := []gastypes.ObjectRef{{ObjectID: gastypes.HexToAddress("0xff"), Version: 1}}
	txBytes := buildTxBytes(t, sponsor, wrongRef, 500, 20)
	_, err = p.ExecuteTransaction(ctx, id, txBytes, []byte("sig"))
	require.ErrorIs(t, err, gaserrors.ErrInvalidTransaction)
}

func TestExecuteTransactionWrongGasOwner(t *testing.T) {
	p, _, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	id, refs, _, err := p.ReserveGas(ctx, 500, 60)
	require.NoError(t, err)

	txBytes := buildTxBytes(t, gastypes.HexToAddress("0xde"), refs, 500, 20)
	_, err = p.ExecuteTransaction(ctx, id, txBytes, []byte("sig"))
	require.ErrorIs(t, err, gaserrors.ErrInvalidTransaction)
}

func TestExecuteTransactionPriceBelowReference(t *testing.T) {
	p, _, sponsor := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	id, refs, _, err := p.ReserveGas(ctx, 500, 60)
	require.NoError(t, err)

	txBytes := buildTxBytes(t, sponsor, refs, 500, 1) // reference price mocked at 10
	_, err = p.ExecuteTransaction(ctx, id, txBytes, []byte("sig"))
	require.ErrorIs(t, err, gaserrors.ErrInvalidTransaction)
}

func TestExecuteTransactionRejectionReleasesCoins(t *testing.T) {
	p, client, sponsor := newTestPool(t, DefaultConfig())
	ctx := context.Background()
	client.ExecuteFunc = func(tx mysclient.SignedTransaction) (*mysclient.Effects, error) {
		return &mysclient.Effects{Status: mysclient.StatusFailure, RejectReason: "insufficient gas"}, nil
	}

	id, refs, _, err := p.ReserveGas(ctx, 500, 60)
	require.NoError(t, err)

	txBytes := buildTxBytes(t, sponsor, refs, 500, 20)
	_, err = p.ExecuteTransaction(ctx, id, txBytes, []byte("sig"))
	require.ErrorIs(t, err, gaserrors.ErrExecutionRejected)

	_, _, _, err = p.ReserveGas(ctx, 1000, 60)
	require.NoError(t, err, "a rejected execution must release its coins back to the pool")
}

func TestExecuteTransactionQuarantineDropsCoins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QuarantineOnExecuteFailure = true
	p, client, sponsor := newTestPool(t, cfg)
	ctx := context.Background()
	client.ExecuteFunc = func(tx mysclient.SignedTransaction) (*mysclient.Effects, error) {
		return &mysclient.Effects{Status: mysclient.StatusFailure, RejectReason: "bad input"}, nil
	}

	id, refs, _, err := p.ReserveGas(ctx, 500, 60)
	require.NoError(t, err)

	txBytes := buildTxBytes(t, sponsor, refs, 500, 20)
	_, err = p.ExecuteTransaction(ctx, id, txBytes, []byte("sig"))
	require.ErrorIs(t, err, gaserrors.ErrExecutionRejected)

	_, _, _, err = p.ReserveGas(ctx, 1000, 60)
	require.ErrorIs(t, err, gaserrors.ErrInsufficientPool, "quarantined coins must not be returned to the pool")
}

func TestReapOnceReturnsAuditedCoins(t *testing.T) {
	p, _, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	_, _, _, err := p.ReserveGas(ctx, 500, 1)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	p.reapOnce(ctx)

	_, _, _, err = p.ReserveGas(ctx, 900, 60)
	require.NoError(t, err, "reaper must return a still-sponsor-owned expired coin to the pool")
}

func TestReapOnceDropsCoinsNoLongerOwned(t *testing.T) {
	p, client, _ := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	_, _, _, err := p.ReserveGas(ctx, 500, 1)
	require.NoError(t, err)

	// simulate the coin moving to another owner while reserved.
	delete(client.Owners, coin(1, 1000).ObjectID)

	time.Sleep(1100 * time.Millisecond)
	p.reapOnce(ctx)

	_, _, _, err = p.ReserveGas(ctx, 100, 60)
	require.ErrorIs(t, err, gaserrors.ErrInsufficientPool, "a coin no longer sponsor-owned must not return to the pool")
}
