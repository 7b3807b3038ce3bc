package mysclient

import (
	"context"
	"sync"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
)

// Mock is an in-memory Client used in tests in place of dialing a real
// node.
type Mock struct {
	mu sync.Mutex

	Coins       map[gastypes.ObjectID]gastypes.Coin
	Owners      map[gastypes.ObjectID]OwnerAndVersion
	GasPrice    uint64
	DevInspectGas uint64

	// ExecuteFunc lets a test script the effects of every
	// ExecuteTransaction/SubmitSplit call. Defaults to a no-op success.
	ExecuteFunc func(tx SignedTransaction) (*Effects, error)
}

func NewMock() *Mock {
	return &Mock{
		Coins:    make(map[gastypes.ObjectID]gastypes.Coin),
		Owners:   make(map[gastypes.ObjectID]OwnerAndVersion),
		GasPrice: 1000,
	}
}

func (m *Mock) AddCoin(c gastypes.Coin, owner gastypes.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Coins[c.ObjectID] = c
	m.Owners[c.ObjectID] = OwnerAndVersion{
		Owner:   gastypes.Owner{Kind: gastypes.OwnerAddressOwner, Address: owner},
		Version: c.Version,
	}
}

func (m *Mock) ListOwnedCoins(ctx context.Context, address gastypes.Address, minBalance uint64) ([]gastypes.Coin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var coins []gastypes.Coin
	for id, c := range m.Coins {
		ov, ok := m.Owners[id]
		if !ok || ov.Owner.Kind != gastypes.OwnerAddressOwner || ov.Owner.Address != address {
			continue
		}
		if c.Balance >= minBalance {
			coins = append(coins, c)
		}
	}
	return coins, nil
}

func (m *Mock) MultiGetOwnerAndVersion(ctx context.Context, ids []gastypes.ObjectID) (map[gastypes.ObjectID]OwnerAndVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[gastypes.ObjectID]OwnerAndVersion, len(ids))
	for _, id := range ids {
		if ov, ok := m.Owners[id]; ok {
			out[id] = ov
		}
	}
	return out, nil
}

func (m *Mock) MultiGetCoin(ctx context.Context, ids []gastypes.ObjectID) (map[gastypes.ObjectID]*gastypes.Coin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[gastypes.ObjectID]*gastypes.Coin, len(ids))
	for _, id := range ids {
		if c, ok := m.Coins[id]; ok {
			cc := c
			out[id] = &cc
		} else {
			out[id] = nil
		}
	}
	return out, nil
}

func (m *Mock) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GasPrice, nil
}

func (m *Mock) DevInspect(ctx context.Context, sender gastypes.Address, coin gastypes.ObjectRef, splitCount int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DevInspectGas, nil
}

func (m *Mock) ExecuteTransaction(ctx context.Context, tx SignedTransaction, attempts int) (*Effects, error) {
	return m.execute(tx)
}

func (m *Mock) SubmitSplit(ctx context.Context, signed SignedTransaction, attempts int) (*Effects, error) {
	return m.execute(signed)
}

func (m *Mock) execute(tx SignedTransaction) (*Effects, error) {
	m.mu.Lock()
	fn := m.ExecuteFunc
	m.mu.Unlock()
	if fn == nil {
		return &Effects{Status: StatusSuccess}, nil
	}
	return fn(tx)
}

func (m *Mock) WaitForObject(ctx context.Context, ref gastypes.ObjectRef) error {
	return nil
}
