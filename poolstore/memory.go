package poolstore

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
)

// Memory is an in-process Backend: a mutex-guarded map of available coins
// plus a map of active reservations.
//
// Memory offers none of the crash-durability the storage contract demands
// in production (see Backend's doc comment); it exists for tests and for
// single-process deployments where that guarantee is explicitly waived.
type Memory struct {
	mu sync.Mutex

	available map[gastypes.ObjectID]gastypes.Coin
	reserved  map[gastypes.ReservationID]gastypes.Reservation
	nextID    gastypes.ReservationID
	order     SelectionOrder
}

func NewMemory(order SelectionOrder) *Memory {
	return &Memory{
		available: make(map[gastypes.ObjectID]gastypes.Coin),
		reserved:  make(map[gastypes.ReservationID]gastypes.Reservation),
		order:     order,
	}
}

func (m *Memory) Init(ctx context.Context, coins []gastypes.Coin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range coins {
		if _, exists := m.available[c.ObjectID]; exists {
			continue
		}
		m.available[c.ObjectID] = c
	}
	log.Debug("pool store initialized", "added", len(coins), "available", len(m.available))
	return nil
}

func (m *Memory) Reserve(ctx context.Context, budget uint64, duration int64, now int64) (*gastypes.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]gastypes.Coin, 0, len(m.available))
	for _, c := range m.available {
		candidates = append(candidates, c)
	}
	switch m.order {
	case SmallestSuffix:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Balance < candidates[j].Balance })
	default:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Balance > candidates[j].Balance })
	}

	var (
		selected []gastypes.Coin
		sum      uint64
	)
	for _, c := range candidates {
		if len(selected) >= MaxCoinsPerReservation {
			break
		}
		selected = append(selected, c)
		sum += c.Balance
		if sum >= budget {
			break
		}
	}
	if sum < budget {
		return nil, ErrInsufficientPool
	}

	m.nextID++
	id := m.nextID
	for _, c := range selected {
		delete(m.available, c.ObjectID)
	}
	res := gastypes.Reservation{
		ID:        id,
		Coins:     selected,
		ExpiresAt: now + duration,
		Budget:    budget,
	}
	m.reserved[id] = res
	log.Debug("reserved coins", "id", id, "coins", len(selected), "budget", budget, "sum", sum)
	return &res, nil
}

func (m *Memory) Get(ctx context.Context, reservationID gastypes.ReservationID) (*gastypes.Reservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reserved[reservationID]
	if !ok {
		return nil, false, nil
	}
	return &res, true, nil
}

func (m *Memory) Release(ctx context.Context, reservationID gastypes.ReservationID, updatedCoins []gastypes.Coin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, reservationID)
	for _, c := range updatedCoins {
		m.available[c.ObjectID] = c
	}
	log.Debug("released reservation", "id", reservationID, "returned", len(updatedCoins))
	return nil
}

func (m *Memory) ExpireDue(ctx context.Context, now int64) ([]gastypes.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []gastypes.Reservation
	for id, res := range m.reserved {
		if res.ExpiresAt <= now {
			expired = append(expired, res)
			delete(m.reserved, id)
		}
	}
	if len(expired) > 0 {
		log.Debug("expired reservations", "count", len(expired))
	}
	return expired, nil
}

func (m *Memory) Size(ctx context.Context) (Sizes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, c := range m.available {
		total += c.Balance
	}
	for _, r := range m.reserved {
		total += r.TotalBalance()
	}
	return Sizes{
		AvailableCount: len(m.available),
		ReservedCount:  len(m.reserved),
		TotalBalance:   total,
	}, nil
}

// SetReservation is a test helper allowing scenarios to prime the reserved
// table directly (e.g. to fabricate an already-expired reservation).
func (m *Memory) SetReservation(res gastypes.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res.ID > m.nextID {
		m.nextID = res.ID
	}
	m.reserved[res.ID] = res
}
