// Package gaspool is the in-process façade combining the storage backend,
// the object-lock auditor, the chain client and the signer into the two
// public operations a caller sees: ReserveGas and ExecuteTransaction. It
// also owns the expiration reaper, the one background loop that keeps the
// storage backend's reserved table from leaking coins a caller never came
// back for.
package gaspool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gaserrors"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/mysclient"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/objectlocks"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/poolstore"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/txsigner"
)

// MaxBudget and MaxDurationS (in seconds) bound a single reservation request.
const (
	MaxBudget     = 2_000_000_000
	MaxDurationS  = 600
	gasPriceCacheTTL = 30 * time.Second
)

// TxDecoder decodes the opaque transaction bytes a caller submits to
// execute_transaction into the gas-relevant fields the pool must validate.
// The wire format of a MySocial transaction is outside this package's
// concern; production deployments supply a decoder for the chain's actual
// BCS-style encoding, tests supply a fake.
type TxDecoder interface {
	Decode(txBytes []byte) (mysclient.TransactionKind, error)
}

// Config tunes gas pool behavior. Zero value is not useful; use
// DefaultConfig and override selectively.
type Config struct {
	// ReapInterval is how often the expiration reaper runs.
	ReapInterval time.Duration

	// ExecuteAttempts bounds retries of chain.ExecuteTransaction.
	ExecuteAttempts int

	// QuarantineOnExecuteFailure, when true, does not return a
	// reservation's coins to available on ExecutionRejected or
	// ChainUnavailable; instead they are dropped from the pool. Nothing
	// re-verifies or re-admits dropped coins later: replenishment admits
	// only coins created by its own split transactions.
	// Default false: unconditional re-admission of the reserved coins is
	// the conservative default, since a false rejection (the chain call
	// itself failing rather than the transaction being rejected) should
	// not strand coins out of circulation.
	QuarantineOnExecuteFailure bool
}

func DefaultConfig() Config {
	return Config{
		ReapInterval:    5 * time.Second,
		ExecuteAttempts: 10,
	}
}

// Pool is the gas station's reservation engine.
type Pool struct {
	cfg     Config
	sponsor gastypes.Address

	storage poolstore.Backend
	auditor *objectlocks.Auditor
	chain   mysclient.Client
	signer  txsigner.Signer
	decoder TxDecoder

	// reservations caches the coin set and budget of each reservation this
	// process has granted, so execute_transaction's hot path can check
	// multiset equality against what the caller submits without a round
	// trip to storage. It is a cache, not the source of truth: a miss
	// (e.g. a reservation granted by a previous process before a restart)
	// falls through to storage.Get, which the backend must answer
	// correctly for as long as the reservation hasn't expired.
	reservations sync.Map // gastypes.ReservationID -> gastypes.Reservation

	gasPriceMu        sync.Mutex
	cachedGasPrice    uint64
	gasPriceFetchedAt time.Time

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

func New(cfg Config, sponsor gastypes.Address, storage poolstore.Backend, auditor *objectlocks.Auditor, chain mysclient.Client, signer txsigner.Signer, decoder TxDecoder) *Pool {
	return &Pool{
		cfg:        cfg,
		sponsor:    sponsor,
		storage:    storage,
		auditor:    auditor,
		chain:      chain,
		signer:     signer,
		decoder:    decoder,
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the expiration reaper: one goroutine, one shutdown
// channel, a ticker-driven loop.
func (p *Pool) Start() error {
	p.wg.Add(1)
	go p.reapLoop()
	return nil
}

func (p *Pool) Stop() error {
	close(p.shutdownCh)
	p.wg.Wait()
	return nil
}

func (p *Pool) reapLoop() {
	defer p.wg.Done()
	defer log.Info("gas pool reaper stopped")

	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdownCh:
			return
		case <-ticker.C:
			p.reapOnce(context.Background())
		}
	}
}

// ReserveGas validates the request and asks the storage backend to
// atomically reserve a covering set of coins. There is no chain
// interaction on this path: chain-truth validation happens only at
// admission and at reconciliation, not on every reservation.
func (p *Pool) ReserveGas(ctx context.Context, budget uint64, durationSecs int64) (gastypes.ReservationID, []gastypes.ObjectRef, gastypes.Address, error) {
	if budget == 0 || budget > MaxBudget {
		return 0, nil, gastypes.Address{}, gaserrors.Invalid(fmt.Sprintf("gas_budget must be in (0, %d]", MaxBudget))
	}
	if durationSecs <= 0 || durationSecs > MaxDurationS {
		return 0, nil, gastypes.Address{}, gaserrors.Invalid(fmt.Sprintf("reserve_duration_secs must be in (0, %d]", MaxDurationS))
	}

	now := time.Now().Unix()
	res, err := p.storage.Reserve(ctx, budget, durationSecs, now)
	if err != nil {
		if err == poolstore.ErrInsufficientPool {
			reserveInsufficientMeter.Mark(1)
			return 0, nil, gastypes.Address{}, gaserrors.ErrInsufficientPool
		}
		return 0, nil, gastypes.Address{}, err
	}

	p.reservations.Store(res.ID, *res)
	reserveCountMeter.Mark(1)
	coinsPerReservationGauge.Update(int64(len(res.Coins)))
	budgetGauge.Update(int64(budget))
	log.Debug("reserved gas", "id", res.ID, "coins", len(res.Coins), "budget", budget)

	return res.ID, res.ObjectRefs(), p.sponsor, nil
}

// ExecuteTransaction validates the caller's transaction against its
// reservation, countersigns it, submits it to the chain, and reconciles
// the reservation's coins from the observed effects.
func (p *Pool) ExecuteTransaction(ctx context.Context, reservationID gastypes.ReservationID, txBytes []byte, userSig []byte) (*mysclient.Effects, error) {
	start := time.Now()
	defer func() { executeTimer.UpdateSince(start) }()

	kind, err := p.decoder.Decode(txBytes)
	if err != nil {
		return nil, gaserrors.InvalidTransaction(fmt.Sprintf("decoding transaction: %v", err))
	}

	res, err := p.loadReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if kind.GasOwner != p.sponsor {
		return nil, gaserrors.InvalidTransaction("gas_owner does not match sponsor address")
	}
	if !sameCoinRefs(kind.GasPayment, res.ObjectRefs()) {
		return nil, gaserrors.InvalidTransaction("gas_payment does not match reservation's coins")
	}
	if kind.GasBudget > res.Budget {
		return nil, gaserrors.InvalidTransaction("gas_budget exceeds reservation budget")
	}

	refPrice, err := p.referenceGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	if kind.GasPrice < refPrice {
		return nil, gaserrors.InvalidTransaction("gas_price below reference gas price")
	}

	sponsorSig, err := p.signer.Sign(ctx, txBytes)
	if err != nil {
		p.release(ctx, reservationID, res.Coins)
		return nil, err
	}

	signed := mysclient.SignedTransaction{TxBytes: txBytes, UserSig: userSig, SponsorSig: sponsorSig}
	effects, err := p.chain.ExecuteTransaction(ctx, signed, p.cfg.ExecuteAttempts)
	if err != nil {
		executeFailureMeter.Mark(1)
		p.finishFailedExecute(ctx, reservationID, res)
		return nil, fmt.Errorf("%w: %v", gaserrors.ErrChainUnavailable, err)
	}

	if effects.Status == mysclient.StatusFailure {
		executeRejectedMeter.Mark(1)
		p.finishFailedExecute(ctx, reservationID, res)
		return effects, gaserrors.ExecutionRejected(effects.RejectReason)
	}

	executeSuccessMeter.Mark(1)
	updated := p.coinsFromEffects(res, effects)
	p.release(ctx, reservationID, updated)
	return effects, nil
}

// loadReservation returns a reservation by id, preferring the in-process
// cache populated by ReserveGas and falling back to the storage backend
// when the cache misses — the path a reservation granted by an earlier
// process (before a restart) takes, since the backend is what actually
// keeps it across the restart. A reservation whose expires_at has passed
// is reported as not found even if the reaper has not collected it yet.
func (p *Pool) loadReservation(ctx context.Context, reservationID gastypes.ReservationID) (gastypes.Reservation, error) {
	var res gastypes.Reservation
	if v, ok := p.reservations.Load(reservationID); ok {
		res = v.(gastypes.Reservation)
	} else {
		stored, found, err := p.storage.Get(ctx, reservationID)
		if err != nil {
			return gastypes.Reservation{}, err
		}
		if !found {
			return gastypes.Reservation{}, gaserrors.ErrReservationNotFound
		}
		res = *stored
		p.reservations.Store(reservationID, res)
	}
	if res.ExpiresAt <= time.Now().Unix() {
		return gastypes.Reservation{}, gaserrors.ErrReservationNotFound
	}
	return res, nil
}

// finishFailedExecute disposes of a reservation whose execution failed
// (chain unreachable or deterministic rejection). Default behavior returns
// the reservation's coins unchanged; QuarantineOnExecuteFailure instead
// drops them from the pool, and no later pass re-admits them.
func (p *Pool) finishFailedExecute(ctx context.Context, reservationID gastypes.ReservationID, res gastypes.Reservation) {
	if p.cfg.QuarantineOnExecuteFailure {
		p.release(ctx, reservationID, nil)
		return
	}
	p.release(ctx, reservationID, res.Coins)
}

func (p *Pool) release(ctx context.Context, reservationID gastypes.ReservationID, updated []gastypes.Coin) {
	p.reservations.Delete(reservationID)
	if err := p.storage.Release(ctx, reservationID, updated); err != nil {
		log.Error("failed to release reservation", "id", reservationID, "err", err)
	}
}

// coinsFromEffects derives the updated coin set for a reservation from
// observed transaction effects: mutated reserved coins get their fresh
// version/digest/balance, untouched coins are left as-is, deleted coins
// are dropped.
func (p *Pool) coinsFromEffects(reservation gastypes.Reservation, effects *mysclient.Effects) []gastypes.Coin {
	deleted := make(map[gastypes.ObjectID]bool, len(effects.Deleted))
	for _, id := range effects.Deleted {
		deleted[id] = true
	}
	mutated := make(map[gastypes.ObjectID]mysclient.MutatedObject, len(effects.Mutated))
	for _, m := range effects.Mutated {
		if m.IsCoin {
			mutated[m.Ref.ObjectID] = m
		}
	}

	var updated []gastypes.Coin
	for _, c := range reservation.Coins {
		if deleted[c.ObjectID] {
			continue
		}
		if m, ok := mutated[c.ObjectID]; ok {
			updated = append(updated, gastypes.Coin{Balance: m.Balance, ObjectRef: m.Ref})
			continue
		}
		updated = append(updated, c)
	}
	return updated
}

// sameCoinRefs reports whether a and b contain the same object refs
// (object id, version and digest all equal), order-independent: exact
// multiset equality between the submitted gas payment and the reservation
// it claims to use.
func sameCoinRefs(a, b []gastypes.ObjectRef) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[gastypes.ObjectRef]int, len(a))
	for _, r := range a {
		counts[r]++
	}
	for _, r := range b {
		counts[r]--
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}

// referenceGasPrice is cached process-wide for up to gasPriceCacheTTL;
// staleness is acceptable because an underpriced transaction is rejected
// at execution and surfaces as ExecutionRejected.
func (p *Pool) referenceGasPrice(ctx context.Context) (uint64, error) {
	p.gasPriceMu.Lock()
	if time.Since(p.gasPriceFetchedAt) < gasPriceCacheTTL && p.cachedGasPrice > 0 {
		price := p.cachedGasPrice
		p.gasPriceMu.Unlock()
		return price, nil
	}
	p.gasPriceMu.Unlock()

	price, err := p.chain.ReferenceGasPrice(ctx)
	if err != nil {
		return 0, err
	}
	p.gasPriceMu.Lock()
	p.cachedGasPrice = price
	p.gasPriceFetchedAt = time.Now()
	p.gasPriceMu.Unlock()
	return price, nil
}

// reapOnce runs one pass of the expiration reaper: collect due
// reservations, re-audit their coins against chain truth, return the
// returnable ones to the pool, drop the lost ones.
func (p *Pool) reapOnce(ctx context.Context) {
	start := time.Now()
	defer func() { reapTimer.UpdateSince(start) }()

	expired, err := p.storage.ExpireDue(ctx, time.Now().Unix())
	if err != nil {
		log.Error("reaper: ExpireDue failed", "err", err)
		return
	}
	if len(expired) == 0 {
		return
	}
	expirationsMeter.Mark(int64(len(expired)))

	var allCoins []gastypes.Coin
	for _, res := range expired {
		allCoins = append(allCoins, res.Coins...)
		p.reservations.Delete(res.ID)
	}

	admitted, dropped, err := p.auditor.Admissible(ctx, allCoins)
	if err != nil {
		// the chain lookup itself failed, not an ownership decision: the
		// coins are already out of storage (ExpireDue removed them), so
		// they are dropped from the pool. Replenish cycles do not bring
		// them back; they admit only coins created by their own splits.
		log.Error("reaper: object-lock audit failed, coins dropped from pool", "err", err, "count", len(allCoins))
		lostCoinsMeter.Mark(int64(len(allCoins)))
		return
	}
	if len(dropped) > 0 {
		lostCoinsMeter.Mark(int64(len(dropped)))
		log.Info("reaper: dropped coins no longer sponsor-owned", "count", len(dropped))
	}

	if len(admitted) > 0 {
		// ExpireDue already removed every expired reservation from the
		// reserved table; Init is the backend's direct "add to available"
		// primitive, with no reservation id to tie the batch to.
		if err := p.storage.Init(ctx, admitted); err != nil {
			log.Error("reaper: failed to return admitted coins to pool", "err", err)
		}
	}
	log.Debug("reaper cycle complete", "expired", len(expired), "returned", len(admitted), "lost", len(dropped))
}
