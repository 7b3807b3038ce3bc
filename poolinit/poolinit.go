// Package poolinit discovers a sponsor's on-chain coins, splits oversized
// ones into a fleet of uniformly sized small coins, and pushes the result
// into the storage backend. It runs once at startup and, optionally, on a
// schedule to top the pool back up as it is consumed.
package poolinit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/mysclient"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/objectlocks"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/poolstore"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/txsigner"
)

// calibrationSplitCount is the dev-inspect split width used to estimate
// per-output gas cost.
const calibrationSplitCount = 500

// SplitTxBuilder builds the unsigned PaySplitN transaction bytes the
// initializer submits. Like gaspool.TxDecoder, this isolates the repo
// from the chain's real BCS transaction encoding, which is out of scope.
type SplitTxBuilder interface {
	BuildPaySplitN(sender gastypes.Address, coin gastypes.ObjectRef, splitCount int, gasBudget, gasPrice uint64) ([]byte, error)
}

// Config tunes pool initialization and replenishment.
type Config struct {
	// MinSplitBalance is the minimum coin balance considered for splitting;
	// enumerating coins below this is wasted work.
	MinSplitBalance uint64

	// TargetBalance is the desired size of each coin after splitting,
	// typically a small fraction of the native unit.
	TargetBalance uint64

	// MaxSplitsPerTx bounds split_count per PaySplitN transaction (chain
	// input/output limit).
	MaxSplitsPerTx int

	// MinPoolCount is the minimum number of coins a successful
	// initialization must produce; fewer is treated as fail-fast
	// under-provisioning.
	MinPoolCount int

	// SplitGasBudget and SplitGasPrice fund the split transactions
	// themselves.
	SplitGasBudget uint64
	SplitGasPrice  uint64

	// ExecuteAttempts bounds retries of chain.SubmitSplit.
	ExecuteAttempts int

	// ReplenishInterval is how often Initializer.Start's background loop
	// runs Replenish. Zero disables the loop (Initialize-only use).
	ReplenishInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinSplitBalance:   1_000_000_000,
		TargetBalance:     100_000_000,
		MaxSplitsPerTx:    500,
		MinPoolCount:      100,
		SplitGasBudget:    50_000_000,
		SplitGasPrice:     1000,
		ExecuteAttempts:   10,
		ReplenishInterval: 5 * time.Minute,
	}
}

// Stats summarizes one Initialize/Replenish pass, logged and recorded to
// metrics so operators can watch pool health over time without re-deriving
// it from raw storage sizes.
type Stats struct {
	Enumerated     int
	SplitTxCount   int
	NewCoins       int
	Admitted       int
	Dropped        int
	CostPerOutput  uint64
	Duration       time.Duration
}

// Initializer discovers sponsor-owned coins on chain, splits them down to
// gas-sized pieces, and admits the results into the pool store, both at
// startup and on a recurring replenishment schedule.
type Initializer struct {
	cfg     Config
	sponsor gastypes.Address

	chain   mysclient.Client
	signer  txsigner.Signer
	auditor *objectlocks.Auditor
	storage poolstore.Backend
	builder SplitTxBuilder

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

func New(cfg Config, sponsor gastypes.Address, chain mysclient.Client, signer txsigner.Signer, auditor *objectlocks.Auditor, storage poolstore.Backend, builder SplitTxBuilder) *Initializer {
	return &Initializer{
		cfg:        cfg,
		sponsor:    sponsor,
		chain:      chain,
		signer:     signer,
		auditor:    auditor,
		storage:    storage,
		builder:    builder,
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the periodic replenishment loop. A zero ReplenishInterval
// leaves the initializer startup-only: Start still succeeds but the loop
// never fires.
func (ini *Initializer) Start() error {
	if ini.cfg.ReplenishInterval <= 0 {
		return nil
	}
	ini.wg.Add(1)
	go ini.loop()
	return nil
}

func (ini *Initializer) Stop() error {
	select {
	case <-ini.shutdownCh:
	default:
		close(ini.shutdownCh)
	}
	ini.wg.Wait()
	return nil
}

func (ini *Initializer) loop() {
	defer ini.wg.Done()
	defer log.Info("pool replenisher stopped")

	ticker := time.NewTicker(ini.cfg.ReplenishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ini.shutdownCh:
			return
		case <-ticker.C:
			stats, err := ini.Replenish(context.Background())
			if err != nil {
				log.Error("replenish cycle failed", "err", err)
				continue
			}
			log.Info("replenish cycle complete", "newCoins", stats.NewCoins, "admitted", stats.Admitted, "dropped", stats.Dropped)
		}
	}
}

// Initialize runs the full discover/calibrate/split/admit pipeline and
// refuses to return successfully if the resulting pool is under-provisioned.
// It is idempotent: coins already present in storage are simply re-inserted
// as a no-op (poolstore.Backend.Init's contract).
func (ini *Initializer) Initialize(ctx context.Context) (Stats, error) {
	start := time.Now()
	defer func() { runTimer.UpdateSince(start) }()

	stats, err := ini.run(ctx)
	stats.Duration = time.Since(start)
	if err != nil {
		return stats, err
	}

	sizes, err := ini.storage.Size(ctx)
	if err != nil {
		return stats, fmt.Errorf("checking pool size: %w", err)
	}
	if sizes.AvailableCount+sizes.ReservedCount < ini.cfg.MinPoolCount {
		return stats, fmt.Errorf("pool under-provisioned: have %d coins, need at least %d", sizes.AvailableCount+sizes.ReservedCount, ini.cfg.MinPoolCount)
	}
	return stats, nil
}

// Replenish is Initialize without the fail-fast MinPoolCount check: a
// scheduled top-up should never crash the process merely because this
// cycle discovered nothing to split.
func (ini *Initializer) Replenish(ctx context.Context) (Stats, error) {
	start := time.Now()
	defer func() { runTimer.UpdateSince(start) }()
	stats, err := ini.run(ctx)
	stats.Duration = time.Since(start)
	return stats, err
}

func (ini *Initializer) run(ctx context.Context) (Stats, error) {
	var stats Stats

	coins, err := ini.chain.ListOwnedCoins(ctx, ini.sponsor, ini.cfg.MinSplitBalance)
	if err != nil {
		return stats, fmt.Errorf("listing owned coins: %w", err)
	}
	stats.Enumerated = len(coins)
	if len(coins) == 0 {
		log.Info("pool init: no oversized sponsor coins found")
		return stats, nil
	}

	costPerOutput, err := ini.calibrate(ctx, coins)
	if err != nil {
		return stats, fmt.Errorf("calibrating split cost: %w", err)
	}
	stats.CostPerOutput = costPerOutput
	costPerOutputGauge.Update(int64(costPerOutput))

	var newCoins []gastypes.Coin
	for _, c := range coins {
		splitCount := int(c.Balance / ini.cfg.TargetBalance)
		if splitCount > ini.cfg.MaxSplitsPerTx {
			splitCount = ini.cfg.MaxSplitsPerTx
		}
		if splitCount < 2 {
			continue
		}

		created, err := ini.splitOne(ctx, c, splitCount)
		if err != nil {
			log.Error("pool init: split failed", "coin", c.ObjectID.Hex(), "err", err)
			continue
		}
		stats.SplitTxCount++
		newCoins = append(newCoins, created...)
		splitsMeter.Mark(1)
	}
	stats.NewCoins = len(newCoins)

	if len(newCoins) == 0 {
		return stats, nil
	}

	admitted, dropped, err := ini.auditor.Admissible(ctx, newCoins)
	if err != nil {
		return stats, fmt.Errorf("auditing newly split coins: %w", err)
	}
	stats.Admitted = len(admitted)
	stats.Dropped = len(dropped)
	admittedGauge.Update(int64(len(admitted)))

	if len(admitted) > 0 {
		if err := ini.storage.Init(ctx, admitted); err != nil {
			return stats, fmt.Errorf("inserting split coins into pool: %w", err)
		}
	}
	return stats, nil
}

// calibrate picks the largest candidate coin and dev-inspects a
// calibrationSplitCount-way split, applying a 2x safety margin against
// dev-inspect's gas estimate coming in low.
func (ini *Initializer) calibrate(ctx context.Context, coins []gastypes.Coin) (uint64, error) {
	largest := coins[0]
	for _, c := range coins[1:] {
		if c.Balance > largest.Balance {
			largest = c
		}
	}
	gasUsed, err := ini.chain.DevInspect(ctx, ini.sponsor, largest.ObjectRef, calibrationSplitCount)
	if err != nil {
		return 0, err
	}
	return 2 * gasUsed / calibrationSplitCount, nil
}

func (ini *Initializer) splitOne(ctx context.Context, c gastypes.Coin, splitCount int) ([]gastypes.Coin, error) {
	txBytes, err := ini.builder.BuildPaySplitN(ini.sponsor, c.ObjectRef, splitCount, ini.cfg.SplitGasBudget, ini.cfg.SplitGasPrice)
	if err != nil {
		return nil, fmt.Errorf("building split transaction: %w", err)
	}
	sig, err := ini.signer.Sign(ctx, txBytes)
	if err != nil {
		return nil, fmt.Errorf("signing split transaction: %w", err)
	}

	effects, err := ini.chain.SubmitSplit(ctx, mysclient.SignedTransaction{TxBytes: txBytes, SponsorSig: sig}, ini.cfg.ExecuteAttempts)
	if err != nil {
		return nil, fmt.Errorf("submitting split transaction: %w", err)
	}
	if effects.Status == mysclient.StatusFailure {
		return nil, fmt.Errorf("split transaction rejected: %s", effects.RejectReason)
	}

	created := make([]gastypes.Coin, 0, len(effects.Created))
	for _, cr := range effects.Created {
		if !cr.IsCoin {
			continue
		}
		if err := ini.chain.WaitForObject(ctx, cr.Ref); err != nil {
			log.Warn("pool init: wait for split output timed out", "object", cr.Ref.ObjectID.Hex(), "err", err)
			continue
		}
		created = append(created, gastypes.Coin{ObjectRef: cr.Ref, Balance: cr.Balance})
	}
	sort.Slice(created, func(i, j int) bool { return created[i].Balance > created[j].Balance })
	return created, nil
}
