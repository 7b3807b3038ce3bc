// Command gas-station runs the transaction-sponsorship service: it
// initializes (and optionally replenishes) a pool of gas coins for a
// configured sponsor address, then serves reserve_gas/execute_tx over
// HTTP until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	goredis "github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v2"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gaspool"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/mysclient"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/objectlocks"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/poolinit"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/poolstore"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/rpcserver"
	"github.com/The-Social-Proof-Foundation/mys-gas-station/txsigner"
)

var (
	nodeURLFlag = &cli.StringFlag{
		Name:     "node-url",
		Usage:    "JSON-RPC URL of the MySocial full node",
		Required: true,
		EnvVars:  []string{"GAS_STATION_NODE_URL"},
	}
	listenAddrFlag = &cli.StringFlag{
		Name:  "listen-addr",
		Usage: "address the RPC server listens on",
		Value: ":9527",
	}
	sponsorAddressFlag = &cli.StringFlag{
		Name:     "sponsor-address",
		Usage:    "sponsor address the gas pool manages coins for",
		Required: true,
	}
	signerSidecarURLFlag = &cli.StringFlag{
		Name:    "signer-sidecar-url",
		Usage:   "URL of an HTTP signing sidecar holding the sponsor key; mutually exclusive with --signer-keypair-hex",
		EnvVars: []string{"GAS_STATION_SIGNER_URL"},
	}
	signerKeypairHexFlag = &cli.StringFlag{
		Name:    "signer-keypair-hex",
		Usage:   "hex-encoded ed25519 private key for an in-process signer; local/dev use only",
		EnvVars: []string{"GAS_STATION_SIGNER_KEY"},
	}
	redisAddrFlag = &cli.StringFlag{
		Name:    "redis-addr",
		Usage:   "Redis address for the storage backend; empty uses the in-memory backend",
		EnvVars: []string{"GAS_STATION_REDIS_ADDR"},
	}
	selectionOrderFlag = &cli.StringFlag{
		Name:  "selection-order",
		Usage: "coin selection order for reservations: largest-first or smallest-suffix",
		Value: "largest-first",
	}
	replenishIntervalFlag = &cli.DurationFlag{
		Name:  "replenish-interval",
		Usage: "how often the pool initializer re-runs to top up the pool; 0 disables replenishment",
		Value: 5 * time.Minute,
	}
	reapIntervalFlag = &cli.DurationFlag{
		Name:  "reap-interval",
		Usage: "how often the gas pool's expiration reaper runs",
		Value: 5 * time.Second,
	}
	minPoolCountFlag = &cli.IntFlag{
		Name:  "min-pool-count",
		Usage: "minimum coin count required after initialization, or startup fails",
		Value: 100,
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "optional YAML config file; explicit flags of the same name take precedence",
	}
)

func main() {
	app := &cli.App{
		Name:  "gas-station",
		Usage: "transaction-sponsorship gas pool service",
		Flags: []cli.Flag{
			nodeURLFlag,
			listenAddrFlag,
			sponsorAddressFlag,
			signerSidecarURLFlag,
			signerKeypairHexFlag,
			redisAddrFlag,
			selectionOrderFlag,
			replenishIntervalFlag,
			reapIntervalFlag,
			minPoolCountFlag,
			configFlag,
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Crit("gas station exited with error", "err", err)
	}
}

func run(cliCtx *cli.Context) error {
	if err := applyFileConfig(cliCtx); err != nil {
		return err
	}

	authToken := rpcserver.ReadAuthEnv()

	sponsor := gastypes.HexToAddress(cliCtx.String(sponsorAddressFlag.Name))
	chain := mysclient.NewRPCClient(cliCtx.String(nodeURLFlag.Name))

	signer, err := buildSigner(cliCtx)
	if err != nil {
		return fmt.Errorf("configuring signer: %w", err)
	}

	order := poolstore.LargestFirst
	if cliCtx.String(selectionOrderFlag.Name) == "smallest-suffix" {
		order = poolstore.SmallestSuffix
	}
	storage, err := buildStorage(cliCtx, order)
	if err != nil {
		return fmt.Errorf("configuring storage backend: %w", err)
	}

	auditor := objectlocks.NewAuditor(chain, sponsor)

	initCfg := poolinit.DefaultConfig()
	initCfg.MinPoolCount = cliCtx.Int(minPoolCountFlag.Name)
	initCfg.ReplenishInterval = cliCtx.Duration(replenishIntervalFlag.Name)
	initializer := poolinit.New(initCfg, sponsor, chain, signer, auditor, storage, poolinit.JSONSplitTxBuilder{})

	log.Info("initializing gas pool", "sponsor", sponsor.Hex())
	if _, err := initializer.Initialize(context.Background()); err != nil {
		return fmt.Errorf("initializing pool: %w", err)
	}
	if err := initializer.Start(); err != nil {
		return fmt.Errorf("starting replenisher: %w", err)
	}
	defer initializer.Stop()

	poolCfg := gaspool.DefaultConfig()
	poolCfg.ReapInterval = cliCtx.Duration(reapIntervalFlag.Name)
	pool := gaspool.New(poolCfg, sponsor, storage, auditor, chain, signer, gaspool.JSONTxDecoder{})
	if err := pool.Start(); err != nil {
		return fmt.Errorf("starting gas pool: %w", err)
	}
	defer pool.Stop()

	server := rpcserver.New(cliCtx.String(listenAddrFlag.Name), pool, authToken)
	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrCh:
		return err
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
		return server.Close()
	}
}

func buildSigner(cliCtx *cli.Context) (txsigner.Signer, error) {
	if cliCtx.String(signerSidecarURLFlag.Name) != "" && cliCtx.String(signerKeypairHexFlag.Name) != "" {
		return nil, fmt.Errorf("--signer-sidecar-url and --signer-keypair-hex are mutually exclusive")
	}
	if url := cliCtx.String(signerSidecarURLFlag.Name); url != "" {
		return txsigner.NewSidecar(context.Background(), url)
	}
	if hexKey := cliCtx.String(signerKeypairHexFlag.Name); hexKey != "" {
		return txsigner.KeypairFromHex(hexKey)
	}
	return nil, fmt.Errorf("one of --signer-sidecar-url or --signer-keypair-hex must be set")
}

func buildStorage(cliCtx *cli.Context, order poolstore.SelectionOrder) (poolstore.Backend, error) {
	addr := cliCtx.String(redisAddrFlag.Name)
	if addr == "" {
		return poolstore.NewMemory(order), nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	redisStore := poolstore.NewRedis(client, "gas-station", order)
	if err := redisStore.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return redisStore, nil
}
