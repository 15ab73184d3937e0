// gtos-exec replays synthetic blocks through the execution core. The
// parity command runs every block through both the parallel and the
// sequential path and compares results and persisted write sequences;
// the bench command times repeated runs of one configuration.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"reflect"
	"time"

	"github.com/spf13/cobra"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/executor"
	"github.com/tos-network/gtos/log"
	"github.com/tos-network/gtos/statedb"
	"github.com/tos-network/gtos/storage"
	"github.com/tos-network/gtos/types"
)

var (
	Version = "dev"
	Commit  = "none"
)

type wallet struct {
	priv ed25519.PrivateKey
	pub  common.PublicKey
}

func makeWallets(count int) []wallet {
	wallets := make([]wallet, count)
	for i := range wallets {
		var seed [ed25519.SeedSize]byte
		binary.BigEndian.PutUint64(seed[:8], uint64(i+1))
		priv := ed25519.NewKeyFromSeed(seed[:])
		wallets[i] = wallet{
			priv: priv,
			pub:  types.PublicKeyFromEd25519(priv.Public().(ed25519.PublicKey)),
		}
	}
	return wallets
}

func seedStore(ctx context.Context, store storage.Storage, wallets []wallet, balance uint64) error {
	for _, w := range wallets {
		if err := store.RegisterAccount(ctx, w.pub, 1); err != nil {
			return err
		}
		if err := store.SetLastNonceTo(ctx, w.pub, 1, 0); err != nil {
			return err
		}
		if err := store.SetLastBalanceTo(ctx, w.pub, common.NativeAsset, 1, balance); err != nil {
			return err
		}
	}
	return nil
}

// makeBlock generates a block of signed transfers and burns, with a
// configurable share of deliberately failing transactions.
func makeBlock(rng *rand.Rand, wallets []wallet, txCount int, failPct int) *types.Block {
	miner := wallets[0]
	nonces := make(map[common.PublicKey]uint64)
	txs := make([]*types.Transaction, 0, txCount)
	for i := 0; i < txCount; i++ {
		from := wallets[rng.Intn(len(wallets))]
		to := wallets[rng.Intn(len(wallets))]
		for to.pub == from.pub {
			to = wallets[rng.Intn(len(wallets))]
		}
		nonce := nonces[from.pub]
		nonces[from.pub]++

		tx := &types.Transaction{
			Version: types.TxVersionV2,
			Source:  from.pub,
			Fee:     1,
			Nonce:   nonce,
		}
		switch {
		case rng.Intn(100) < failPct:
			// Overspend that passes format checks but fails on funds.
			tx.Data = types.Transfers{{
				Asset:       common.NativeAsset,
				Destination: to.pub,
				Amount:      1 << 62,
			}}
		case rng.Intn(10) == 0:
			tx.Data = &types.BurnPayload{
				Asset:  common.NativeAsset,
				Amount: uint64(1 + rng.Intn(25)),
			}
		default:
			tx.Data = types.Transfers{{
				Asset:       common.NativeAsset,
				Destination: to.pub,
				Amount:      uint64(1 + rng.Intn(100)),
			}}
		}
		types.SignTransaction(from.priv, tx)
		txs = append(txs, tx)
	}
	return &types.Block{
		TopoHeight:   10,
		Miner:        miner.pub,
		Reward:       1_000,
		Transactions: txs,
	}
}

type runOutcome struct {
	results []types.TransactionResult
	merged  *statedb.MergeResult
	metrics *executor.Metrics
}

func runBlock(ctx context.Context, cfg executor.Config, wallets []wallet, balance uint64, block *types.Block) (*runOutcome, error) {
	store := storage.NewMemoryStore(cfg.Network == executor.Mainnet)
	defer store.Close()
	if err := seedStore(ctx, store, wallets, balance); err != nil {
		return nil, err
	}
	state := statedb.NewStagedState(store, block.TopoHeight)
	exec := executor.New(cfg, types.Ed25519Verifier{})
	results, metrics, err := exec.Execute(ctx, state, block)
	if err != nil {
		return nil, err
	}
	merged, err := statedb.Merge(ctx, state, store)
	if err != nil {
		return nil, err
	}
	return &runOutcome{results: results, merged: merged, metrics: metrics}, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "gtos-exec",
		Short: "TOS block execution replay and benchmarking",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		accounts int
		txCount  int
		blocks   int
		seed     int64
		failPct  int
		balance  uint64
		network  string
		logLevel string
		debug    string
	)
	rootCmd.PersistentFlags().IntVar(&accounts, "accounts", 16, "number of funded accounts")
	rootCmd.PersistentFlags().IntVar(&txCount, "txs", 50, "transactions per block")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 1, "rng seed")
	rootCmd.PersistentFlags().IntVar(&failPct, "fail-pct", 5, "percent of deliberately failing transactions")
	rootCmd.PersistentFlags().Uint64Var(&balance, "balance", 10_000, "initial balance per account")
	rootCmd.PersistentFlags().StringVar(&network, "network", "devnet", "network profile: mainnet, testnet, devnet")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "comma separated debug modules")

	configFor := func() executor.Config {
		switch network {
		case "mainnet":
			return executor.DefaultConfig(executor.Mainnet)
		case "testnet":
			return executor.DefaultConfig(executor.Testnet)
		default:
			return executor.DefaultConfig(executor.Devnet)
		}
	}
	setupLogging := func() {
		log.InitLogger(logLevel)
		log.EnableModules(debug)
	}

	parityCmd := &cobra.Command{
		Use:   "parity",
		Short: "Run blocks through both paths and compare outcomes",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			ctx := context.Background()
			wallets := makeWallets(accounts)

			parallelCfg := configFor()
			parallelCfg.Enabled = true
			parallelCfg.ParallelThreshold = 1
			sequentialCfg := parallelCfg
			sequentialCfg.Enabled = false

			mismatches := 0
			for b := 0; b < blocks; b++ {
				rng := rand.New(rand.NewSource(seed + int64(b)))
				block := makeBlock(rng, wallets, txCount, failPct)

				parallel, err := runBlock(ctx, parallelCfg, wallets, balance, block)
				if err != nil {
					fmt.Printf("block %d: parallel run failed: %v\n", b, err)
					os.Exit(1)
				}
				sequential, err := runBlock(ctx, sequentialCfg, wallets, balance, block)
				if err != nil {
					fmt.Printf("block %d: sequential run failed: %v\n", b, err)
					os.Exit(1)
				}

				ok := true
				if !reflect.DeepEqual(parallel.results, sequential.results) {
					fmt.Printf("block %d: results diverged\n", b)
					ok = false
				}
				if !reflect.DeepEqual(parallel.merged.Writes, sequential.merged.Writes) {
					fmt.Printf("block %d: write sequences diverged (%d vs %d writes)\n",
						b, len(parallel.merged.Writes), len(sequential.merged.Writes))
					ok = false
				}
				if ok {
					fmt.Printf("block %d: OK  parallel=%s  sequential=%s  writes=%d\n",
						b, parallel.metrics.Summary(), sequential.metrics.Summary(), len(parallel.merged.Writes))
				} else {
					mismatches++
				}
			}
			if mismatches > 0 {
				fmt.Printf("%d/%d blocks diverged\n", mismatches, blocks)
				os.Exit(1)
			}
			fmt.Printf("all %d blocks matched\n", blocks)
		},
	}
	parityCmd.Flags().IntVar(&blocks, "blocks", 10, "number of blocks to replay")

	var (
		iterations int
		parallel   bool
	)
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Time repeated executions of one generated block",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			ctx := context.Background()
			wallets := makeWallets(accounts)
			rng := rand.New(rand.NewSource(seed))
			block := makeBlock(rng, wallets, txCount, failPct)
			cfg := configFor()
			cfg.Enabled = parallel
			cfg.ParallelThreshold = 1

			var total time.Duration
			for i := 0; i < iterations; i++ {
				start := time.Now()
				outcome, err := runBlock(ctx, cfg, wallets, balance, block)
				if err != nil {
					fmt.Printf("iteration %d failed: %v\n", i, err)
					os.Exit(1)
				}
				elapsed := time.Since(start)
				total += elapsed
				fmt.Printf("iteration %d: %s (wall %s)\n", i, outcome.metrics.Summary(), elapsed)
			}
			fmt.Printf("mean %s over %d iterations (%d txs, network %s)\n",
				total/time.Duration(iterations), iterations, txCount, network)
		},
	}
	benchCmd.Flags().IntVar(&iterations, "iterations", 10, "number of timed runs")
	benchCmd.Flags().BoolVar(&parallel, "parallel", true, "run the parallel path instead of sequential")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gtos-exec %s (%s)\n", Version, Commit)
		},
	}

	rootCmd.AddCommand(parityCmd, benchCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
