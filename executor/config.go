package executor

import (
	"os"
	"runtime"
	"strconv"

	"github.com/tos-network/gtos/log"
)

// EnvParallelExecution overrides the enabled flag when set; accepts
// the forms strconv.ParseBool does.
const EnvParallelExecution = "GTOS_PARALLEL_EXECUTION"

// Network selects a deployment profile.
type Network uint8

const (
	Mainnet Network = iota
	Testnet
	Devnet
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Devnet:
		return "devnet"
	default:
		return "unknown"
	}
}

// Config controls path selection and parallelism limits for block
// execution.
type Config struct {
	Network Network `json:"network"`

	// Enabled gates the parallel path entirely; when false every block
	// runs sequentially.
	Enabled bool `json:"enabled"`

	// ParallelThreshold is the minimum transaction count for a block
	// to take the parallel path. Small blocks are not worth the
	// batching overhead.
	ParallelThreshold int `json:"parallel_threshold"`

	// MaxParallelism bounds the number of concurrently executing
	// transactions within a batch.
	MaxParallelism int `json:"max_parallelism"`

	// MaxOpenBatches bounds how many batches the planner spreads
	// conflict groups across.
	MaxOpenBatches int `json:"max_open_batches"`
}

// DefaultConfig returns the profile for the given network. The
// parallel path ships disabled; setting the environment variable is
// the opt-in. Thresholds are deliberately lower on test networks so
// the parallel path gets exercised under light load.
func DefaultConfig(network Network) Config {
	cfg := Config{
		Network:        network,
		Enabled:        false,
		MaxParallelism: runtime.NumCPU(),
		MaxOpenBatches: runtime.NumCPU(),
	}
	switch network {
	case Mainnet:
		cfg.ParallelThreshold = 20
	case Testnet:
		cfg.ParallelThreshold = 10
	default:
		cfg.ParallelThreshold = 4
	}
	if raw, ok := os.LookupEnv(EnvParallelExecution); ok {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			log.Warn(log.ExecMonitoring, "ignoring invalid parallel execution override", "env", EnvParallelExecution, "value", raw)
		} else {
			cfg.Enabled = enabled
			log.Info(log.ExecMonitoring, "parallel execution override", "enabled", enabled, "network", network)
		}
	}
	return cfg
}

// normalized clamps nonsensical values so a zero Config still behaves.
func (c Config) normalized() Config {
	if c.MaxParallelism < 1 {
		c.MaxParallelism = 1
	}
	if c.MaxOpenBatches < 1 {
		c.MaxOpenBatches = 1
	}
	if c.ParallelThreshold < 1 {
		c.ParallelThreshold = 1
	}
	return c
}
