package statedb

import (
	"fmt"
	"sync/atomic"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/log"
)

// alertThresholdPercent is the fill level at which additions start
// logging at error severity while still succeeding.
const alertThresholdPercent = 90

// boundedCounter accumulates uint64 amounts from concurrent
// transactions, rejecting any addition that would push the total past
// its bound. The CAS loop keeps the check and the update atomic
// without a lock.
type boundedCounter struct {
	value atomic.Uint64
	bound uint64
	name  string
	limit error
}

func newBoundedCounter(name string, bound uint64, limit error) *boundedCounter {
	return &boundedCounter{bound: bound, name: name, limit: limit}
}

// Add stores current+amount if the sum stays within the bound. This
// is a whole-block failure when it does not.
func (c *boundedCounter) Add(amount uint64) error {
	if amount == 0 {
		return nil
	}
	for {
		current := c.value.Load()
		next := current + amount
		if next < current || next > c.bound {
			return fmt.Errorf("%w: %d + %d exceeds %d", c.limit, current, amount, c.bound)
		}
		if c.value.CompareAndSwap(current, next) {
			if next >= c.bound/100*alertThresholdPercent {
				log.Error(log.StateMonitoring, "counter approaching limit", "counter", c.name, "value", next, "bound", c.bound)
			}
			return nil
		}
	}
}

func (c *boundedCounter) Load() uint64 { return c.value.Load() }

// BlockCounters tracks burn and fee totals accumulated during one
// block. Both are bounded by the maximum coin supply.
type BlockCounters struct {
	burned *boundedCounter
	fees   *boundedCounter
}

func NewBlockCounters() *BlockCounters {
	return &BlockCounters{
		burned: newBoundedCounter("burned_supply", common.MaximumSupply, ErrBurnedSupplyLimit),
		fees:   newBoundedCounter("collected_fees", common.MaximumSupply, ErrFeeOverflow),
	}
}

func (c *BlockCounters) AddBurnedSupply(amount uint64) error { return c.burned.Add(amount) }
func (c *BlockCounters) AddFees(amount uint64) error         { return c.fees.Add(amount) }

func (c *BlockCounters) BurnedSupply() uint64 { return c.burned.Load() }
func (c *BlockCounters) Fees() uint64         { return c.fees.Load() }
