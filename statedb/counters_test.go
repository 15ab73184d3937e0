package statedb

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tos-network/gtos/common"
)

func TestCounterAccumulates(t *testing.T) {
	counters := NewBlockCounters()
	require.NoError(t, counters.AddBurnedSupply(100))
	require.NoError(t, counters.AddBurnedSupply(50))
	require.NoError(t, counters.AddFees(7))
	assert.Equal(t, uint64(150), counters.BurnedSupply())
	assert.Equal(t, uint64(7), counters.Fees())
}

func TestCounterRejectsBeyondBound(t *testing.T) {
	counters := NewBlockCounters()
	require.NoError(t, counters.AddBurnedSupply(common.MaximumSupply))

	err := counters.AddBurnedSupply(1)
	assert.ErrorIs(t, err, ErrBurnedSupplyLimit)
	// The failed addition left the counter untouched.
	assert.Equal(t, uint64(common.MaximumSupply), counters.BurnedSupply())
}

func TestCounterRejectsUint64Overflow(t *testing.T) {
	counters := NewBlockCounters()
	require.NoError(t, counters.AddFees(common.MaximumSupply-10))

	err := counters.AddFees(^uint64(0))
	assert.ErrorIs(t, err, ErrFeeOverflow)
	assert.Equal(t, uint64(common.MaximumSupply-10), counters.Fees())
}

func TestCounterConcurrentAdds(t *testing.T) {
	counters := NewBlockCounters()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 1000; n++ {
				if err := counters.AddFees(3); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(16*1000*3), counters.Fees())
}
