package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
)

func account(t *testing.T) types.Account {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp.Pub
}

func setsConfig() AccountSetsConfig {
	cfg := DefaultAccountSetsConfig()
	cfg.Cooldown = 0
	return cfg
}

func TestPriorityUpDown(t *testing.T) {
	sets := newAccountSets(setsConfig())
	a := account(t)

	sets.PriorityUp(a)
	assert.Equal(t, priorityInitial, sets.Priority(a))

	sets.PriorityUp(a)
	assert.Equal(t, priorityInitial*priorityIncrease, sets.Priority(a))

	before := sets.Priority(a)
	sets.PriorityDown(a)
	assert.Less(t, sets.Priority(a), before)

	// Decaying below the cutoff drops the account entirely.
	sets.PriorityDown(a)
	sets.PriorityDown(a)
	assert.Zero(t, sets.Priority(a))
	assert.Equal(t, 0, sets.PrioritySize())
}

func TestPriorityCap(t *testing.T) {
	sets := newAccountSets(setsConfig())
	a := account(t)
	for i := 0; i < 20; i++ {
		sets.PriorityUp(a)
	}
	assert.Equal(t, priorityMax, sets.Priority(a))
}

func TestBlockAndUnblock(t *testing.T) {
	sets := newAccountSets(setsConfig())
	a := account(t)
	source := crypto.RandomHash()

	sets.PriorityUp(a)
	sets.PriorityUp(a)
	saved := sets.Priority(a)

	sets.Block(a, source)
	assert.True(t, sets.Blocked(a))
	assert.Equal(t, 0, sets.PrioritySize())
	// Never in both sets.
	assert.Zero(t, sets.Priority(a))

	// A blocked account cannot be promoted.
	sets.PriorityUp(a)
	assert.True(t, sets.Blocked(a))
	assert.Equal(t, 0, sets.PrioritySize())

	// A mismatched hint leaves it blocked.
	sets.Unblock(a, crypto.RandomHash())
	assert.True(t, sets.Blocked(a))

	// The matching source restores the saved priority.
	sets.Unblock(a, source)
	assert.False(t, sets.Blocked(a))
	assert.Equal(t, saved, sets.Priority(a))
}

func TestNextHonorsCooldown(t *testing.T) {
	cfg := setsConfig()
	cfg.Cooldown = time.Hour
	sets := newAccountSets(cfg)
	a := account(t)

	sets.PriorityUp(a)
	require.Equal(t, a, sets.Next())

	sets.Timestamp(a, false)
	assert.True(t, sets.Next().IsZero())

	sets.Timestamp(a, true)
	assert.Equal(t, a, sets.Next())
}

func TestNextPrefersHigherPriority(t *testing.T) {
	sets := newAccountSets(setsConfig())
	low, high := account(t), account(t)

	sets.PriorityUp(low)
	sets.PriorityUp(high)
	sets.PriorityUp(high)

	assert.Equal(t, high, sets.Next())
}

func TestBoundedSets(t *testing.T) {
	cfg := setsConfig()
	cfg.PrioritiesMax = 4
	cfg.BlockingMax = 4
	sets := newAccountSets(cfg)

	for i := 0; i < 10; i++ {
		sets.PriorityUp(account(t))
		assert.LessOrEqual(t, sets.PrioritySize(), 4)
	}
	for i := 0; i < 10; i++ {
		sets.Block(account(t), crypto.RandomHash())
		assert.LessOrEqual(t, sets.BlockedSize(), 4)
	}
}
