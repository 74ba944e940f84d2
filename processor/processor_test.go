package processor

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoledger/go-nano/chain"
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
	"github.com/nanoledger/go-nano/election"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/stats"
	"github.com/nanoledger/go-nano/store"
)

type fixture struct {
	ledger    *chain.Ledger
	processor *BlockProcessor
	stats     *stats.Stats
	active    *election.Set
	genesis   crypto.KeyPair
}

func setup(t *testing.T) *fixture {
	t.Helper()

	l := chain.NewLedger(store.NewMemStore())
	l.EnsureGenesis(chain.DevGenesisBlock(), chain.DevGenesisBalance)

	st := stats.New()
	active := election.NewSet(100, 10)
	bp := New(DefaultConfig(), l, store.NewWriteQueue(), st, election.NewLocalVoteHistory(1024), active)
	bp.Start()
	t.Cleanup(bp.Stop)

	return &fixture{ledger: l, processor: bp, stats: st, active: active, genesis: chain.DevGenesisKey()}
}

func (f *fixture) send(t *testing.T, from crypto.KeyPair, previous types.Hash, balance *big.Int, destination types.Account) *ledger.StateBlock {
	t.Helper()
	tx := f.ledger.Store().BeginRead()
	representative := from.Pub
	if info, ok := f.ledger.AccountInfo(tx, from.Pub); ok {
		representative = info.Representative
	}
	var link types.HashOrAccount
	link.SetAccount(destination)
	blk := ledger.NewStateBlock(from.Pub, previous, representative, balance, link)
	blk.SetSignature(ledger.Sign(blk, from))
	return blk
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestAddBlockingProgress(t *testing.T) {
	f := setup(t)
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	genesisHash := chain.DevGenesisBlock().Hash()
	send := f.send(t, f.genesis, genesisHash, big.NewInt(1000), kp.Pub)

	result, err := f.processor.AddBlocking(send, SourceLive)
	require.NoError(t, err)
	assert.Equal(t, ledger.Progress, result)

	// Progress implies presence in the store.
	tx := f.ledger.Store().BeginRead()
	assert.NotNil(t, f.ledger.Store().Block().Get(tx, send.Hash()))
}

func TestForkKeepsOriginalTip(t *testing.T) {
	f := setup(t)
	a, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	b, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	genesisHash := chain.DevGenesisBlock().Hash()
	first := f.send(t, f.genesis, genesisHash, big.NewInt(1000), a.Pub)
	result, err := f.processor.AddBlocking(first, SourceLive)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, result)

	// A competing block for the same slot loses the race.
	competitor := f.send(t, f.genesis, genesisHash, big.NewInt(2000), b.Pub)
	result, err = f.processor.AddBlocking(competitor, SourceLive)
	require.NoError(t, err)
	assert.Equal(t, ledger.Fork, result)

	tx := f.ledger.Store().BeginRead()
	assert.Equal(t, first.Hash(), f.ledger.Store().Block().Successor(tx, genesisHash))
	assert.Nil(t, f.ledger.Store().Block().Get(tx, competitor.Hash()))
}

func TestForceRollsBackCompetitor(t *testing.T) {
	f := setup(t)
	a, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	b, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	// Chain A1..A3 on top of genesis.
	genesisHash := chain.DevGenesisBlock().Hash()
	a1 := f.send(t, f.genesis, genesisHash, big.NewInt(5000), a.Pub)
	result, err := f.processor.AddBlocking(a1, SourceLive)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, result)
	a2 := f.send(t, f.genesis, a1.Hash(), big.NewInt(4000), a.Pub)
	result, err = f.processor.AddBlocking(a2, SourceLive)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, result)
	a3 := f.send(t, f.genesis, a2.Hash(), big.NewInt(3000), a.Pub)
	result, err = f.processor.AddBlocking(a3, SourceLive)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, result)

	var rolledBack []types.Hash
	var mu sync.Mutex
	f.processor.OnRolledBack(func(blk ledger.Block) {
		mu.Lock()
		rolledBack = append(rolledBack, blk.Hash())
		mu.Unlock()
	})

	// B3 takes A3's slot: same qualified root, different content.
	b3 := f.send(t, f.genesis, a2.Hash(), big.NewInt(2500), b.Pub)
	f.processor.Force(b3)

	waitUntil(t, time.Second, func() bool {
		tx := f.ledger.Store().BeginRead()
		return f.ledger.Store().Block().Successor(tx, a2.Hash()) == b3.Hash()
	})

	tx := f.ledger.Store().BeginRead()
	assert.Nil(t, f.ledger.Store().Block().Get(tx, a3.Hash()))
	assert.NotNil(t, f.ledger.Store().Block().Get(tx, b3.Hash()))
	assert.Equal(t, int64(0), f.stats.Count(stats.TypeLedger, stats.DetailRollbackFailed, ""))

	mu.Lock()
	assert.Equal(t, []types.Hash{a3.Hash()}, rolledBack)
	mu.Unlock()
}

func TestGapSourceParkedAndUnblocked(t *testing.T) {
	f := setup(t)
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	genesisHash := chain.DevGenesisBlock().Hash()
	send := f.send(t, f.genesis, genesisHash, big.NewInt(1000), kp.Pub)

	// The receive arrives first and parks under its missing source.
	var link types.HashOrAccount
	link.SetHash(send.Hash())
	amount := new(big.Int).Sub(chain.DevGenesisBalance, big.NewInt(1000))
	open := ledger.NewStateBlock(kp.Pub, types.ZERO_HASH, kp.Pub, amount, link)
	open.SetSignature(ledger.Sign(open, kp))

	result, err := f.processor.AddBlocking(open, SourceLive)
	require.NoError(t, err)
	require.Equal(t, ledger.GapSource, result)
	assert.Equal(t, 1, f.processor.Unchecked.Size())

	// The send lands and triggers the parked receive.
	result, err = f.processor.AddBlocking(send, SourceLive)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, result)

	waitUntil(t, time.Second, func() bool {
		tx := f.ledger.Store().BeginRead()
		return f.ledger.Store().Block().Get(tx, open.Hash()) != nil
	})
	assert.Equal(t, 0, f.processor.Unchecked.Size())
}

func TestSourcePreservedInBatchObserver(t *testing.T) {
	f := setup(t)
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []Source
	f.processor.OnBatchProcessed(func(batch []Processed) {
		mu.Lock()
		for i := range batch {
			seen = append(seen, batch[i].Context.Source)
		}
		mu.Unlock()
	})

	genesisHash := chain.DevGenesisBlock().Hash()
	send := f.send(t, f.genesis, genesisHash, big.NewInt(1000), kp.Pub)
	result, err := f.processor.AddBlocking(send, SourceLocal)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, result)

	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == SourceLocal
	})
}

func TestAddRejectsInsufficientWork(t *testing.T) {
	f := setup(t)

	cfg := DefaultConfig()
	cfg.WorkThreshold = ledger.WorkThresholdLive
	strict := New(cfg, f.ledger, store.NewWriteQueue(), f.stats, election.NewLocalVoteHistory(16), f.active)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	send := f.send(t, f.genesis, chain.DevGenesisBlock().Hash(), big.NewInt(1), kp.Pub)

	// Zero work virtually never clears the live threshold.
	if !ledger.ValidateWork(send, cfg.WorkThreshold) {
		assert.False(t, strict.Add(send, SourceLive))
		assert.Equal(t, int64(1), f.stats.Count(stats.TypeBlockProcessor, stats.DetailInsufficientWork, ""))
	}
}

func TestFlushAndStopIdempotent(t *testing.T) {
	f := setup(t)
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	send := f.send(t, f.genesis, chain.DevGenesisBlock().Hash(), big.NewInt(1000), kp.Pub)
	require.True(t, f.processor.Add(send, SourceLive))

	f.processor.Flush()
	assert.Equal(t, 0, f.processor.Size())

	f.processor.Stop()
	f.processor.Stop()
}
