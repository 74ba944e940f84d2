package broadcast

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
	"github.com/nanoledger/go-nano/processor"
	"github.com/nanoledger/go-nano/stats"
	"github.com/nanoledger/go-nano/store"
)

type countingFlooder struct {
	mu     sync.Mutex
	hashes []types.Hash
}

func (f *countingFlooder) FloodBlockInitial(blk ledger.Block) {
	f.mu.Lock()
	f.hashes = append(f.hashes, blk.Hash())
	f.mu.Unlock()
}

func (f *countingFlooder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hashes)
}

type fixture struct {
	ledger      *chain.Ledger
	processor   *processor.BlockProcessor
	flooder     *countingFlooder
	broadcaster *Broadcaster
	genesis     crypto.KeyPair
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()

	l := chain.NewLedger(store.NewMemStore())
	l.EnsureGenesis(chain.DevGenesisBlock(), chain.DevGenesisBalance)

	st := stats.New()
	bp := processor.New(processor.DefaultConfig(), l, store.NewWriteQueue(), st,
		election.NewLocalVoteHistory(64), election.NewSet(100, 10))
	bp.Start()
	t.Cleanup(bp.Stop)

	flooder := &countingFlooder{}
	b := New(cfg, l, bp, flooder, st)
	b.Start()
	t.Cleanup(b.Stop)

	return &fixture{ledger: l, processor: bp, flooder: flooder, broadcaster: b, genesis: chain.DevGenesisKey()}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	cfg.BroadcastInterval = 20 * time.Millisecond
	return cfg
}

func (f *fixture) localSend(t *testing.T) *ledger.StateBlock {
	t.Helper()
	tx := f.ledger.Store().BeginRead()
	info, ok := f.ledger.AccountInfo(tx, f.genesis.Pub)
	require.True(t, ok)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	var link types.HashOrAccount
	link.SetAccount(kp.Pub)
	blk := ledger.NewStateBlock(f.genesis.Pub, info.Head, info.Representative,
		new(big.Int).Sub(info.Balance, big.NewInt(1)), link)
	blk.SetSignature(ledger.Sign(blk, f.genesis))

	result, err := f.processor.AddBlocking(blk, processor.SourceLocal)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, result)
	return blk
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
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

func TestLocalBlockBroadcastAndRepeat(t *testing.T) {
	f := setup(t, fastConfig())
	blk := f.localSend(t)

	waitFor(t, time.Second, func() bool { return f.broadcaster.Size() == 1 })

	// First broadcast happens promptly, repeats follow.
	waitFor(t, time.Second, func() bool { return f.flooder.count() >= 2 })
	f.flooder.mu.Lock()
	assert.Equal(t, blk.Hash(), f.flooder.hashes[0])
	f.flooder.mu.Unlock()
}

func TestLiveBlocksNotRetained(t *testing.T) {
	f := setup(t, fastConfig())

	tx := f.ledger.Store().BeginRead()
	info, _ := f.ledger.AccountInfo(tx, f.genesis.Pub)
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	var link types.HashOrAccount
	link.SetAccount(kp.Pub)
	blk := ledger.NewStateBlock(f.genesis.Pub, info.Head, info.Representative,
		new(big.Int).Sub(info.Balance, big.NewInt(1)), link)
	blk.SetSignature(ledger.Sign(blk, f.genesis))

	result, err := f.processor.AddBlocking(blk, processor.SourceLive)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, result)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.broadcaster.Size())
}

func TestConfirmedBlockEvicted(t *testing.T) {
	f := setup(t, fastConfig())
	blk := f.localSend(t)

	// Let it broadcast at least once, then cement it.
	waitFor(t, time.Second, func() bool { return f.flooder.count() >= 1 })

	wtx := f.ledger.Store().BeginWrite(store.TableConfirmationHeight)
	f.ledger.SetConfirmationHeight(wtx, f.genesis.Pub, 2, blk.Hash())
	require.NoError(t, wtx.Commit())

	waitFor(t, time.Second, func() bool { return f.broadcaster.Size() == 0 })
}

func TestRolledBackBlockRemoved(t *testing.T) {
	f := setup(t, fastConfig())
	blk := f.localSend(t)
	waitFor(t, time.Second, func() bool { return f.broadcaster.Size() == 1 })

	// A competing forced block rolls the local one back and the broadcaster
	// forgets it.
	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	var link types.HashOrAccount
	link.SetAccount(other.Pub)
	competitor := ledger.NewStateBlock(f.genesis.Pub, blk.Previous(), f.genesis.Pub,
		new(big.Int).Sub(chain.DevGenesisBalance, big.NewInt(2)), link)
	competitor.SetSignature(ledger.Sign(competitor, f.genesis))

	f.processor.Force(competitor)
	waitFor(t, time.Second, func() bool { return f.broadcaster.Size() == 0 })
}
