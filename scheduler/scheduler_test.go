package scheduler

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
	"github.com/nanoledger/go-nano/votecache"
)

func setupChain(t *testing.T) (*chain.Ledger, crypto.KeyPair) {
	t.Helper()
	l := chain.NewLedger(store.NewMemStore())
	l.EnsureGenesis(chain.DevGenesisBlock(), chain.DevGenesisBalance)
	return l, chain.DevGenesisKey()
}

func appendSend(t *testing.T, l *chain.Ledger, kp crypto.KeyPair, amount int64) *ledger.StateBlock {
	t.Helper()
	tx := l.Store().BeginRead()
	info, ok := l.AccountInfo(tx, kp.Pub)
	require.True(t, ok)

	destination, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	var link types.HashOrAccount
	link.SetAccount(destination.Pub)

	blk := ledger.NewStateBlock(kp.Pub, info.Head, info.Representative,
		new(big.Int).Sub(info.Balance, big.NewInt(amount)), link)
	blk.SetSignature(ledger.Sign(blk, kp))

	wtx := l.Store().BeginWrite(store.TableAccounts, store.TableBlocks, store.TableFrontiers, store.TablePending)
	require.Equal(t, ledger.Progress, l.Process(wtx, blk))
	require.NoError(t, wtx.Commit())
	return blk
}

func waitActive(t *testing.T, active *election.Set, hash types.Hash) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if active.Active(hash) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("election never started")
}

func TestPrioritizationBuckets(t *testing.T) {
	p := NewPrioritization()

	// Tiny balances all land in the lowest bucket; large ones spread out.
	assert.Equal(t, 0, p.BucketOf(big.NewInt(1)))
	low := p.BucketOf(new(big.Int).Lsh(big.NewInt(1), 88))
	high := p.BucketOf(new(big.Int).Lsh(big.NewInt(1), 120))
	assert.True(t, low > 0)
	assert.True(t, high > low)
}

func TestPrioritizationOrdersByTime(t *testing.T) {
	p := NewPrioritization()
	kp := chain.DevGenesisKey()

	older := ledger.NewStateBlock(kp.Pub, crypto.RandomHash(), kp.Pub, big.NewInt(10), types.HashOrAccount{})
	newer := ledger.NewStateBlock(kp.Pub, crypto.RandomHash(), kp.Pub, big.NewInt(10), types.HashOrAccount{})

	p.Push(200, newer, big.NewInt(10))
	p.Push(100, older, big.NewInt(10))

	require.Equal(t, 2, p.Size())
	assert.Equal(t, older.Hash(), p.Top().Hash())
	p.Pop()
	assert.Equal(t, newer.Hash(), p.Top().Hash())
	p.Pop()
	assert.True(t, p.Empty())
}

func TestBucketsActivate(t *testing.T) {
	l, kp := setupChain(t)
	active := election.NewSet(10, 2)
	b := NewBuckets(l, active, stats.New())

	// Nothing unconfirmed yet.
	tx := l.Store().BeginRead()
	assert.False(t, b.Activate(tx, kp.Pub))

	// One unconfirmed send whose dependent (genesis) is cemented.
	send := appendSend(t, l, kp, 100)
	tx = l.Store().BeginRead()
	assert.True(t, b.Activate(tx, kp.Pub))
	assert.Equal(t, 1, b.Size())

	b.Start()
	defer b.Stop()
	waitActive(t, active, send.Hash())
}

func TestBucketsActivateRequiresConfirmedDependents(t *testing.T) {
	l, kp := setupChain(t)
	b := NewBuckets(l, election.NewSet(10, 2), stats.New())

	send1 := appendSend(t, l, kp, 100)
	appendSend(t, l, kp, 100)

	// The next unconfirmed block is send1 (depends on cemented genesis), so
	// activation picks it up; its successor is not eligible yet.
	tx := l.Store().BeginRead()
	assert.True(t, b.Activate(tx, kp.Pub))

	// Cement send1; the next candidate becomes send2.
	wtx := l.Store().BeginWrite(store.TableConfirmationHeight)
	l.SetConfirmationHeight(wtx, kp.Pub, 2, send1.Hash())
	require.NoError(t, wtx.Commit())

	tx = l.Store().BeginRead()
	assert.True(t, b.Activate(tx, kp.Pub))
}

func TestBucketsManualPrecedence(t *testing.T) {
	l, kp := setupChain(t)
	active := election.NewSet(10, 2)
	b := NewBuckets(l, active, stats.New())

	send := appendSend(t, l, kp, 100)
	b.Manual(send, nil, election.BehaviorManual)

	b.Start()
	defer b.Stop()
	waitActive(t, active, send.Hash())
}

type hintedFixture struct {
	ledger    *chain.Ledger
	cache     *votecache.VoteCache
	active    *election.Set
	hinted    *Hinted
	genesis   crypto.KeyPair
	requested []types.Hash
	mu        sync.Mutex
}

func newHintedFixture(t *testing.T, quorum int64) *hintedFixture {
	t.Helper()
	l, kp := setupChain(t)

	f := &hintedFixture{ledger: l, genesis: kp}
	f.cache = votecache.New(votecache.Config{MaxSize: 128, MaxVoters: 8})
	f.cache.RepWeightQuery = func(types.Account) *big.Int { return big.NewInt(100) }
	f.active = election.NewSet(10, 1)

	reps := &election.FixedOnlineReps{DeltaWeight: big.NewInt(quorum)}
	cfg := DefaultHintedConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	f.hinted = NewHinted(cfg, l, f.cache, f.active, reps, stats.New())
	f.hinted.BootstrapHash = func(hash types.Hash) {
		f.mu.Lock()
		f.requested = append(f.requested, hash)
		f.mu.Unlock()
	}
	return f
}

func voteOn(t *testing.T, cache *votecache.VoteCache, hash types.Hash, final bool) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	timestamp := uint64(1)
	if final {
		timestamp |= ledger.VoteTimestampFinal
	}
	cache.Vote(hash, ledger.NewVote(kp.Pub, timestamp, []types.Hash{hash}))
}

func TestHintedActivatesOnFinalTally(t *testing.T) {
	f := newHintedFixture(t, 100)
	send := appendSend(t, f.ledger, f.genesis, 100)

	// A final vote meeting the quorum hints the election directly.
	voteOn(t, f.cache, send.Hash(), true)

	f.hinted.Start()
	defer f.hinted.Stop()
	waitActive(t, f.active, send.Hash())
}

func TestHintedBootstrapsMissingBlock(t *testing.T) {
	f := newHintedFixture(t, 100)

	missing := crypto.RandomHash()
	voteOn(t, f.cache, missing, true)

	f.hinted.Start()
	defer f.hinted.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		n := len(f.requested)
		f.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.mu.Lock()
	require.NotEmpty(t, f.requested)
	assert.Equal(t, missing, f.requested[0])
	f.mu.Unlock()

	// The cached votes survive for when the block arrives.
	_, ok := f.cache.Find(missing)
	assert.True(t, ok)
}

func TestHintedChecksDependentsForNonFinal(t *testing.T) {
	f := newHintedFixture(t, 1000)

	// Two chained sends; only a non-final tally exists for the second, whose
	// previous is unconfirmed, so the dependent is activated instead.
	send1 := appendSend(t, f.ledger, f.genesis, 100)
	send2 := appendSend(t, f.ledger, f.genesis, 100)

	voteOn(t, f.cache, send2.Hash(), false)

	f.hinted.Start()
	defer f.hinted.Stop()
	waitActive(t, f.active, send1.Hash())
	assert.False(t, f.active.Active(send2.Hash()))
}

func TestHintedSkipsConfirmed(t *testing.T) {
	f := newHintedFixture(t, 100)
	send := appendSend(t, f.ledger, f.genesis, 100)

	wtx := f.ledger.Store().BeginWrite(store.TableConfirmationHeight)
	f.ledger.SetConfirmationHeight(wtx, f.genesis.Pub, 2, send.Hash())
	require.NoError(t, wtx.Commit())

	voteOn(t, f.cache, send.Hash(), true)

	tx := f.ledger.Store().BeginRead()
	assert.False(t, f.hinted.Activate(tx, send.Hash(), false))
	assert.False(t, f.active.Active(send.Hash()))
}
