package bootstrap

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanoledger/go-nano/chain"
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
	"github.com/nanoledger/go-nano/election"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/message"
	"github.com/nanoledger/go-nano/net"
	"github.com/nanoledger/go-nano/processor"
	"github.com/nanoledger/go-nano/stats"
	"github.com/nanoledger/go-nano/store"
)

// fakeChannel records sends; stands in for a TCP peer.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []message.Message
	version byte
	dead    bool
	full    bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{version: message.ProtocolVersion}
}

func (c *fakeChannel) Send(m message.Message, callback net.SendCallback, _ net.DropPolicy, _ net.TrafficType) {
	c.mu.Lock()
	c.sent = append(c.sent, m)
	c.mu.Unlock()
	if callback != nil {
		go callback(nil, 0)
	}
}

func (c *fakeChannel) Max(net.TrafficType) bool { return c.full }
func (c *fakeChannel) Alive() bool              { return !c.dead }
func (c *fakeChannel) NetworkVersion() byte     { return c.version }
func (c *fakeChannel) NodeID() types.Account    { return types.ZERO_ACCOUNT }
func (c *fakeChannel) Endpoint() types.Endpoint { return types.Endpoint{} }
func (c *fakeChannel) Close()                   { c.dead = true }

func (c *fakeChannel) sentMessages() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Message(nil), c.sent...)
}

type fakePeers struct {
	channels []net.Channel
}

func (p *fakePeers) List() []net.Channel { return p.channels }

// env bundles the collaborators a bootstrap test needs.
type env struct {
	ledger    *chain.Ledger
	processor *processor.BlockProcessor
	stats     *stats.Stats
	genesis   crypto.KeyPair
}

func newEnv(t *testing.T) *env {
	t.Helper()

	l := chain.NewLedger(store.NewMemStore())
	l.EnsureGenesis(chain.DevGenesisBlock(), chain.DevGenesisBalance)

	st := stats.New()
	bp := processor.New(processor.DefaultConfig(), l, store.NewWriteQueue(), st,
		election.NewLocalVoteHistory(1024), election.NewSet(100, 10))
	bp.Start()
	t.Cleanup(bp.Stop)

	return &env{ledger: l, processor: bp, stats: st, genesis: chain.DevGenesisKey()}
}

// sendChain appends n sends to the genesis chain, returning them in order.
func (e *env) sendChain(t *testing.T, n int) []ledger.Block {
	t.Helper()

	var out []ledger.Block
	for i := 0; i < n; i++ {
		tx := e.ledger.Store().BeginRead()
		info, ok := e.ledger.AccountInfo(tx, e.genesis.Pub)
		require.True(t, ok)

		kp, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		var link types.HashOrAccount
		link.SetAccount(kp.Pub)
		blk := ledger.NewStateBlock(e.genesis.Pub, info.Head, info.Representative,
			new(big.Int).Sub(info.Balance, big.NewInt(1)), link)
		blk.SetSignature(ledger.Sign(blk, e.genesis))

		result, err := e.processor.AddBlocking(blk, processor.SourceLive)
		require.NoError(t, err)
		require.Equal(t, ledger.Progress, result)
		out = append(out, blk)
	}
	return out
}
