package bootstrap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoledger/go-nano/chain"
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
	"github.com/nanoledger/go-nano/message"
	"github.com/nanoledger/go-nano/net"
	"github.com/nanoledger/go-nano/stats"
)

type serverFixture struct {
	env     *env
	server  *Server
	channel *fakeChannel

	mu        sync.Mutex
	responses []*message.AscPullAck
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	e := newEnv(t)

	f := &serverFixture{env: e, channel: newFakeChannel()}
	f.server = NewServer(e.ledger, message.NetworkDev, e.stats)
	f.server.OnResponse = func(ack *message.AscPullAck, _ net.Channel) {
		f.mu.Lock()
		f.responses = append(f.responses, ack)
		f.mu.Unlock()
	}
	f.server.Start()
	t.Cleanup(f.server.Stop)
	return f
}

func (f *serverFixture) awaitResponse(t *testing.T) *message.AscPullAck {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.responses) > 0 {
			response := f.responses[0]
			f.responses = f.responses[1:]
			f.mu.Unlock()
			return response
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no response from bootstrap server")
	return nil
}

func TestServerBlocksByHash(t *testing.T) {
	f := newServerFixture(t)
	blocks := f.env.sendChain(t, 3)

	var start types.HashOrAccount
	start.SetHash(blocks[0].Hash())
	req := message.NewAscPullReq(message.NetworkDev, 42, &message.AscPullReqBlocks{
		Start:     start,
		Count:     8,
		StartType: message.HashTypeBlock,
	})
	require.True(t, f.server.Request(req, f.channel))

	response := f.awaitResponse(t)
	assert.Equal(t, uint64(42), response.ID)
	payload := response.Payload.(*message.AscPullAckBlocks)
	// Successors from the start hash onwards.
	require.Len(t, payload.Blocks, 3)
	assert.Equal(t, blocks[0].Hash(), payload.Blocks[0].Hash())
	assert.Equal(t, blocks[1].Hash(), payload.Blocks[1].Hash())
	assert.Equal(t, blocks[2].Hash(), payload.Blocks[2].Hash())
}

func TestServerBlocksByAccountStartsAtOpen(t *testing.T) {
	f := newServerFixture(t)
	f.env.sendChain(t, 2)

	var start types.HashOrAccount
	start.SetAccount(f.env.genesis.Pub)
	req := message.NewAscPullReq(message.NetworkDev, 7, &message.AscPullReqBlocks{
		Start:     start,
		Count:     128,
		StartType: message.HashTypeAccount,
	})
	require.True(t, f.server.Request(req, f.channel))

	response := f.awaitResponse(t)
	payload := response.Payload.(*message.AscPullAckBlocks)
	require.NotEmpty(t, payload.Blocks)
	assert.Equal(t, chain.DevGenesisBlock().Hash(), payload.Blocks[0].Hash())
}

func TestServerBlocksUnknownTarget(t *testing.T) {
	f := newServerFixture(t)

	var start types.HashOrAccount
	start.SetHash(crypto.RandomHash())
	req := message.NewAscPullReq(message.NetworkDev, 9, &message.AscPullReqBlocks{
		Start:     start,
		Count:     8,
		StartType: message.HashTypeBlock,
	})
	require.True(t, f.server.Request(req, f.channel))

	// Unknown start yields an empty response, distinguishable by the
	// terminator only.
	response := f.awaitResponse(t)
	payload := response.Payload.(*message.AscPullAckBlocks)
	assert.Empty(t, payload.Blocks)
}

func TestServerAccountInfo(t *testing.T) {
	f := newServerFixture(t)
	blocks := f.env.sendChain(t, 2)

	var target types.HashOrAccount
	target.SetAccount(f.env.genesis.Pub)
	req := message.NewAscPullReq(message.NetworkDev, 11, &message.AscPullReqAccountInfo{
		Target:     target,
		TargetType: message.HashTypeAccount,
	})
	require.True(t, f.server.Request(req, f.channel))

	response := f.awaitResponse(t)
	payload := response.Payload.(*message.AscPullAckAccountInfo)
	assert.Equal(t, f.env.genesis.Pub, payload.Account)
	assert.Equal(t, chain.DevGenesisBlock().Hash(), payload.Open)
	assert.Equal(t, blocks[1].Hash(), payload.Head)
	assert.Equal(t, uint64(3), payload.BlockCount)
	assert.Equal(t, uint64(1), payload.ConfHeight)
}

func TestServerAccountInfoByBlockHash(t *testing.T) {
	f := newServerFixture(t)
	blocks := f.env.sendChain(t, 1)

	var target types.HashOrAccount
	target.SetHash(blocks[0].Hash())
	req := message.NewAscPullReq(message.NetworkDev, 12, &message.AscPullReqAccountInfo{
		Target:     target,
		TargetType: message.HashTypeBlock,
	})
	require.True(t, f.server.Request(req, f.channel))

	response := f.awaitResponse(t)
	payload := response.Payload.(*message.AscPullAckAccountInfo)
	assert.Equal(t, f.env.genesis.Pub, payload.Account)
}

func TestServerAccountInfoUnknown(t *testing.T) {
	f := newServerFixture(t)

	var target types.HashOrAccount
	target.SetAccount(types.Account(crypto.RandomHash()))
	req := message.NewAscPullReq(message.NetworkDev, 13, &message.AscPullReqAccountInfo{
		Target:     target,
		TargetType: message.HashTypeAccount,
	})
	require.True(t, f.server.Request(req, f.channel))

	response := f.awaitResponse(t)
	payload := response.Payload.(*message.AscPullAckAccountInfo)
	// Only the target echoes back; everything else stays zero.
	assert.Equal(t, target.AsAccount(), payload.Account)
	assert.Equal(t, types.ZERO_HASH, payload.Head)
	assert.Equal(t, uint64(0), payload.BlockCount)
}

func TestServerFrontiers(t *testing.T) {
	f := newServerFixture(t)
	f.env.sendChain(t, 1)

	req := message.NewAscPullReq(message.NetworkDev, 14, &message.AscPullReqFrontiers{
		Start: types.ZERO_ACCOUNT,
		Count: 10,
	})
	require.True(t, f.server.Request(req, f.channel))

	response := f.awaitResponse(t)
	payload := response.Payload.(*message.AscPullAckFrontiers)
	require.NotEmpty(t, payload.Frontiers)

	found := false
	for _, frontier := range payload.Frontiers {
		if frontier.Account == f.env.genesis.Pub {
			found = true
		}
	}
	assert.True(t, found)
}

func TestServerVerifyRefusals(t *testing.T) {
	f := newServerFixture(t)

	var start types.HashOrAccount
	start.SetHash(crypto.RandomHash())

	// count = 0
	zero := message.NewAscPullReq(message.NetworkDev, 1, &message.AscPullReqBlocks{Start: start, Count: 0, StartType: message.HashTypeBlock})
	assert.False(t, f.server.Request(zero, f.channel))

	// zero target
	blank := message.NewAscPullReq(message.NetworkDev, 2, &message.AscPullReqAccountInfo{})
	assert.False(t, f.server.Request(blank, f.channel))

	// oversized frontier count
	big := message.NewAscPullReq(message.NetworkDev, 3, &message.AscPullReqFrontiers{Start: types.ZERO_ACCOUNT, Count: ServerMaxFrontiers + 1})
	assert.False(t, f.server.Request(big, f.channel))

	assert.Equal(t, int64(3), f.env.stats.Count(stats.TypeBootstrapServer, stats.DetailInvalid, ""))
}

func TestServerDropsWhenChannelFull(t *testing.T) {
	f := newServerFixture(t)
	f.channel.full = true

	var start types.HashOrAccount
	start.SetHash(crypto.RandomHash())
	req := message.NewAscPullReq(message.NetworkDev, 5, &message.AscPullReqBlocks{Start: start, Count: 1, StartType: message.HashTypeBlock})
	assert.False(t, f.server.Request(req, f.channel))
}
