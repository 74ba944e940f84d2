package message

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
	"github.com/nanoledger/go-nano/ledger"
)

// roundTrip serializes m and parses it back through the header/payload split
// a receiving channel would perform.
func roundTrip(t *testing.T, m Message) Message {
	t.Helper()

	buf, err := ToBytes(m)
	require.NoError(t, err)

	h, err := DeserializeHeader(buf[:HeaderSize])
	require.NoError(t, err)
	require.Equal(t, m.Header().Type, h.Type)

	length, err := h.PayloadLength()
	require.NoError(t, err)
	require.Equal(t, len(buf)-HeaderSize, length)

	out, err := Deserialize(h, buf[HeaderSize:])
	require.NoError(t, err)
	return out
}

func testBlock(t *testing.T) *ledger.StateBlock {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	var link types.HashOrAccount
	link.SetHash(crypto.RandomHash())
	blk := ledger.NewStateBlock(kp.Pub, crypto.RandomHash(), kp.Pub, big.NewInt(1000), link)
	blk.SetSignature(ledger.Sign(blk, kp))
	blk.SetWork(42)
	return blk
}

func TestKeepaliveRoundTrip(t *testing.T) {
	m := NewKeepalive(NetworkDev)

	buf, err := ToBytes(m)
	require.NoError(t, err)
	// Eight zero endpoints plus the header.
	require.Equal(t, 152, len(buf))

	out := roundTrip(t, m).(*Keepalive)
	assert.Equal(t, m.Peers, out.Peers)
}

func TestKeepalivePeers(t *testing.T) {
	m := NewKeepalive(NetworkDev)
	m.Peers[0] = types.Endpoint{Port: 7075}
	m.Peers[0].Addr[15] = 1
	m.Peers[7] = types.Endpoint{Port: 54000}

	out := roundTrip(t, m).(*Keepalive)
	assert.Equal(t, m.Peers, out.Peers)
}

func TestPublishRoundTrip(t *testing.T) {
	blk := testBlock(t)
	m := NewPublish(NetworkDev, blk)

	out := roundTrip(t, m).(*Publish)
	assert.Equal(t, blk.Hash(), out.Block.Hash())
	assert.Equal(t, blk.Work(), out.Block.Work())
	assert.Equal(t, blk.Signature(), out.Block.Signature())
}

func TestConfirmReqBlockRoundTrip(t *testing.T) {
	blk := testBlock(t)
	m := NewConfirmReqBlock(NetworkDev, blk)

	out := roundTrip(t, m).(*ConfirmReq)
	require.NotNil(t, out.Block)
	assert.Equal(t, blk.Hash(), out.Block.Hash())
}

func TestConfirmReqHashesRoundTrip(t *testing.T) {
	var pairs []HashRoot
	for i := 0; i < 7; i++ {
		var root types.Root
		root.SetHash(crypto.RandomHash())
		pairs = append(pairs, HashRoot{Hash: crypto.RandomHash(), Root: root})
	}
	m := NewConfirmReqHashes(NetworkDev, pairs)

	out := roundTrip(t, m).(*ConfirmReq)
	assert.Equal(t, pairs, out.RootsHashes)
}

func TestConfirmReqZeroCountIsError(t *testing.T) {
	h := NewHeader(NetworkDev, TypeConfirmReq)
	h.SetBlockType(ledger.BlockTypeNotABlock)
	h.SetCount(0)
	_, err := h.PayloadLength()
	assert.Error(t, err)
}

func TestConfirmAckRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	hashes := []types.Hash{crypto.RandomHash(), crypto.RandomHash(), crypto.RandomHash()}
	vote := ledger.NewVote(kp.Pub, 0x0123456789abcdef, hashes)
	vote.Sign(kp)

	m := NewConfirmAck(NetworkDev, vote)
	out := roundTrip(t, m).(*ConfirmAck)

	assert.Equal(t, vote.Account, out.Vote.Account)
	assert.Equal(t, vote.Timestamp, out.Vote.Timestamp)
	assert.Equal(t, vote.Hashes, out.Vote.Hashes)
	assert.True(t, out.Vote.Validate())
}

func TestConfirmAckFinalVote(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	vote := ledger.NewVote(kp.Pub, ledger.VoteTimestampFinal|1, []types.Hash{crypto.RandomHash()})
	vote.Sign(kp)

	out := roundTrip(t, NewConfirmAck(NetworkDev, vote)).(*ConfirmAck)
	assert.True(t, out.Vote.Final())
}

func TestBulkPullRoundTrip(t *testing.T) {
	var start types.HashOrAccount
	start.SetHash(crypto.RandomHash())
	m := NewBulkPull(NetworkDev, start, crypto.RandomHash(), 100, true)

	out := roundTrip(t, m).(*BulkPull)
	assert.Equal(t, m.Start, out.Start)
	assert.Equal(t, m.End, out.End)
	assert.Equal(t, uint32(100), out.Count)
	assert.True(t, out.Ascending())
}

func TestBulkPullZeroCountOmitsTrailer(t *testing.T) {
	var start types.HashOrAccount
	start.SetHash(crypto.RandomHash())

	// count_present with count zero normalizes to no trailer at all.
	m := NewBulkPull(NetworkDev, start, types.ZERO_HASH, 0, false)
	m.Header().SetFlag(BulkPullCountPresentFlag, true)

	buf, err := ToBytes(m)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize+bulkPullSize, len(buf))

	out := roundTrip(t, m).(*BulkPull)
	assert.Equal(t, uint32(0), out.Count)
	assert.False(t, out.Header().Flag(BulkPullCountPresentFlag))
}

func TestBulkPullAccountRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	m := NewBulkPullAccount(NetworkDev, kp.Pub, big.NewInt(12345), 1)

	out := roundTrip(t, m).(*BulkPullAccount)
	assert.Equal(t, m.Account, out.Account)
	assert.Equal(t, 0, m.MinimumAmount.Cmp(out.MinimumAmount))
	assert.Equal(t, m.Flags, out.Flags)
}

func TestBulkPushAndTelemetryReqRoundTrip(t *testing.T) {
	roundTrip(t, NewBulkPush(NetworkDev))
	roundTrip(t, NewTelemetryReq(NetworkDev))
}

func TestFrontierReqRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	m := NewFrontierReq(NetworkDev, kp.Pub, 10, 1000)

	out := roundTrip(t, m).(*FrontierReq)
	assert.Equal(t, m.Start, out.Start)
	assert.Equal(t, m.Age, out.Age)
	assert.Equal(t, m.Count, out.Count)
}

func TestTelemetryAckRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	data := TelemetryData{
		BlockCount:       1000,
		CementedCount:    900,
		UncheckedCount:   10,
		AccountCount:     50,
		BandwidthCap:     1024,
		PeerCount:        7,
		ProtocolVersion:  ProtocolVersion,
		Uptime:           3600,
		GenesisBlock:     crypto.RandomHash(),
		MajorVersion:     25,
		Timestamp:        1234567890,
		ActiveDifficulty: ledger.WorkThresholdLive,
	}
	data.Sign(kp)
	require.True(t, data.ValidateSignature())

	out := roundTrip(t, NewTelemetryAck(NetworkDev, data)).(*TelemetryAck)
	assert.Equal(t, data, out.Data)
	assert.True(t, out.Data.ValidateSignature())
}

func TestTelemetryAckUnknownDataSurvives(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	data := TelemetryData{
		BlockCount:  42,
		UnknownData: []byte{1, 2, 3, 4, 5, 6, 7},
	}
	data.Sign(kp)

	out := roundTrip(t, NewTelemetryAck(NetworkDev, data)).(*TelemetryAck)
	assert.Equal(t, data.UnknownData, out.Data.UnknownData)
	assert.True(t, out.Data.ValidateSignature())
}

func TestNodeIDHandshakeQueryRoundTrip(t *testing.T) {
	query := &HandshakeQuery{}
	copy(query.Cookie[:], crypto.GetEntropyCSPRNG(32))

	out := roundTrip(t, NewNodeIDHandshake(NetworkDev, query, nil)).(*NodeIDHandshake)
	require.NotNil(t, out.Query)
	assert.Equal(t, query.Cookie, out.Query.Cookie)
	assert.Nil(t, out.Response)
}

func TestNodeIDHandshakeResponseV2RoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	var cookie [32]byte
	copy(cookie[:], crypto.GetEntropyCSPRNG(32))

	response := &HandshakeResponse{V2: &HandshakeResponseV2{Genesis: crypto.RandomHash()}}
	copy(response.V2.Salt[:], crypto.GetEntropyCSPRNG(32))
	response.Sign(cookie, kp)

	out := roundTrip(t, NewNodeIDHandshake(NetworkDev, nil, response)).(*NodeIDHandshake)
	require.NotNil(t, out.Response)
	require.NotNil(t, out.Response.V2)
	assert.Equal(t, response.NodeID, out.Response.NodeID)
	assert.Equal(t, response.V2.Genesis, out.Response.V2.Genesis)
	assert.True(t, out.Response.Validate(cookie))
	assert.False(t, out.Response.Validate([32]byte{}))
}

func TestAscPullReqBlocksRoundTrip(t *testing.T) {
	var start types.HashOrAccount
	start.SetHash(crypto.RandomHash())
	m := NewAscPullReq(NetworkDev, 0xdeadbeef01020304, &AscPullReqBlocks{
		Start:     start,
		Count:     128,
		StartType: HashTypeBlock,
	})

	out := roundTrip(t, m).(*AscPullReq)
	assert.Equal(t, m.ID, out.ID)
	assert.Equal(t, AscPullBlocks, out.Type)
	payload := out.Payload.(*AscPullReqBlocks)
	assert.Equal(t, start, payload.Start)
	assert.Equal(t, uint8(128), payload.Count)
	assert.Equal(t, HashTypeBlock, payload.StartType)
}

func TestAscPullReqAccountInfoRoundTrip(t *testing.T) {
	var target types.HashOrAccount
	target.SetAccount(types.Account(crypto.RandomHash()))
	m := NewAscPullReq(NetworkDev, 7, &AscPullReqAccountInfo{Target: target, TargetType: HashTypeAccount})

	out := roundTrip(t, m).(*AscPullReq)
	payload := out.Payload.(*AscPullReqAccountInfo)
	assert.Equal(t, target, payload.Target)
	assert.Equal(t, HashTypeAccount, payload.TargetType)
}

func TestAscPullReqFrontiersRoundTrip(t *testing.T) {
	m := NewAscPullReq(NetworkDev, 9, &AscPullReqFrontiers{Start: types.Account(crypto.RandomHash()), Count: 1000})

	out := roundTrip(t, m).(*AscPullReq)
	payload := out.Payload.(*AscPullReqFrontiers)
	assert.Equal(t, uint16(1000), payload.Count)
}

func TestAscPullAckBlocksRoundTrip(t *testing.T) {
	blocks := []ledger.Block{testBlock(t), testBlock(t), testBlock(t)}
	m := NewAscPullAck(NetworkDev, 55, &AscPullAckBlocks{Blocks: blocks})

	out := roundTrip(t, m).(*AscPullAck)
	payload := out.Payload.(*AscPullAckBlocks)
	require.Len(t, payload.Blocks, 3)
	for i := range blocks {
		assert.Equal(t, blocks[i].Hash(), payload.Blocks[i].Hash())
	}
}

func TestAscPullAckEmptyBlocksRoundTrip(t *testing.T) {
	m := NewAscPullAck(NetworkDev, 56, &AscPullAckBlocks{})

	out := roundTrip(t, m).(*AscPullAck)
	payload := out.Payload.(*AscPullAckBlocks)
	assert.Empty(t, payload.Blocks)
}

func TestAscPullAckAccountInfoRoundTrip(t *testing.T) {
	payload := &AscPullAckAccountInfo{
		Account:      types.Account(crypto.RandomHash()),
		Open:         crypto.RandomHash(),
		Head:         crypto.RandomHash(),
		BlockCount:   77,
		ConfFrontier: crypto.RandomHash(),
		ConfHeight:   70,
	}
	out := roundTrip(t, NewAscPullAck(NetworkDev, 77, payload)).(*AscPullAck)
	assert.Equal(t, payload, out.Payload)
}

func TestAscPullAckFrontiersRoundTrip(t *testing.T) {
	payload := &AscPullAckFrontiers{}
	for i := 0; i < 5; i++ {
		payload.Frontiers = append(payload.Frontiers, Frontier{
			Account: types.Account(crypto.RandomHash()),
			Hash:    crypto.RandomHash(),
		})
	}
	out := roundTrip(t, NewAscPullAck(NetworkDev, 99, payload)).(*AscPullAck)
	assert.Equal(t, payload.Frontiers, out.Payload.(*AscPullAckFrontiers).Frontiers)
}

func TestAscPullSerializeMismatchedPayload(t *testing.T) {
	m := NewAscPullReq(NetworkDev, 1, &AscPullReqBlocks{Count: 1})
	m.Type = AscPullAccountInfo

	_, err := ToBytes(m)
	assert.Error(t, err)
}

func TestHeaderValidate(t *testing.T) {
	h := NewHeader(NetworkLive, TypeKeepalive)
	assert.NoError(t, h.Validate(NetworkLive))
	assert.Equal(t, ErrInvalidNetwork, h.Validate(NetworkBeta))

	// An outdated peer deserializes fine but is rejected downstream.
	h.VersionUsing = ProtocolVersionMin - 1
	assert.Equal(t, ErrOutdatedVersion, h.Validate(NetworkLive))

	h = NewHeader(NetworkLive, Type(0x42))
	assert.Equal(t, ErrInvalidType, h.Validate(NetworkLive))
}

func TestHeaderExtensionBits(t *testing.T) {
	h := NewHeader(NetworkDev, TypeConfirmReq)
	h.SetBlockType(ledger.BlockTypeState)
	h.SetCount(13)

	assert.Equal(t, ledger.BlockTypeState, h.BlockType())
	assert.Equal(t, 13, h.Count())

	h.SetBlockType(ledger.BlockTypeNotABlock)
	assert.Equal(t, ledger.BlockTypeNotABlock, h.BlockType())
	assert.Equal(t, 13, h.Count())
}
