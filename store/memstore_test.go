package store

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
	"github.com/nanoledger/go-nano/ledger"
)

func TestMemStoreBlocks(t *testing.T) {
	s := NewMemStore()
	tx := s.BeginWrite(TableBlocks)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	blk := ledger.NewChangeBlock(crypto.RandomHash(), kp.Pub)
	blk.SetSideband(ledger.Sideband{Account: kp.Pub, Height: 2, Balance: big.NewInt(5)})

	s.Block().Put(tx, blk)
	require.NoError(t, tx.Commit())

	rtx := s.BeginRead()
	assert.True(t, s.Block().Exists(rtx, blk.Hash()))
	got := s.Block().Get(rtx, blk.Hash())
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), got.Sideband().Height)

	wtx := s.BeginWrite(TableBlocks)
	successor := crypto.RandomHash()
	s.Block().SetSuccessor(wtx, blk.Hash(), successor)
	require.NoError(t, wtx.Commit())
	assert.Equal(t, successor, s.Block().Successor(s.BeginRead(), blk.Hash()))
}

func TestMemStoreAccountsIterate(t *testing.T) {
	s := NewMemStore()
	tx := s.BeginWrite(TableAccounts)

	var accounts []types.Account
	for i := 0; i < 5; i++ {
		kp, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		accounts = append(accounts, kp.Pub)
		s.Account().Put(tx, kp.Pub, AccountInfo{Head: crypto.RandomHash(), Balance: big.NewInt(int64(i))})
	}
	require.NoError(t, tx.Commit())

	var seen []types.Account
	s.Account().Iterate(s.BeginRead(), types.ZERO_ACCOUNT, func(a types.Account, _ AccountInfo) bool {
		seen = append(seen, a)
		return true
	})
	assert.Len(t, seen, 5)

	// Key order: every element greater than its predecessor.
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i-1].Hex() < seen[i].Hex())
	}

	// Starting at an account includes it.
	start := seen[2]
	var tail []types.Account
	s.Account().Iterate(s.BeginRead(), start, func(a types.Account, _ AccountInfo) bool {
		tail = append(tail, a)
		return true
	})
	assert.Equal(t, seen[2:], tail)
}

func TestMemStorePending(t *testing.T) {
	s := NewMemStore()
	tx := s.BeginWrite(TablePending)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	key := PendingKey{Account: kp.Pub, Hash: crypto.RandomHash()}
	s.Pending().Put(tx, key, PendingInfo{Source: kp.Pub, Amount: big.NewInt(42)})
	require.NoError(t, tx.Commit())

	info, ok := s.Pending().Get(s.BeginRead(), key)
	require.True(t, ok)
	assert.Equal(t, 0, info.Amount.Cmp(big.NewInt(42)))

	wtx := s.BeginWrite(TablePending)
	s.Pending().Del(wtx, key)
	require.NoError(t, wtx.Commit())
	_, ok = s.Pending().Get(s.BeginRead(), key)
	assert.False(t, ok)
}

func TestWriteQueueSerializesWriters(t *testing.T) {
	q := NewWriteQueue()

	guard := q.Wait(WriterProcessBatch)

	acquired := make(chan struct{})
	go func() {
		inner := q.Wait(WriterTesting)
		inner.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired the token while held")
	case <-time.After(20 * time.Millisecond):
	}

	guard.Release()
	<-acquired

	// Release is idempotent.
	guard.Release()
}
