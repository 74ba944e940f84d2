package store

import (
	"bytes"
	"sort"
	"sync"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
)

// MemStore is the map-backed store used by tests and the dev network. Every
// operation locks individually, so transactions are thin handles: reads see
// the latest state and writes apply immediately with a no-op Commit.
type MemStore struct {
	mu sync.RWMutex

	blocks     map[types.Hash]ledger.Block
	accounts   map[types.Account]AccountInfo
	frontiers  map[types.Hash]types.Account
	pending    map[PendingKey]PendingInfo
	confHeight map[types.Account]ConfirmationHeightInfo

	maxBlockWriteBatch int
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		blocks:             make(map[types.Hash]ledger.Block),
		accounts:           make(map[types.Account]AccountInfo),
		frontiers:          make(map[types.Hash]types.Account),
		pending:            make(map[PendingKey]PendingInfo),
		confHeight:         make(map[types.Account]ConfirmationHeightInfo),
		maxBlockWriteBatch: 64 * 1024,
	}
}

type memTx struct{}

func (memTx) Refresh() {}

type memWriteTx struct{ memTx }

func (memWriteTx) Commit() error { return nil }
func (memWriteTx) Discard()      {}

func (s *MemStore) BeginRead() Transaction                { return memTx{} }
func (s *MemStore) BeginWrite(...Table) WriteTransaction  { return memWriteTx{} }
func (s *MemStore) MaxBlockWriteBatch() int               { return s.maxBlockWriteBatch }
func (s *MemStore) Close() error                          { return nil }
func (s *MemStore) Block() BlockStore                     { return (*memBlocks)(s) }
func (s *MemStore) Account() AccountStore                 { return (*memAccounts)(s) }
func (s *MemStore) Frontier() FrontierStore               { return (*memFrontiers)(s) }
func (s *MemStore) Pending() PendingStore                 { return (*memPending)(s) }
func (s *MemStore) ConfirmationHeight() ConfirmationHeightStore { return (*memConfHeight)(s) }

type memBlocks MemStore

func (t *memBlocks) Put(_ WriteTransaction, blk ledger.Block) {
	t.mu.Lock()
	t.blocks[blk.Hash()] = blk
	t.mu.Unlock()
}

func (t *memBlocks) Get(_ Transaction, hash types.Hash) ledger.Block {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blocks[hash]
}

func (t *memBlocks) Del(_ WriteTransaction, hash types.Hash) {
	t.mu.Lock()
	delete(t.blocks, hash)
	t.mu.Unlock()
}

func (t *memBlocks) Exists(_ Transaction, hash types.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.blocks[hash]
	return ok
}

func (t *memBlocks) Successor(_ Transaction, hash types.Hash) types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if blk, ok := t.blocks[hash]; ok {
		if sb := blk.Sideband(); sb != nil {
			return sb.Successor
		}
	}
	return types.ZERO_HASH
}

func (t *memBlocks) SetSuccessor(_ WriteTransaction, hash, successor types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if blk, ok := t.blocks[hash]; ok {
		if sb := blk.Sideband(); sb != nil {
			sb.Successor = successor
			blk.SetSideband(*sb)
		}
	}
}

type memAccounts MemStore

func (t *memAccounts) Get(_ Transaction, account types.Account) (AccountInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.accounts[account]
	return info, ok
}

func (t *memAccounts) Put(_ WriteTransaction, account types.Account, info AccountInfo) {
	t.mu.Lock()
	t.accounts[account] = info
	t.mu.Unlock()
}

func (t *memAccounts) Del(_ WriteTransaction, account types.Account) {
	t.mu.Lock()
	delete(t.accounts, account)
	t.mu.Unlock()
}

func (t *memAccounts) Iterate(_ Transaction, start types.Account, fn func(types.Account, AccountInfo) bool) {
	t.mu.RLock()
	keys := make([]types.Account, 0, len(t.accounts))
	for a := range t.accounts {
		if bytes.Compare(a.Bytes(), start.Bytes()) >= 0 {
			keys = append(keys, a)
		}
	}
	t.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].Bytes(), keys[j].Bytes()) < 0
	})
	for _, a := range keys {
		t.mu.RLock()
		info, ok := t.accounts[a]
		t.mu.RUnlock()
		if !ok {
			continue
		}
		if !fn(a, info) {
			return
		}
	}
}

type memFrontiers MemStore

func (t *memFrontiers) Get(_ Transaction, hash types.Hash) (types.Account, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.frontiers[hash]
	return a, ok
}

func (t *memFrontiers) Put(_ WriteTransaction, hash types.Hash, account types.Account) {
	t.mu.Lock()
	t.frontiers[hash] = account
	t.mu.Unlock()
}

func (t *memFrontiers) Del(_ WriteTransaction, hash types.Hash) {
	t.mu.Lock()
	delete(t.frontiers, hash)
	t.mu.Unlock()
}

type memPending MemStore

func (t *memPending) Get(_ Transaction, key PendingKey) (PendingInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.pending[key]
	return info, ok
}

func (t *memPending) Put(_ WriteTransaction, key PendingKey, info PendingInfo) {
	t.mu.Lock()
	t.pending[key] = info
	t.mu.Unlock()
}

func (t *memPending) Del(_ WriteTransaction, key PendingKey) {
	t.mu.Lock()
	delete(t.pending, key)
	t.mu.Unlock()
}

type memConfHeight MemStore

func (t *memConfHeight) Get(_ Transaction, account types.Account) (ConfirmationHeightInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.confHeight[account]
	return info, ok
}

func (t *memConfHeight) Put(_ WriteTransaction, account types.Account, info ConfirmationHeightInfo) {
	t.mu.Lock()
	t.confHeight[account] = info
	t.mu.Unlock()
}
