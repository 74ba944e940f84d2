package processor

import (
	"sync"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
)

// UncheckedKey parks a block under the 32-byte dependency it waits for:
// a previous hash, a source hash, or an account key.
type UncheckedKey [32]byte

// Unchecked holds blocks that arrived before a dependency, until the
// dependency lands and Trigger releases them. Bounded; inserts beyond the cap
// evict the oldest key.
type Unchecked struct {
	mu      sync.Mutex
	maxSize int
	count   int
	byKey   map[UncheckedKey][]ledger.Block
	order   []UncheckedKey
}

func NewUnchecked(maxSize int) *Unchecked {
	return &Unchecked{
		maxSize: maxSize,
		byKey:   make(map[UncheckedKey][]ledger.Block),
	}
}

func (u *Unchecked) Put(key UncheckedKey, blk ledger.Block) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.byKey[key]; !ok {
		u.order = append(u.order, key)
	}
	u.byKey[key] = append(u.byKey[key], blk)
	u.count++

	for u.count > u.maxSize && len(u.order) > 0 {
		oldest := u.order[0]
		u.order = u.order[1:]
		if blocks, ok := u.byKey[oldest]; ok {
			u.count -= len(blocks)
			delete(u.byKey, oldest)
		}
	}
}

// Trigger releases and returns the blocks parked under key.
func (u *Unchecked) Trigger(key UncheckedKey) []ledger.Block {
	u.mu.Lock()
	defer u.mu.Unlock()

	blocks, ok := u.byKey[key]
	if !ok {
		return nil
	}
	delete(u.byKey, key)
	u.count -= len(blocks)
	return blocks
}

func (u *Unchecked) Size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

func keyFromHash(h types.Hash) UncheckedKey       { return UncheckedKey(h) }
func keyFromAccount(a types.Account) UncheckedKey { return UncheckedKey(a) }
