package bootstrap

import (
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/store"
)

const iteratorBatchSize = 1024

// accountIterator walks the account table in key order, refilling a buffer
// one batch at a time and wrapping back to the beginning when the table is
// exhausted. The first full pass is the warmup.
type accountIterator struct {
	store  store.Store
	buffer []types.Account
	next   types.Account
	warmup bool
}

func newAccountIterator(s store.Store) *accountIterator {
	return &accountIterator{store: s, warmup: true}
}

func (it *accountIterator) Next() types.Account {
	if len(it.buffer) == 0 {
		it.fill()
		if len(it.buffer) == 0 {
			return types.ZERO_ACCOUNT
		}
	}
	account := it.buffer[0]
	it.buffer = it.buffer[1:]
	return account
}

func (it *accountIterator) Warmup() bool {
	return it.warmup
}

func (it *accountIterator) fill() {
	tx := it.store.BeginRead()
	count := 0
	it.store.Account().Iterate(tx, it.next, func(account types.Account, _ store.AccountInfo) bool {
		it.buffer = append(it.buffer, account)
		count++
		return count < iteratorBatchSize
	})

	if len(it.buffer) == 0 {
		// Wrapped: next pass starts over from the key space origin.
		it.next = types.ZERO_ACCOUNT
		it.warmup = false
		return
	}
	last := it.buffer[len(it.buffer)-1]
	it.next = nextKey(last)
}

// nextKey is the smallest account key strictly greater than a.
func nextKey(a types.Account) types.Account {
	for i := len(a) - 1; i >= 0; i-- {
		a[i]++
		if a[i] != 0 {
			break
		}
	}
	return a
}
