package chain

import (
	"math/big"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/store"
)

// Account returns the owner of a block already in the ledger, or zero.
func (l *Ledger) Account(tx store.Transaction, hash types.Hash) types.Account {
	if blk := l.store.Block().Get(tx, hash); blk != nil {
		return blk.Sideband().Account
	}
	return types.ZERO_ACCOUNT
}

func (l *Ledger) AccountInfo(tx store.Transaction, account types.Account) (store.AccountInfo, bool) {
	return l.store.Account().Get(tx, account)
}

// Balance of a block in the ledger, or nil when absent.
func (l *Ledger) Balance(tx store.Transaction, hash types.Hash) *big.Int {
	if hash.IsZero() {
		return new(big.Int)
	}
	if blk := l.store.Block().Get(tx, hash); blk != nil {
		return blk.Sideband().Balance
	}
	return nil
}

// Successor resolves the current occupant of a chain slot: the block chained
// on the qualified root's previous, or the account's open block for a root at
// the chain base.
func (l *Ledger) Successor(tx store.Transaction, root types.QualifiedRoot) ledger.Block {
	if !root.Previous.IsZero() {
		succ := l.store.Block().Successor(tx, root.Previous)
		if succ.IsZero() {
			return nil
		}
		return l.store.Block().Get(tx, succ)
	}
	info, ok := l.store.Account().Get(tx, root.Root.AsAccount())
	if !ok {
		return nil
	}
	return l.store.Block().Get(tx, info.Open)
}

// BlockConfirmed reports whether the block sits at or below its account's
// confirmation height.
func (l *Ledger) BlockConfirmed(tx store.Transaction, hash types.Hash) bool {
	blk := l.store.Block().Get(tx, hash)
	if blk == nil {
		return false
	}
	sb := blk.Sideband()
	confHeight, _ := l.store.ConfirmationHeight().Get(tx, sb.Account)
	return sb.Height <= confHeight.Height
}

// DependentBlocks lists the hashes a block depends on: previous and, for
// receiving blocks, the source send.
func (l *Ledger) DependentBlocks(tx store.Transaction, blk ledger.Block) []types.Hash {
	var deps []types.Hash
	if previous := blk.Previous(); !previous.IsZero() {
		deps = append(deps, previous)
	}
	if source := l.BlockSource(tx, blk); !source.IsZero() {
		deps = append(deps, source)
	}
	return deps
}

// DependentsConfirmed reports whether every dependency of the block is
// cemented. A missing dependency counts as unconfirmed.
func (l *Ledger) DependentsConfirmed(tx store.Transaction, blk ledger.Block) bool {
	for _, dep := range l.DependentBlocks(tx, blk) {
		if !l.BlockConfirmed(tx, dep) {
			return false
		}
	}
	return true
}

// IsSend reports whether the block moves funds out of its account. For state
// blocks this needs the ledger (balance against previous); sideband answers
// when present.
func (l *Ledger) IsSend(tx store.Transaction, blk ledger.Block) bool {
	if blk.Type() == ledger.BlockTypeSend {
		return true
	}
	if blk.Type() != ledger.BlockTypeState {
		return false
	}
	if sb := blk.Sideband(); sb != nil {
		return sb.IsSend
	}
	prev := l.store.Block().Get(tx, blk.Previous())
	if prev == nil {
		return false
	}
	return blk.Balance().Cmp(prev.Sideband().Balance) < 0
}

// BlockSource is the hash a receiving block waits on: the legacy source field
// or a non-send state block's link. Zero for sends and changes.
func (l *Ledger) BlockSource(tx store.Transaction, blk ledger.Block) types.Hash {
	if source := blk.Source(); !source.IsZero() {
		return source
	}
	if blk.Type() == ledger.BlockTypeState && !blk.Link().IsZero() && !l.IsSend(tx, blk) {
		return blk.Link().AsHash()
	}
	return types.ZERO_HASH
}

// SendDestination resolves where a send moves funds: the legacy destination
// field or a state send's link.
func (l *Ledger) SendDestination(blk ledger.Block) types.Account {
	return sendDestination(blk)
}

// SetConfirmationHeight cements the account up to (height, frontier).
func (l *Ledger) SetConfirmationHeight(tx store.WriteTransaction, account types.Account, height uint64, frontier types.Hash) {
	l.store.ConfirmationHeight().Put(tx, account, store.ConfirmationHeightInfo{Height: height, Frontier: frontier})
}
