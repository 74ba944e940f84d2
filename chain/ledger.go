package chain

import (
	"math/big"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/store"
)

var (
	ErrRollbackConfirmed = errors.New("rollback would cross the confirmation height")
	ErrRollbackMissing   = errors.New("rollback target is not in the ledger")
)

// Ledger applies blocks to the store and answers chain queries. Process,
// Rollback and SetConfirmationHeight write under the caller's write
// transaction; EnsureGenesis opens its own. Queries run under any transaction.
type Ledger struct {
	store store.Store

	// BlockCount mirrors the number of blocks in the store; cheap to read for
	// throttle sizing.
	BlockCount atomic.Uint64
}

func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s}
}

func (l *Ledger) Store() store.Store {
	return l.store
}

// Process applies one block, returning the per-block result code. Progress
// means the block is now in the store with its sideband attached.
func (l *Ledger) Process(tx store.WriteTransaction, blk ledger.Block) ledger.ProcessResult {
	if l.store.Block().Exists(tx, blk.Hash()) {
		return ledger.Old
	}
	switch blk.Type() {
	case ledger.BlockTypeState:
		return l.processState(tx, blk.(*ledger.StateBlock))
	case ledger.BlockTypeSend, ledger.BlockTypeReceive, ledger.BlockTypeChange:
		return l.processLegacy(tx, blk)
	case ledger.BlockTypeOpen:
		return l.processOpen(tx, blk.(*ledger.OpenBlock))
	}
	return ledger.BadSignature
}

func (l *Ledger) processState(tx store.WriteTransaction, blk *ledger.StateBlock) ledger.ProcessResult {
	account := blk.Account()
	if account.IsZero() {
		return ledger.OpenedBurnAccount
	}
	if !ledger.ValidateSignature(blk, account) {
		return ledger.BadSignature
	}
	if !types.AmountIsValid(blk.Balance()) {
		return ledger.BalanceMismatch
	}

	info, exists := l.store.Account().Get(tx, account)
	previous := blk.Previous()

	var prevBalance *big.Int
	var height uint64
	if previous.IsZero() {
		if exists {
			return ledger.Fork
		}
		prevBalance = new(big.Int)
		height = 1
	} else {
		if !exists {
			return ledger.GapPrevious
		}
		prevBlk := l.store.Block().Get(tx, previous)
		if prevBlk == nil {
			return ledger.GapPrevious
		}
		sb := prevBlk.Sideband()
		if sb.Account != account {
			return ledger.BlockPosition
		}
		if info.Head != previous {
			return ledger.Fork
		}
		prevBalance = sb.Balance
		height = sb.Height + 1
	}

	balance := blk.Balance()
	isSend := balance.Cmp(prevBalance) < 0

	switch {
	case isSend:
		destination := blk.Link().AsAccount()
		amount := new(big.Int).Sub(prevBalance, balance)
		l.store.Pending().Put(tx, store.PendingKey{Account: destination, Hash: blk.Hash()}, store.PendingInfo{Source: account, Amount: amount})
	case balance.Cmp(prevBalance) > 0 || previous.IsZero():
		// Receiving; link is the source send.
		source := blk.Link().AsHash()
		if source.IsZero() {
			if previous.IsZero() && balance.Sign() != 0 {
				return ledger.GapSource
			}
			if previous.IsZero() {
				// Open with nothing to receive; nothing funds this chain.
				return ledger.GapSource
			}
		} else {
			srcBlk := l.store.Block().Get(tx, source)
			if srcBlk == nil {
				return ledger.GapSource
			}
			pendingKey := store.PendingKey{Account: account, Hash: source}
			pending, ok := l.store.Pending().Get(tx, pendingKey)
			if !ok {
				return ledger.Unreceivable
			}
			amount := new(big.Int).Sub(balance, prevBalance)
			if amount.Cmp(pending.Amount) != 0 {
				return ledger.BalanceMismatch
			}
			l.store.Pending().Del(tx, pendingKey)
		}
	default:
		// Balance unchanged: representative change. A non-zero link with no
		// balance movement receives nothing.
		if !blk.Link().IsZero() {
			if _, ok := l.store.Pending().Get(tx, store.PendingKey{Account: account, Hash: blk.Link().AsHash()}); !ok {
				return ledger.Unreceivable
			}
			return ledger.BalanceMismatch
		}
	}

	l.apply(tx, blk, applyContext{
		account:        account,
		representative: blk.Representative(),
		balance:        balance,
		height:         height,
		isSend:         isSend,
		open:           previous.IsZero(),
		openHash:       info.Open,
	})
	return ledger.Progress
}

func (l *Ledger) processOpen(tx store.WriteTransaction, blk *ledger.OpenBlock) ledger.ProcessResult {
	account := blk.Account()
	if account.IsZero() {
		return ledger.OpenedBurnAccount
	}
	if !ledger.ValidateSignature(blk, account) {
		return ledger.BadSignature
	}
	if _, exists := l.store.Account().Get(tx, account); exists {
		return ledger.Fork
	}

	source := blk.Source()
	srcBlk := l.store.Block().Get(tx, source)
	if srcBlk == nil {
		return ledger.GapSource
	}
	pendingKey := store.PendingKey{Account: account, Hash: source}
	pending, ok := l.store.Pending().Get(tx, pendingKey)
	if !ok {
		return ledger.Unreceivable
	}
	l.store.Pending().Del(tx, pendingKey)

	l.apply(tx, blk, applyContext{
		account:        account,
		representative: blk.Representative(),
		balance:        pending.Amount,
		height:         1,
		open:           true,
		legacy:         true,
	})
	return ledger.Progress
}

func (l *Ledger) processLegacy(tx store.WriteTransaction, blk ledger.Block) ledger.ProcessResult {
	previous := blk.Previous()
	prevBlk := l.store.Block().Get(tx, previous)
	if prevBlk == nil {
		return ledger.GapPrevious
	}
	sb := prevBlk.Sideband()
	account := sb.Account
	if !ledger.ValidateSignature(blk, account) {
		return ledger.BadSignature
	}
	info, exists := l.store.Account().Get(tx, account)
	if !exists || info.Head != previous {
		return ledger.Fork
	}

	ctx := applyContext{
		account:        account,
		representative: info.Representative,
		height:         sb.Height + 1,
		openHash:       info.Open,
		legacy:         true,
	}

	switch b := blk.(type) {
	case *ledger.SendBlock:
		balance := b.Balance()
		if !types.AmountIsValid(balance) || balance.Cmp(sb.Balance) > 0 {
			return ledger.NegativeSpend
		}
		amount := new(big.Int).Sub(sb.Balance, balance)
		l.store.Pending().Put(tx, store.PendingKey{Account: b.Destination(), Hash: b.Hash()}, store.PendingInfo{Source: account, Amount: amount})
		ctx.balance = balance
		ctx.isSend = true
	case *ledger.ReceiveBlock:
		source := b.Source()
		if l.store.Block().Get(tx, source) == nil {
			return ledger.GapSource
		}
		pendingKey := store.PendingKey{Account: account, Hash: source}
		pending, ok := l.store.Pending().Get(tx, pendingKey)
		if !ok {
			return ledger.Unreceivable
		}
		l.store.Pending().Del(tx, pendingKey)
		ctx.balance = new(big.Int).Add(sb.Balance, pending.Amount)
	case *ledger.ChangeBlock:
		ctx.balance = sb.Balance
		ctx.representative = b.Representative()
	default:
		return ledger.BadSignature
	}

	l.apply(tx, blk, ctx)
	return ledger.Progress
}

type applyContext struct {
	account        types.Account
	representative types.Account
	balance        *big.Int
	height         uint64
	isSend         bool
	open           bool
	openHash       types.Hash
	legacy         bool
}

func (l *Ledger) apply(tx store.WriteTransaction, blk ledger.Block, ctx applyContext) {
	hash := blk.Hash()
	now := uint64(time.Now().Unix())

	blk.SetSideband(ledger.Sideband{
		Account:        ctx.account,
		Representative: ctx.representative,
		Height:         ctx.height,
		Balance:        ctx.balance,
		Timestamp:      now,
		IsSend:         ctx.isSend,
	})
	l.store.Block().Put(tx, blk)

	open := ctx.openHash
	if ctx.open {
		open = hash
	}
	previous := blk.Previous()
	if !previous.IsZero() {
		l.store.Block().SetSuccessor(tx, previous, hash)
	}
	l.store.Account().Put(tx, ctx.account, store.AccountInfo{
		Head:           hash,
		Open:           open,
		Representative: ctx.representative,
		Balance:        ctx.balance,
		Modified:       now,
		BlockCount:     ctx.height,
	})

	if ctx.legacy {
		if !previous.IsZero() {
			l.store.Frontier().Del(tx, previous)
		}
		l.store.Frontier().Put(tx, hash, ctx.account)
	}

	l.BlockCount.Inc()
}

// Rollback removes hash and everything chained above it, restoring the account
// to the state just below hash. Receives of rolled-back sends are rolled back
// recursively. Fails without touching anything above a cemented block.
func (l *Ledger) Rollback(tx store.WriteTransaction, hash types.Hash) ([]ledger.Block, error) {
	var rolled []ledger.Block
	if err := l.rollback(tx, hash, &rolled); err != nil {
		return rolled, err
	}
	return rolled, nil
}

func (l *Ledger) rollback(tx store.WriteTransaction, hash types.Hash, rolled *[]ledger.Block) error {
	target := l.store.Block().Get(tx, hash)
	if target == nil {
		return ErrRollbackMissing
	}
	account := target.Sideband().Account
	info, ok := l.store.Account().Get(tx, account)
	if !ok {
		return ErrRollbackMissing
	}
	confHeight, _ := l.store.ConfirmationHeight().Get(tx, account)
	if target.Sideband().Height <= confHeight.Height {
		return ErrRollbackConfirmed
	}

	for cur := info.Head; ; {
		blk := l.store.Block().Get(tx, cur)
		if blk == nil {
			return ErrRollbackMissing
		}
		sb := blk.Sideband()
		if sb.Height <= confHeight.Height {
			return ErrRollbackConfirmed
		}

		if err := l.undo(tx, blk, rolled); err != nil {
			return err
		}

		if cur == hash {
			break
		}
		cur = blk.Previous()
	}

	previous := target.Previous()
	if previous.IsZero() {
		l.store.Account().Del(tx, account)
	} else {
		prevBlk := l.store.Block().Get(tx, previous)
		sb := prevBlk.Sideband()
		sb.Successor = types.ZERO_HASH
		prevBlk.SetSideband(*sb)
		l.store.Block().Put(tx, prevBlk)
		l.store.Account().Put(tx, account, store.AccountInfo{
			Head:           previous,
			Open:           info.Open,
			Representative: sb.Representative,
			Balance:        sb.Balance,
			Modified:       sb.Timestamp,
			BlockCount:     sb.Height,
		})
	}
	return nil
}

func (l *Ledger) undo(tx store.WriteTransaction, blk ledger.Block, rolled *[]ledger.Block) error {
	sb := blk.Sideband()
	hash := blk.Hash()

	if sb.IsSend {
		destination := sendDestination(blk)
		pendingKey := store.PendingKey{Account: destination, Hash: hash}
		if _, ok := l.store.Pending().Get(tx, pendingKey); ok {
			l.store.Pending().Del(tx, pendingKey)
		} else {
			// The send was already received; the receiving block depends on
			// this one and must go first. Its undo re-creates the pending
			// entry, which dies with the send.
			if receiver := l.findReceiver(tx, destination, hash); !receiver.IsZero() {
				if err := l.rollback(tx, receiver, rolled); err != nil {
					return err
				}
				l.store.Pending().Del(tx, pendingKey)
			}
		}
	}
	if source := receiveSource(blk); !source.IsZero() {
		// Undoing a receive re-creates the pending entry.
		if srcBlk := l.store.Block().Get(tx, source); srcBlk != nil {
			srcSb := srcBlk.Sideband()
			amount := receivedAmount(l, tx, blk)
			l.store.Pending().Put(tx, store.PendingKey{Account: sb.Account, Hash: source}, store.PendingInfo{Source: srcSb.Account, Amount: amount})
		}
	}

	l.store.Block().Del(tx, hash)
	l.store.Frontier().Del(tx, hash)
	*rolled = append(*rolled, blk)
	if l.BlockCount.Load() > 0 {
		l.BlockCount.Dec()
	}
	return nil
}

func (l *Ledger) findReceiver(tx store.Transaction, account types.Account, source types.Hash) types.Hash {
	info, ok := l.store.Account().Get(tx, account)
	if !ok {
		return types.ZERO_HASH
	}
	for cur := info.Head; !cur.IsZero(); {
		blk := l.store.Block().Get(tx, cur)
		if blk == nil {
			return types.ZERO_HASH
		}
		if receiveSource(blk) == source {
			return cur
		}
		cur = blk.Previous()
	}
	return types.ZERO_HASH
}

func sendDestination(blk ledger.Block) types.Account {
	if d := blk.Destination(); !d.IsZero() {
		return d
	}
	return blk.Link().AsAccount()
}

// receiveSource returns the hash of the send a block receives from, or zero.
func receiveSource(blk ledger.Block) types.Hash {
	if s := blk.Source(); !s.IsZero() {
		return s
	}
	if blk.Type() == ledger.BlockTypeState && !blk.Sideband().IsSend && !blk.Link().IsZero() {
		return blk.Link().AsHash()
	}
	return types.ZERO_HASH
}

func receivedAmount(l *Ledger, tx store.Transaction, blk ledger.Block) *big.Int {
	sb := blk.Sideband()
	previous := blk.Previous()
	if previous.IsZero() {
		return sb.Balance
	}
	prevBlk := l.store.Block().Get(tx, previous)
	if prevBlk == nil {
		return sb.Balance
	}
	return new(big.Int).Sub(sb.Balance, prevBlk.Sideband().Balance)
}
