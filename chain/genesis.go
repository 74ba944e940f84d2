package chain

import (
	"math/big"

	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/store"
)

// EnsureGenesis seeds an empty ledger with its genesis block: stored with a
// synthetic sideband, its account opened at height one and immediately
// cemented. A ledger already containing the account is left untouched.
func (l *Ledger) EnsureGenesis(blk ledger.Block, balance *big.Int) {
	tx := l.store.BeginWrite(store.TableAccounts, store.TableBlocks, store.TableConfirmationHeight)

	account := blk.Account()
	if _, exists := l.store.Account().Get(tx, account); exists {
		tx.Discard()
		return
	}
	defer tx.Commit()

	hash := blk.Hash()
	blk.SetSideband(ledger.Sideband{
		Account:        account,
		Representative: blk.Representative(),
		Height:         1,
		Balance:        balance,
	})
	l.store.Block().Put(tx, blk)
	l.store.Account().Put(tx, account, store.AccountInfo{
		Head:           hash,
		Open:           hash,
		Representative: blk.Representative(),
		Balance:        balance,
		BlockCount:     1,
	})
	l.store.ConfirmationHeight().Put(tx, account, store.ConfirmationHeightInfo{Height: 1, Frontier: hash})
	l.BlockCount.Inc()
}
