package store

import (
	"math/big"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
)

// Table names a persistent keyspace. Write transactions declare the tables
// they touch.
type Table byte

const (
	TableAccounts Table = iota
	TableBlocks
	TableFrontiers
	TablePending
	TableConfirmationHeight
)

// AccountInfo is the head state of one account chain.
type AccountInfo struct {
	Head           types.Hash
	Open           types.Hash
	Representative types.Account
	Balance        *big.Int
	Modified       uint64
	BlockCount     uint64
}

// ConfirmationHeightInfo tracks the cemented frontier of an account.
type ConfirmationHeightInfo struct {
	Height   uint64
	Frontier types.Hash
}

// PendingKey addresses a receivable amount: the destination account and the
// hash of the send that created it.
type PendingKey struct {
	Account types.Account
	Hash    types.Hash
}

type PendingInfo struct {
	Source types.Account
	Amount *big.Int
}

// Transaction is a read view over the store. Refresh may be called between
// batch items to bound the snapshot's age and the lock hold time.
type Transaction interface {
	Refresh()
}

// WriteTransaction buffers writes until Commit. Reads through a write
// transaction observe its own writes.
type WriteTransaction interface {
	Transaction
	Commit() error
	Discard()
}

type BlockStore interface {
	Put(tx WriteTransaction, blk ledger.Block)
	Get(tx Transaction, hash types.Hash) ledger.Block
	Del(tx WriteTransaction, hash types.Hash)
	Exists(tx Transaction, hash types.Hash) bool
	// Successor returns the hash chained directly on top of hash, or zero.
	Successor(tx Transaction, hash types.Hash) types.Hash
	SetSuccessor(tx WriteTransaction, hash, successor types.Hash)
}

type AccountStore interface {
	Get(tx Transaction, account types.Account) (AccountInfo, bool)
	Put(tx WriteTransaction, account types.Account, info AccountInfo)
	Del(tx WriteTransaction, account types.Account)
	// Iterate visits accounts in key order starting at start (inclusive)
	// until fn returns false.
	Iterate(tx Transaction, start types.Account, fn func(types.Account, AccountInfo) bool)
}

type FrontierStore interface {
	Get(tx Transaction, hash types.Hash) (types.Account, bool)
	Put(tx WriteTransaction, hash types.Hash, account types.Account)
	Del(tx WriteTransaction, hash types.Hash)
}

type PendingStore interface {
	Get(tx Transaction, key PendingKey) (PendingInfo, bool)
	Put(tx WriteTransaction, key PendingKey, info PendingInfo)
	Del(tx WriteTransaction, key PendingKey)
}

type ConfirmationHeightStore interface {
	Get(tx Transaction, account types.Account) (ConfirmationHeightInfo, bool)
	Put(tx WriteTransaction, account types.Account, info ConfirmationHeightInfo)
}

// Store is the persistent ledger database: five tables behind snapshot read
// transactions and single-writer write transactions.
type Store interface {
	BeginRead() Transaction
	BeginWrite(tables ...Table) WriteTransaction

	Block() BlockStore
	Account() AccountStore
	Frontier() FrontierStore
	Pending() PendingStore
	ConfirmationHeight() ConfirmationHeightStore

	// MaxBlockWriteBatch bounds the blocks applied within one write
	// transaction.
	MaxBlockWriteBatch() int

	Close() error
}
