package ldb

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/store"
)

// Table key prefixes.
const (
	prefixBlocks     = 'b'
	prefixAccounts   = 'a'
	prefixFrontiers  = 'f'
	prefixPending    = 'p'
	prefixConfHeight = 'c'
)

const sidebandSize = 32 + 32 + 32 + 8 + 16 + 8 + 1 + 1

// Store is the leveldb-backed ledger store. Reads run against the live keyspace
// or a write transaction's overlay; writes buffer in a batch until Commit so a
// crashed batch leaves no partial state.
type Store struct {
	db *leveldb.DB

	// guards overlay visibility between the single writer and Commit
	writeMu sync.Mutex
}

var _ store.Store = (*Store)(nil)

func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error            { return s.db.Close() }
func (s *Store) MaxBlockWriteBatch() int { return 64 * 1024 }

type readTx struct{}

func (readTx) Refresh() {}

func (s *Store) BeginRead() store.Transaction { return readTx{} }

type writeTx struct {
	store   *Store
	batch   *leveldb.Batch
	overlay map[string][]byte // nil value marks a delete
}

func (s *Store) BeginWrite(...store.Table) store.WriteTransaction {
	s.writeMu.Lock()
	return &writeTx{
		store:   s,
		batch:   new(leveldb.Batch),
		overlay: make(map[string][]byte),
	}
}

func (tx *writeTx) Refresh() {}

func (tx *writeTx) Commit() error {
	defer tx.store.writeMu.Unlock()
	return tx.store.db.Write(tx.batch, nil)
}

func (tx *writeTx) Discard() {
	tx.store.writeMu.Unlock()
}

func (tx *writeTx) put(key, value []byte) {
	tx.batch.Put(key, value)
	tx.overlay[string(key)] = value
}

func (tx *writeTx) del(key []byte) {
	tx.batch.Delete(key)
	tx.overlay[string(key)] = nil
}

// get reads through tx when the transaction is a write transaction, so a
// batch observes its own writes.
func (s *Store) get(tx store.Transaction, key []byte) ([]byte, bool) {
	if wtx, ok := tx.(*writeTx); ok {
		if v, ok := wtx.overlay[string(key)]; ok {
			if v == nil {
				return nil, false
			}
			return v, true
		}
	}
	v, err := s.db.Get(key, nil)
	if err != nil {
		return nil, false
	}
	return v, true
}

func blockKey(hash types.Hash) []byte      { return append([]byte{prefixBlocks}, hash.Bytes()...) }
func accountKey(a types.Account) []byte    { return append([]byte{prefixAccounts}, a.Bytes()...) }
func frontierKey(hash types.Hash) []byte   { return append([]byte{prefixFrontiers}, hash.Bytes()...) }
func confHeightKey(a types.Account) []byte { return append([]byte{prefixConfHeight}, a.Bytes()...) }

func pendingKey(key store.PendingKey) []byte {
	k := make([]byte, 0, 1+64)
	k = append(k, prefixPending)
	k = append(k, key.Account.Bytes()...)
	k = append(k, key.Hash.Bytes()...)
	return k
}

/*
 * blocks
 */

type blockTable Store

func (s *Store) Block() store.BlockStore { return (*blockTable)(s) }

func encodeBlock(blk ledger.Block) []byte {
	var buf bytes.Buffer
	ledger.SerializeTyped(&buf, blk)
	sb := blk.Sideband()
	if sb == nil {
		sb = &ledger.Sideband{}
	}
	buf.Write(sb.Successor.Bytes())
	buf.Write(sb.Account.Bytes())
	buf.Write(sb.Representative.Bytes())
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], sb.Height)
	buf.Write(num[:])
	balance := types.AmountToBytes(sb.Balance)
	buf.Write(balance[:])
	binary.BigEndian.PutUint64(num[:], sb.Timestamp)
	buf.Write(num[:])
	if sb.IsSend {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.WriteByte(sb.Epoch)
	return buf.Bytes()
}

func decodeBlock(data []byte) ledger.Block {
	r := bytes.NewReader(data)
	blk, err := ledger.DeserializeTyped(r)
	if err != nil || blk == nil {
		return nil
	}
	if r.Len() < sidebandSize {
		return nil
	}
	rest := data[len(data)-r.Len():]
	var sb ledger.Sideband
	sb.Successor.SetBytes(rest[:32])
	sb.Account.SetBytes(rest[32:64])
	sb.Representative.SetBytes(rest[64:96])
	sb.Height = binary.BigEndian.Uint64(rest[96:104])
	sb.Balance, _ = types.BytesToAmount(rest[104:120])
	sb.Timestamp = binary.BigEndian.Uint64(rest[120:128])
	sb.IsSend = rest[128] == 1
	sb.Epoch = rest[129]
	blk.SetSideband(sb)
	return blk
}

func (t *blockTable) Put(tx store.WriteTransaction, blk ledger.Block) {
	tx.(*writeTx).put(blockKey(blk.Hash()), encodeBlock(blk))
}

func (t *blockTable) Get(tx store.Transaction, hash types.Hash) ledger.Block {
	data, ok := (*Store)(t).get(tx, blockKey(hash))
	if !ok {
		return nil
	}
	return decodeBlock(data)
}

func (t *blockTable) Del(tx store.WriteTransaction, hash types.Hash) {
	tx.(*writeTx).del(blockKey(hash))
}

func (t *blockTable) Exists(tx store.Transaction, hash types.Hash) bool {
	_, ok := (*Store)(t).get(tx, blockKey(hash))
	return ok
}

func (t *blockTable) Successor(tx store.Transaction, hash types.Hash) types.Hash {
	if blk := t.Get(tx, hash); blk != nil {
		if sb := blk.Sideband(); sb != nil {
			return sb.Successor
		}
	}
	return types.ZERO_HASH
}

func (t *blockTable) SetSuccessor(tx store.WriteTransaction, hash, successor types.Hash) {
	if blk := t.Get(tx, hash); blk != nil {
		sb := blk.Sideband()
		if sb == nil {
			sb = &ledger.Sideband{}
		}
		sb.Successor = successor
		blk.SetSideband(*sb)
		t.Put(tx, blk)
	}
}

/*
 * accounts
 */

type accountTable Store

func (s *Store) Account() store.AccountStore { return (*accountTable)(s) }

func encodeAccountInfo(info store.AccountInfo) []byte {
	buf := make([]byte, 0, 32+32+32+16+8+8)
	buf = append(buf, info.Head.Bytes()...)
	buf = append(buf, info.Open.Bytes()...)
	buf = append(buf, info.Representative.Bytes()...)
	balance := types.AmountToBytes(info.Balance)
	buf = append(buf, balance[:]...)
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], info.Modified)
	buf = append(buf, num[:]...)
	binary.BigEndian.PutUint64(num[:], info.BlockCount)
	buf = append(buf, num[:]...)
	return buf
}

func decodeAccountInfo(data []byte) (info store.AccountInfo, ok bool) {
	if len(data) != 32+32+32+16+8+8 {
		return info, false
	}
	info.Head.SetBytes(data[:32])
	info.Open.SetBytes(data[32:64])
	info.Representative.SetBytes(data[64:96])
	info.Balance, _ = types.BytesToAmount(data[96:112])
	info.Modified = binary.BigEndian.Uint64(data[112:120])
	info.BlockCount = binary.BigEndian.Uint64(data[120:128])
	return info, true
}

func (t *accountTable) Get(tx store.Transaction, account types.Account) (store.AccountInfo, bool) {
	data, ok := (*Store)(t).get(tx, accountKey(account))
	if !ok {
		return store.AccountInfo{}, false
	}
	return decodeAccountInfo(data)
}

func (t *accountTable) Put(tx store.WriteTransaction, account types.Account, info store.AccountInfo) {
	tx.(*writeTx).put(accountKey(account), encodeAccountInfo(info))
}

func (t *accountTable) Del(tx store.WriteTransaction, account types.Account) {
	tx.(*writeTx).del(accountKey(account))
}

func (t *accountTable) Iterate(tx store.Transaction, start types.Account, fn func(types.Account, store.AccountInfo) bool) {
	iter := (*Store)(t).db.NewIterator(util.BytesPrefix([]byte{prefixAccounts}), nil)
	defer iter.Release()

	for ok := iter.Seek(accountKey(start)); ok; ok = iter.Next() {
		var account types.Account
		if account.SetBytes(iter.Key()[1:]) != nil {
			continue
		}
		info, valid := decodeAccountInfo(iter.Value())
		if !valid {
			continue
		}
		if !fn(account, info) {
			return
		}
	}
}

/*
 * frontiers
 */

type frontierTable Store

func (s *Store) Frontier() store.FrontierStore { return (*frontierTable)(s) }

func (t *frontierTable) Get(tx store.Transaction, hash types.Hash) (types.Account, bool) {
	data, ok := (*Store)(t).get(tx, frontierKey(hash))
	if !ok {
		return types.ZERO_ACCOUNT, false
	}
	account, err := types.BytesToAccount(data)
	return account, err == nil
}

func (t *frontierTable) Put(tx store.WriteTransaction, hash types.Hash, account types.Account) {
	tx.(*writeTx).put(frontierKey(hash), account.Bytes())
}

func (t *frontierTable) Del(tx store.WriteTransaction, hash types.Hash) {
	tx.(*writeTx).del(frontierKey(hash))
}

/*
 * pending
 */

type pendingTable Store

func (s *Store) Pending() store.PendingStore { return (*pendingTable)(s) }

func (t *pendingTable) Get(tx store.Transaction, key store.PendingKey) (store.PendingInfo, bool) {
	data, ok := (*Store)(t).get(tx, pendingKey(key))
	if !ok || len(data) != 32+16 {
		return store.PendingInfo{}, false
	}
	var info store.PendingInfo
	info.Source.SetBytes(data[:32])
	info.Amount, _ = types.BytesToAmount(data[32:48])
	return info, true
}

func (t *pendingTable) Put(tx store.WriteTransaction, key store.PendingKey, info store.PendingInfo) {
	buf := make([]byte, 0, 48)
	buf = append(buf, info.Source.Bytes()...)
	amount := types.AmountToBytes(info.Amount)
	buf = append(buf, amount[:]...)
	tx.(*writeTx).put(pendingKey(key), buf)
}

func (t *pendingTable) Del(tx store.WriteTransaction, key store.PendingKey) {
	tx.(*writeTx).del(pendingKey(key))
}

/*
 * confirmation height
 */

type confHeightTable Store

func (s *Store) ConfirmationHeight() store.ConfirmationHeightStore { return (*confHeightTable)(s) }

func (t *confHeightTable) Get(tx store.Transaction, account types.Account) (store.ConfirmationHeightInfo, bool) {
	data, ok := (*Store)(t).get(tx, confHeightKey(account))
	if !ok || len(data) != 8+32 {
		return store.ConfirmationHeightInfo{}, false
	}
	var info store.ConfirmationHeightInfo
	info.Height = binary.BigEndian.Uint64(data[:8])
	info.Frontier.SetBytes(data[8:40])
	return info, true
}

func (t *confHeightTable) Put(tx store.WriteTransaction, account types.Account, info store.ConfirmationHeightInfo) {
	buf := make([]byte, 40)
	binary.BigEndian.PutUint64(buf[:8], info.Height)
	copy(buf[8:], info.Frontier.Bytes())
	tx.(*writeTx).put(confHeightKey(account), buf)
}
