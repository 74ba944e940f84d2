package ledger

import (
	"io"
	"math/big"
	"sync"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
)

// blockBase carries the pieces shared by every variant: signature, work, the
// lazily computed hash and the sideband attached at apply time.
type blockBase struct {
	signature types.Signature
	work      types.Work

	hashOnce sync.Once
	hash     types.Hash

	sidebandMu  sync.Mutex
	sideband    Sideband
	hasSideband bool
}

func (b *blockBase) Signature() types.Signature { return b.signature }
func (b *blockBase) Work() types.Work           { return b.work }

func (b *blockBase) SetSignature(s types.Signature) { b.signature = s }
func (b *blockBase) SetWork(w types.Work)           { b.work = w }

func (b *blockBase) SetSideband(s Sideband) {
	b.sidebandMu.Lock()
	b.sideband = s
	b.hasSideband = true
	b.sidebandMu.Unlock()
}

func (b *blockBase) Sideband() *Sideband {
	b.sidebandMu.Lock()
	defer b.sidebandMu.Unlock()
	if !b.hasSideband {
		return nil
	}
	s := b.sideband
	return &s
}

func computeHash(blk Block) types.Hash {
	var w hashWriter
	blk.Hashables(&w)
	var h types.Hash
	copy(h[:], crypto.Hash256(w.buf))
	return h
}

type hashWriter struct {
	buf []byte
}

func (w *hashWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

/*
 * send
 */

type SendBlock struct {
	blockBase
	previous    types.Hash
	destination types.Account
	balance     *big.Int
}

func NewSendBlock(previous types.Hash, destination types.Account, balance *big.Int) *SendBlock {
	return &SendBlock{previous: previous, destination: destination, balance: balance}
}

func (b *SendBlock) Type() BlockType { return BlockTypeSend }

func (b *SendBlock) Hash() types.Hash {
	b.hashOnce.Do(func() { b.hash = computeHash(b) })
	return b.hash
}

func (b *SendBlock) Previous() types.Hash           { return b.previous }
func (b *SendBlock) Account() types.Account         { return types.ZERO_ACCOUNT }
func (b *SendBlock) Representative() types.Account  { return types.ZERO_ACCOUNT }
func (b *SendBlock) Balance() *big.Int              { return b.balance }
func (b *SendBlock) Link() types.HashOrAccount      { return types.HashOrAccount{} }
func (b *SendBlock) Destination() types.Account     { return b.destination }
func (b *SendBlock) Source() types.Hash             { return types.ZERO_HASH }
func (b *SendBlock) Root() types.Root               { return root(b.previous, types.ZERO_ACCOUNT) }
func (b *SendBlock) QualifiedRoot() types.QualifiedRoot {
	return types.QualifiedRoot{Root: b.Root(), Previous: b.previous}
}

func (b *SendBlock) Hashables(w io.Writer) {
	balance := types.AmountToBytes(b.balance)
	writeAll(w, b.previous.Bytes(), b.destination.Bytes(), balance[:])
}

func (b *SendBlock) Serialize(w io.Writer) error {
	balance := types.AmountToBytes(b.balance)
	return writeAll(w, b.previous.Bytes(), b.destination.Bytes(), balance[:], b.signature.Bytes(), uint64LE(uint64(b.work)))
}

func (b *SendBlock) deserialize(r io.Reader) error {
	buf := make([]byte, sendSize)
	if err := readFull(r, buf); err != nil {
		return err
	}
	b.previous.SetBytes(buf[:32])
	b.destination.SetBytes(buf[32:64])
	b.balance, _ = types.BytesToAmount(buf[64:80])
	b.signature.SetBytes(buf[80:144])
	b.work = types.Work(leUint64(buf[144:152]))
	return nil
}

/*
 * receive
 */

type ReceiveBlock struct {
	blockBase
	previous types.Hash
	source   types.Hash
}

func NewReceiveBlock(previous, source types.Hash) *ReceiveBlock {
	return &ReceiveBlock{previous: previous, source: source}
}

func (b *ReceiveBlock) Type() BlockType { return BlockTypeReceive }

func (b *ReceiveBlock) Hash() types.Hash {
	b.hashOnce.Do(func() { b.hash = computeHash(b) })
	return b.hash
}

func (b *ReceiveBlock) Previous() types.Hash          { return b.previous }
func (b *ReceiveBlock) Account() types.Account        { return types.ZERO_ACCOUNT }
func (b *ReceiveBlock) Representative() types.Account { return types.ZERO_ACCOUNT }
func (b *ReceiveBlock) Balance() *big.Int             { return nil }
func (b *ReceiveBlock) Link() types.HashOrAccount     { return types.HashOrAccount{} }
func (b *ReceiveBlock) Destination() types.Account    { return types.ZERO_ACCOUNT }
func (b *ReceiveBlock) Source() types.Hash            { return b.source }
func (b *ReceiveBlock) Root() types.Root              { return root(b.previous, types.ZERO_ACCOUNT) }
func (b *ReceiveBlock) QualifiedRoot() types.QualifiedRoot {
	return types.QualifiedRoot{Root: b.Root(), Previous: b.previous}
}

func (b *ReceiveBlock) Hashables(w io.Writer) {
	writeAll(w, b.previous.Bytes(), b.source.Bytes())
}

func (b *ReceiveBlock) Serialize(w io.Writer) error {
	return writeAll(w, b.previous.Bytes(), b.source.Bytes(), b.signature.Bytes(), uint64LE(uint64(b.work)))
}

func (b *ReceiveBlock) deserialize(r io.Reader) error {
	buf := make([]byte, receiveSize)
	if err := readFull(r, buf); err != nil {
		return err
	}
	b.previous.SetBytes(buf[:32])
	b.source.SetBytes(buf[32:64])
	b.signature.SetBytes(buf[64:128])
	b.work = types.Work(leUint64(buf[128:136]))
	return nil
}

/*
 * open
 */

type OpenBlock struct {
	blockBase
	source         types.Hash
	representative types.Account
	account        types.Account
}

func NewOpenBlock(source types.Hash, representative, account types.Account) *OpenBlock {
	return &OpenBlock{source: source, representative: representative, account: account}
}

func (b *OpenBlock) Type() BlockType { return BlockTypeOpen }

func (b *OpenBlock) Hash() types.Hash {
	b.hashOnce.Do(func() { b.hash = computeHash(b) })
	return b.hash
}

func (b *OpenBlock) Previous() types.Hash          { return types.ZERO_HASH }
func (b *OpenBlock) Account() types.Account        { return b.account }
func (b *OpenBlock) Representative() types.Account { return b.representative }
func (b *OpenBlock) Balance() *big.Int             { return nil }
func (b *OpenBlock) Link() types.HashOrAccount     { return types.HashOrAccount{} }
func (b *OpenBlock) Destination() types.Account    { return types.ZERO_ACCOUNT }
func (b *OpenBlock) Source() types.Hash            { return b.source }
func (b *OpenBlock) Root() types.Root              { return root(types.ZERO_HASH, b.account) }
func (b *OpenBlock) QualifiedRoot() types.QualifiedRoot {
	return types.QualifiedRoot{Root: b.Root(), Previous: types.ZERO_HASH}
}

func (b *OpenBlock) Hashables(w io.Writer) {
	writeAll(w, b.source.Bytes(), b.representative.Bytes(), b.account.Bytes())
}

func (b *OpenBlock) Serialize(w io.Writer) error {
	return writeAll(w, b.source.Bytes(), b.representative.Bytes(), b.account.Bytes(), b.signature.Bytes(), uint64LE(uint64(b.work)))
}

func (b *OpenBlock) deserialize(r io.Reader) error {
	buf := make([]byte, openSize)
	if err := readFull(r, buf); err != nil {
		return err
	}
	b.source.SetBytes(buf[:32])
	b.representative.SetBytes(buf[32:64])
	b.account.SetBytes(buf[64:96])
	b.signature.SetBytes(buf[96:160])
	b.work = types.Work(leUint64(buf[160:168]))
	return nil
}

/*
 * change
 */

type ChangeBlock struct {
	blockBase
	previous       types.Hash
	representative types.Account
}

func NewChangeBlock(previous types.Hash, representative types.Account) *ChangeBlock {
	return &ChangeBlock{previous: previous, representative: representative}
}

func (b *ChangeBlock) Type() BlockType { return BlockTypeChange }

func (b *ChangeBlock) Hash() types.Hash {
	b.hashOnce.Do(func() { b.hash = computeHash(b) })
	return b.hash
}

func (b *ChangeBlock) Previous() types.Hash          { return b.previous }
func (b *ChangeBlock) Account() types.Account        { return types.ZERO_ACCOUNT }
func (b *ChangeBlock) Representative() types.Account { return b.representative }
func (b *ChangeBlock) Balance() *big.Int             { return nil }
func (b *ChangeBlock) Link() types.HashOrAccount     { return types.HashOrAccount{} }
func (b *ChangeBlock) Destination() types.Account    { return types.ZERO_ACCOUNT }
func (b *ChangeBlock) Source() types.Hash            { return types.ZERO_HASH }
func (b *ChangeBlock) Root() types.Root              { return root(b.previous, types.ZERO_ACCOUNT) }
func (b *ChangeBlock) QualifiedRoot() types.QualifiedRoot {
	return types.QualifiedRoot{Root: b.Root(), Previous: b.previous}
}

func (b *ChangeBlock) Hashables(w io.Writer) {
	writeAll(w, b.previous.Bytes(), b.representative.Bytes())
}

func (b *ChangeBlock) Serialize(w io.Writer) error {
	return writeAll(w, b.previous.Bytes(), b.representative.Bytes(), b.signature.Bytes(), uint64LE(uint64(b.work)))
}

func (b *ChangeBlock) deserialize(r io.Reader) error {
	buf := make([]byte, changeSize)
	if err := readFull(r, buf); err != nil {
		return err
	}
	b.previous.SetBytes(buf[:32])
	b.representative.SetBytes(buf[32:64])
	b.signature.SetBytes(buf[64:128])
	b.work = types.Work(leUint64(buf[128:136]))
	return nil
}

/*
 * state
 */

// statePreamble distinguishes state block hashes from legacy ones.
var statePreamble = func() [32]byte {
	var p [32]byte
	p[31] = byte(BlockTypeState)
	return p
}()

type StateBlock struct {
	blockBase
	account        types.Account
	previous       types.Hash
	representative types.Account
	balance        *big.Int
	link           types.HashOrAccount
}

func NewStateBlock(account types.Account, previous types.Hash, representative types.Account, balance *big.Int, link types.HashOrAccount) *StateBlock {
	return &StateBlock{
		account:        account,
		previous:       previous,
		representative: representative,
		balance:        balance,
		link:           link,
	}
}

func (b *StateBlock) Type() BlockType { return BlockTypeState }

func (b *StateBlock) Hash() types.Hash {
	b.hashOnce.Do(func() { b.hash = computeHash(b) })
	return b.hash
}

func (b *StateBlock) Previous() types.Hash          { return b.previous }
func (b *StateBlock) Account() types.Account        { return b.account }
func (b *StateBlock) Representative() types.Account { return b.representative }
func (b *StateBlock) Balance() *big.Int             { return b.balance }
func (b *StateBlock) Link() types.HashOrAccount     { return b.link }
func (b *StateBlock) Destination() types.Account    { return types.ZERO_ACCOUNT }
func (b *StateBlock) Source() types.Hash            { return types.ZERO_HASH }
func (b *StateBlock) Root() types.Root              { return root(b.previous, b.account) }
func (b *StateBlock) QualifiedRoot() types.QualifiedRoot {
	return types.QualifiedRoot{Root: b.Root(), Previous: b.previous}
}

func (b *StateBlock) Hashables(w io.Writer) {
	balance := types.AmountToBytes(b.balance)
	writeAll(w, statePreamble[:], b.account.Bytes(), b.previous.Bytes(), b.representative.Bytes(), balance[:], b.link.Bytes())
}

func (b *StateBlock) Serialize(w io.Writer) error {
	balance := types.AmountToBytes(b.balance)
	// State block work travels big-endian, unlike legacy blocks.
	return writeAll(w, b.account.Bytes(), b.previous.Bytes(), b.representative.Bytes(), balance[:], b.link.Bytes(), b.signature.Bytes(), uint64BE(uint64(b.work)))
}

func (b *StateBlock) deserialize(r io.Reader) error {
	buf := make([]byte, stateSize)
	if err := readFull(r, buf); err != nil {
		return err
	}
	b.account.SetBytes(buf[:32])
	b.previous.SetBytes(buf[32:64])
	b.representative.SetBytes(buf[64:96])
	b.balance, _ = types.BytesToAmount(buf[96:112])
	copy(b.link[:], buf[112:144])
	b.signature.SetBytes(buf[144:208])
	b.work = types.Work(beUint64(buf[208:216]))
	return nil
}

/*
 * (de)serialization entry points
 */

// Deserialize reads a block body of a known type. Returns ErrBadBlockType for
// types without a body.
func Deserialize(t BlockType, r io.Reader) (Block, error) {
	switch t {
	case BlockTypeSend:
		b := new(SendBlock)
		return b, b.deserialize(r)
	case BlockTypeReceive:
		b := new(ReceiveBlock)
		return b, b.deserialize(r)
	case BlockTypeOpen:
		b := new(OpenBlock)
		return b, b.deserialize(r)
	case BlockTypeChange:
		b := new(ChangeBlock)
		return b, b.deserialize(r)
	case BlockTypeState:
		b := new(StateBlock)
		return b, b.deserialize(r)
	}
	return nil, ErrBadBlockType
}

// SerializeTyped writes the type byte followed by the block body.
func SerializeTyped(w io.Writer, blk Block) error {
	if _, err := w.Write([]byte{byte(blk.Type())}); err != nil {
		return err
	}
	return blk.Serialize(w)
}

// DeserializeTyped reads a type byte and the matching body. A not_a_block
// type byte yields (nil, nil) and serves as a sequence terminator.
func DeserializeTyped(r io.Reader) (Block, error) {
	var t [1]byte
	if err := readFull(r, t[:]); err != nil {
		return nil, err
	}
	typ := BlockType(t[0])
	if typ == BlockTypeNotABlock {
		return nil, nil
	}
	return Deserialize(typ, r)
}

// Sign attaches kp's signature over the block hash.
func Sign(blk Block, kp crypto.KeyPair) types.Signature {
	return kp.Sign(blk.Hash().Bytes())
}

// ValidateSignature reports whether the block is correctly signed by account.
func ValidateSignature(blk Block, account types.Account) bool {
	return crypto.Verify(account, blk.Hash().Bytes(), blk.Signature())
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func beUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
