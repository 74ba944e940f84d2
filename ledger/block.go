package ledger

import (
	"io"
	"math/big"

	"github.com/pkg/errors"

	"github.com/nanoledger/go-nano/common/types"
)

type BlockType byte

const (
	BlockTypeInvalid BlockType = iota
	BlockTypeNotABlock
	BlockTypeSend
	BlockTypeReceive
	BlockTypeOpen
	BlockTypeChange
	BlockTypeState
)

func (t BlockType) String() string {
	switch t {
	case BlockTypeInvalid:
		return "invalid"
	case BlockTypeNotABlock:
		return "not_a_block"
	case BlockTypeSend:
		return "send"
	case BlockTypeReceive:
		return "receive"
	case BlockTypeOpen:
		return "open"
	case BlockTypeChange:
		return "change"
	case BlockTypeState:
		return "state"
	}
	return "n/a"
}

var ErrBadBlockType = errors.New("bad block type")

// Sideband is metadata computed when a block is applied to the ledger, stored
// alongside the block itself.
type Sideband struct {
	Successor      types.Hash
	Account        types.Account
	Representative types.Account
	Height         uint64
	Balance        *big.Int
	Timestamp      uint64
	IsSend         bool
	Epoch          uint8
}

// Block is an immutable record in an account chain. Concrete variants are
// SendBlock, ReceiveBlock, OpenBlock, ChangeBlock and StateBlock. A block is
// never mutated after creation; the sideband is attached by the ledger at
// apply time.
type Block interface {
	Type() BlockType
	Hash() types.Hash
	Previous() types.Hash
	// Account is the owning account where the block itself carries it (open
	// and state blocks); zero otherwise.
	Account() types.Account
	// Representative where present; zero otherwise.
	Representative() types.Account
	// Balance where present (send and state blocks); nil otherwise.
	Balance() *big.Int
	// Link of a state block; zero for other types.
	Link() types.HashOrAccount
	// Destination of a legacy send; zero otherwise.
	Destination() types.Account
	// Source of a legacy receive/open; zero otherwise.
	Source() types.Hash

	Root() types.Root
	QualifiedRoot() types.QualifiedRoot

	Signature() types.Signature
	Work() types.Work
	SetSignature(types.Signature)
	SetWork(types.Work)

	// Serialize writes the wire representation, without the leading type byte.
	Serialize(w io.Writer) error
	// Hashables writes the fields covered by the block hash and signature.
	Hashables(w io.Writer)

	Sideband() *Sideband
	SetSideband(Sideband)
}

// Size returns the serialized size of a block of the given type, excluding
// the type byte. Zero for types that have no body.
func Size(t BlockType) int {
	switch t {
	case BlockTypeSend:
		return sendSize
	case BlockTypeReceive:
		return receiveSize
	case BlockTypeOpen:
		return openSize
	case BlockTypeChange:
		return changeSize
	case BlockTypeState:
		return stateSize
	}
	return 0
}

const (
	sendSize    = types.HashSize + types.AccountSize + types.AmountSize + types.SignatureSize + types.WorkSize
	receiveSize = types.HashSize + types.HashSize + types.SignatureSize + types.WorkSize
	openSize    = types.HashSize + types.AccountSize + types.AccountSize + types.SignatureSize + types.WorkSize
	changeSize  = types.HashSize + types.AccountSize + types.SignatureSize + types.WorkSize
	stateSize   = types.AccountSize + types.HashSize + types.AccountSize + types.AmountSize + types.HashSize + types.SignatureSize + types.WorkSize
)

// root computes the fork-detection root shared by all block types: previous
// for chained blocks, the account key for first blocks.
func root(previous types.Hash, account types.Account) types.Root {
	var r types.Root
	if !previous.IsZero() {
		r.SetHash(previous)
	} else {
		r.SetAccount(account)
	}
	return r
}
