package message

import (
	"io"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
)

// HashRoot pairs an election hash with its qualified root, as requested by
// vote-by-hash confirm_req.
type HashRoot struct {
	Hash types.Hash
	Root types.Root
}

// ConfirmReq solicits votes, either for a full block or for a list of
// (hash, root) pairs carried under the not_a_block type with the pair count
// in the header.
type ConfirmReq struct {
	header      Header
	Block       ledger.Block
	RootsHashes []HashRoot
}

func NewConfirmReqBlock(network Network, blk ledger.Block) *ConfirmReq {
	m := &ConfirmReq{header: NewHeader(network, TypeConfirmReq), Block: blk}
	m.header.SetBlockType(blk.Type())
	return m
}

func NewConfirmReqHashes(network Network, rootsHashes []HashRoot) *ConfirmReq {
	m := &ConfirmReq{header: NewHeader(network, TypeConfirmReq), RootsHashes: rootsHashes}
	m.header.SetBlockType(ledger.BlockTypeNotABlock)
	m.header.SetCount(len(rootsHashes))
	return m
}

func (m *ConfirmReq) Header() *Header { return &m.header }

func (m *ConfirmReq) Serialize(w io.Writer) error {
	if err := m.header.Serialize(w); err != nil {
		return err
	}
	if m.header.BlockType() == ledger.BlockTypeNotABlock {
		for _, rh := range m.RootsHashes {
			if _, err := w.Write(rh.Hash.Bytes()); err != nil {
				return err
			}
			if _, err := w.Write(rh.Root.Bytes()); err != nil {
				return err
			}
		}
		return nil
	}
	return m.Block.Serialize(w)
}

func deserializeConfirmReq(h Header, r io.Reader) (*ConfirmReq, error) {
	m := &ConfirmReq{header: h}
	if h.BlockType() == ledger.BlockTypeNotABlock {
		count := h.Count()
		var buf [64]byte
		for i := 0; i < count; i++ {
			if err := readFull(r, buf[:]); err != nil {
				return nil, ErrInvalidMessage
			}
			var rh HashRoot
			rh.Hash.SetBytes(buf[:32])
			copy(rh.Root[:], buf[32:64])
			if !rh.Hash.IsZero() || !rh.Root.IsZero() {
				m.RootsHashes = append(m.RootsHashes, rh)
			}
		}
		if len(m.RootsHashes) == 0 || len(m.RootsHashes) != count {
			return nil, ErrInvalidMessage
		}
		return m, nil
	}
	blk, err := ledger.Deserialize(h.BlockType(), r)
	if err != nil {
		return nil, ErrInvalidMessage
	}
	m.Block = blk
	return m, nil
}

// ConfirmAck carries a vote. The hash count travels in the header count bits
// and the block type is always not_a_block.
type ConfirmAck struct {
	header Header
	Vote   *ledger.Vote
}

func NewConfirmAck(network Network, vote *ledger.Vote) *ConfirmAck {
	m := &ConfirmAck{header: NewHeader(network, TypeConfirmAck), Vote: vote}
	m.header.SetBlockType(ledger.BlockTypeNotABlock)
	m.header.SetCount(len(vote.Hashes))
	return m
}

func (m *ConfirmAck) Header() *Header { return &m.header }

func (m *ConfirmAck) Serialize(w io.Writer) error {
	if err := m.header.Serialize(w); err != nil {
		return err
	}
	return m.Vote.Serialize(w)
}

func deserializeConfirmAck(h Header, r io.Reader) (*ConfirmAck, error) {
	vote, err := ledger.DeserializeVote(r, h.Count())
	if err != nil {
		return nil, ErrInvalidMessage
	}
	return &ConfirmAck{header: h, Vote: vote}, nil
}
