package message

import (
	"io"

	"github.com/nanoledger/go-nano/ledger"
)

// Publish floods a single block; the block type travels in the header bits.
type Publish struct {
	header Header
	Block  ledger.Block
}

func NewPublish(network Network, blk ledger.Block) *Publish {
	m := &Publish{header: NewHeader(network, TypePublish), Block: blk}
	m.header.SetBlockType(blk.Type())
	return m
}

func (m *Publish) Header() *Header { return &m.header }

func (m *Publish) Serialize(w io.Writer) error {
	if err := m.header.Serialize(w); err != nil {
		return err
	}
	return m.Block.Serialize(w)
}

func deserializePublish(h Header, r io.Reader) (*Publish, error) {
	blk, err := ledger.Deserialize(h.BlockType(), r)
	if err != nil {
		return nil, ErrInvalidMessage
	}
	return &Publish{header: h, Block: blk}, nil
}
