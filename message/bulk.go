package message

import (
	"encoding/binary"
	"io"
	"math/big"

	"github.com/nanoledger/go-nano/common/types"
)

// BulkPull is the legacy pull: blocks from start down to end. A non-zero
// count travels in an extended trailer gated by a header flag; count zero
// means all blocks and the flag stays clear.
type BulkPull struct {
	header Header
	Start  types.HashOrAccount
	End    types.Hash
	Count  uint32
}

func NewBulkPull(network Network, start types.HashOrAccount, end types.Hash, count uint32, ascending bool) *BulkPull {
	m := &BulkPull{header: NewHeader(network, TypeBulkPull), Start: start, End: end, Count: count}
	m.header.SetFlag(BulkPullCountPresentFlag, count != 0)
	m.header.SetFlag(BulkPullAscendingFlag, ascending)
	return m
}

func (m *BulkPull) Header() *Header { return &m.header }

func (m *BulkPull) Ascending() bool { return m.header.Flag(BulkPullAscendingFlag) }

func (m *BulkPull) Serialize(w io.Writer) error {
	// Normalize: a zero count never serializes the extended trailer.
	m.header.SetFlag(BulkPullCountPresentFlag, m.Count != 0)
	if err := m.header.Serialize(w); err != nil {
		return err
	}
	if _, err := w.Write(m.Start.Bytes()); err != nil {
		return err
	}
	if _, err := w.Write(m.End.Bytes()); err != nil {
		return err
	}
	if m.Count != 0 {
		var trailer [bulkPullExtendedSize]byte
		binary.LittleEndian.PutUint32(trailer[1:5], m.Count)
		if _, err := w.Write(trailer[:]); err != nil {
			return err
		}
	}
	return nil
}

func deserializeBulkPull(h Header, r io.Reader) (*BulkPull, error) {
	m := &BulkPull{header: h}
	var buf [64]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	copy(m.Start[:], buf[:32])
	m.End.SetBytes(buf[32:64])
	if h.Flag(BulkPullCountPresentFlag) {
		var trailer [bulkPullExtendedSize]byte
		if err := readFull(r, trailer[:]); err != nil {
			return nil, ErrInvalidMessage
		}
		if trailer[0] != 0 {
			return nil, ErrInvalidMessage
		}
		m.Count = binary.LittleEndian.Uint32(trailer[1:5])
	}
	return m, nil
}

// BulkPullAccount requests the pending entries of one account over a minimum
// amount.
type BulkPullAccount struct {
	header        Header
	Account       types.Account
	MinimumAmount *big.Int
	Flags         byte
}

func NewBulkPullAccount(network Network, account types.Account, minimum *big.Int, flags byte) *BulkPullAccount {
	return &BulkPullAccount{header: NewHeader(network, TypeBulkPullAccount), Account: account, MinimumAmount: minimum, Flags: flags}
}

func (m *BulkPullAccount) Header() *Header { return &m.header }

func (m *BulkPullAccount) Serialize(w io.Writer) error {
	if err := m.header.Serialize(w); err != nil {
		return err
	}
	if _, err := w.Write(m.Account.Bytes()); err != nil {
		return err
	}
	amount := types.AmountToBytes(m.MinimumAmount)
	if _, err := w.Write(amount[:]); err != nil {
		return err
	}
	_, err := w.Write([]byte{m.Flags})
	return err
}

func deserializeBulkPullAccount(h Header, r io.Reader) (*BulkPullAccount, error) {
	var buf [bulkPullAccountSize]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	m := &BulkPullAccount{header: h}
	m.Account.SetBytes(buf[:32])
	m.MinimumAmount, _ = types.BytesToAmount(buf[32:48])
	m.Flags = buf[48]
	return m, nil
}

// BulkPush announces a block push stream on a bootstrap connection; it has no
// payload of its own.
type BulkPush struct {
	header Header
}

func NewBulkPush(network Network) *BulkPush {
	return &BulkPush{header: NewHeader(network, TypeBulkPush)}
}

func (m *BulkPush) Header() *Header { return &m.header }

func (m *BulkPush) Serialize(w io.Writer) error {
	return m.header.Serialize(w)
}

// FrontierReq asks for (account, head) pairs starting at an account key.
type FrontierReq struct {
	header Header
	Start  types.Account
	Age    uint32
	Count  uint32
}

func NewFrontierReq(network Network, start types.Account, age, count uint32) *FrontierReq {
	return &FrontierReq{header: NewHeader(network, TypeFrontierReq), Start: start, Age: age, Count: count}
}

func (m *FrontierReq) Header() *Header { return &m.header }

func (m *FrontierReq) OnlyConfirmed() bool { return m.header.Flag(FrontierReqOnlyConfirmed) }

func (m *FrontierReq) Serialize(w io.Writer) error {
	if err := m.header.Serialize(w); err != nil {
		return err
	}
	var buf [frontierReqSize]byte
	copy(buf[:32], m.Start.Bytes())
	binary.LittleEndian.PutUint32(buf[32:36], m.Age)
	binary.LittleEndian.PutUint32(buf[36:40], m.Count)
	_, err := w.Write(buf[:])
	return err
}

func deserializeFrontierReq(h Header, r io.Reader) (*FrontierReq, error) {
	var buf [frontierReqSize]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	m := &FrontierReq{header: h}
	m.Start.SetBytes(buf[:32])
	m.Age = binary.LittleEndian.Uint32(buf[32:36])
	m.Count = binary.LittleEndian.Uint32(buf[36:40])
	return m, nil
}
