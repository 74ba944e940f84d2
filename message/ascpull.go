package message

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
)

// AscPullType tags the payload variant of asc_pull_req/ack.
type AscPullType byte

const (
	AscPullInvalid AscPullType = iota
	AscPullBlocks
	AscPullAccountInfo
	AscPullFrontiers
)

func (t AscPullType) String() string {
	switch t {
	case AscPullBlocks:
		return "blocks"
	case AscPullAccountInfo:
		return "account_info"
	case AscPullFrontiers:
		return "frontiers"
	}
	return "invalid"
}

// HashType says how to interpret a 32-byte wire target.
type HashType byte

const (
	HashTypeBlock HashType = iota
	HashTypeAccount
)

const (
	// MaxPullBlocks bounds one blocks response; requests over it are refused
	// by the server and the codec stops reading past it.
	MaxPullBlocks = 128
	// MaxPullFrontiers bounds one frontiers response.
	MaxPullFrontiers = 1000
)

// AscPullPayload is the tagged payload carried by asc_pull_req/ack. The
// codec reads the tag first and parses the matching variant; serialization
// asserts the tag matches the payload (verify consistency).
type AscPullPayload interface {
	AscPullType() AscPullType
	serialize(w io.Writer) error
}

/*
 * request payloads
 */

type AscPullReqBlocks struct {
	Start     types.HashOrAccount
	Count     uint8
	StartType HashType
}

func (p *AscPullReqBlocks) AscPullType() AscPullType { return AscPullBlocks }

func (p *AscPullReqBlocks) serialize(w io.Writer) error {
	if _, err := w.Write(p.Start.Bytes()); err != nil {
		return err
	}
	_, err := w.Write([]byte{p.Count, byte(p.StartType)})
	return err
}

func deserializeAscPullReqBlocks(r io.Reader) (*AscPullReqBlocks, error) {
	var buf [34]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	p := new(AscPullReqBlocks)
	copy(p.Start[:], buf[:32])
	p.Count = buf[32]
	p.StartType = HashType(buf[33])
	return p, nil
}

type AscPullReqAccountInfo struct {
	Target     types.HashOrAccount
	TargetType HashType
}

func (p *AscPullReqAccountInfo) AscPullType() AscPullType { return AscPullAccountInfo }

func (p *AscPullReqAccountInfo) serialize(w io.Writer) error {
	if _, err := w.Write(p.Target.Bytes()); err != nil {
		return err
	}
	_, err := w.Write([]byte{byte(p.TargetType)})
	return err
}

func deserializeAscPullReqAccountInfo(r io.Reader) (*AscPullReqAccountInfo, error) {
	var buf [33]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	p := new(AscPullReqAccountInfo)
	copy(p.Target[:], buf[:32])
	p.TargetType = HashType(buf[32])
	return p, nil
}

type AscPullReqFrontiers struct {
	Start types.Account
	Count uint16
}

func (p *AscPullReqFrontiers) AscPullType() AscPullType { return AscPullFrontiers }

func (p *AscPullReqFrontiers) serialize(w io.Writer) error {
	if _, err := w.Write(p.Start.Bytes()); err != nil {
		return err
	}
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], p.Count)
	_, err := w.Write(count[:])
	return err
}

func deserializeAscPullReqFrontiers(r io.Reader) (*AscPullReqFrontiers, error) {
	var buf [34]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	p := new(AscPullReqFrontiers)
	p.Start.SetBytes(buf[:32])
	p.Count = binary.BigEndian.Uint16(buf[32:34])
	return p, nil
}

/*
 * response payloads
 */

// AscPullAckBlocks is a chain segment terminated on the wire by a
// not_a_block type byte.
type AscPullAckBlocks struct {
	Blocks []ledger.Block
}

func (p *AscPullAckBlocks) AscPullType() AscPullType { return AscPullBlocks }

func (p *AscPullAckBlocks) serialize(w io.Writer) error {
	for _, blk := range p.Blocks {
		if err := ledger.SerializeTyped(w, blk); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{byte(ledger.BlockTypeNotABlock)})
	return err
}

func deserializeAscPullAckBlocks(r io.Reader) (*AscPullAckBlocks, error) {
	p := new(AscPullAckBlocks)
	for len(p.Blocks) < MaxPullBlocks {
		blk, err := ledger.DeserializeTyped(r)
		if err != nil {
			return nil, ErrInvalidMessage
		}
		if blk == nil {
			return p, nil // terminator
		}
		p.Blocks = append(p.Blocks, blk)
	}
	return p, nil
}

type AscPullAckAccountInfo struct {
	Account      types.Account
	Open         types.Hash
	Head         types.Hash
	BlockCount   uint64
	ConfFrontier types.Hash
	ConfHeight   uint64
}

func (p *AscPullAckAccountInfo) AscPullType() AscPullType { return AscPullAccountInfo }

func (p *AscPullAckAccountInfo) serialize(w io.Writer) error {
	var num [8]byte
	if _, err := w.Write(p.Account.Bytes()); err != nil {
		return err
	}
	if _, err := w.Write(p.Open.Bytes()); err != nil {
		return err
	}
	if _, err := w.Write(p.Head.Bytes()); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(num[:], p.BlockCount)
	if _, err := w.Write(num[:]); err != nil {
		return err
	}
	if _, err := w.Write(p.ConfFrontier.Bytes()); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(num[:], p.ConfHeight)
	_, err := w.Write(num[:])
	return err
}

func deserializeAscPullAckAccountInfo(r io.Reader) (*AscPullAckAccountInfo, error) {
	var buf [32 + 32 + 32 + 8 + 32 + 8]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	p := new(AscPullAckAccountInfo)
	p.Account.SetBytes(buf[:32])
	p.Open.SetBytes(buf[32:64])
	p.Head.SetBytes(buf[64:96])
	p.BlockCount = binary.BigEndian.Uint64(buf[96:104])
	p.ConfFrontier.SetBytes(buf[104:136])
	p.ConfHeight = binary.BigEndian.Uint64(buf[136:144])
	return p, nil
}

type Frontier struct {
	Account types.Account
	Hash    types.Hash
}

// AscPullAckFrontiers is a pair sequence terminated by an all-zero pair.
type AscPullAckFrontiers struct {
	Frontiers []Frontier
}

func (p *AscPullAckFrontiers) AscPullType() AscPullType { return AscPullFrontiers }

func (p *AscPullAckFrontiers) serialize(w io.Writer) error {
	for _, f := range p.Frontiers {
		if _, err := w.Write(f.Account.Bytes()); err != nil {
			return err
		}
		if _, err := w.Write(f.Hash.Bytes()); err != nil {
			return err
		}
	}
	var terminator [64]byte
	_, err := w.Write(terminator[:])
	return err
}

func deserializeAscPullAckFrontiers(r io.Reader) (*AscPullAckFrontiers, error) {
	p := new(AscPullAckFrontiers)
	var buf [64]byte
	for len(p.Frontiers) <= MaxPullFrontiers {
		if err := readFull(r, buf[:]); err != nil {
			return nil, ErrInvalidMessage
		}
		var f Frontier
		f.Account.SetBytes(buf[:32])
		f.Hash.SetBytes(buf[32:64])
		if f.Account.IsZero() && f.Hash.IsZero() {
			return p, nil // terminator
		}
		p.Frontiers = append(p.Frontiers, f)
	}
	return nil, ErrInvalidMessage
}

/*
 * asc_pull_req
 */

// AscPullReq asks a peer for blocks, account info or frontiers. The header
// extensions carry the payload length; Type and Payload must agree.
type AscPullReq struct {
	header  Header
	Type    AscPullType
	ID      uint64
	Payload AscPullPayload
}

func NewAscPullReq(network Network, id uint64, payload AscPullPayload) *AscPullReq {
	m := &AscPullReq{
		header:  NewHeader(network, TypeAscPullReq),
		Type:    payload.AscPullType(),
		ID:      id,
		Payload: payload,
	}
	m.updateHeader()
	return m
}

func (m *AscPullReq) Header() *Header { return &m.header }

func (m *AscPullReq) updateHeader() {
	var buf bytes.Buffer
	m.Payload.serialize(&buf)
	m.header.Extensions = uint16(buf.Len())
}

func (m *AscPullReq) Serialize(w io.Writer) error {
	if m.Payload == nil || m.Payload.AscPullType() != m.Type {
		return ErrInvalidMessage
	}
	m.updateHeader()
	if err := m.header.Serialize(w); err != nil {
		return err
	}
	if err := writeAscPullPrelude(w, m.Type, m.ID); err != nil {
		return err
	}
	return m.Payload.serialize(w)
}

func deserializeAscPullReq(h Header, r io.Reader) (*AscPullReq, error) {
	m := &AscPullReq{header: h}
	var err error
	if m.Type, m.ID, err = readAscPullPrelude(r); err != nil {
		return nil, err
	}
	switch m.Type {
	case AscPullBlocks:
		m.Payload, err = deserializeAscPullReqBlocks(r)
	case AscPullAccountInfo:
		m.Payload, err = deserializeAscPullReqAccountInfo(r)
	case AscPullFrontiers:
		m.Payload, err = deserializeAscPullReqFrontiers(r)
	default:
		return nil, ErrInvalidMessage
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

/*
 * asc_pull_ack
 */

type AscPullAck struct {
	header  Header
	Type    AscPullType
	ID      uint64
	Payload AscPullPayload
}

func NewAscPullAck(network Network, id uint64, payload AscPullPayload) *AscPullAck {
	m := &AscPullAck{
		header:  NewHeader(network, TypeAscPullAck),
		Type:    payload.AscPullType(),
		ID:      id,
		Payload: payload,
	}
	m.updateHeader()
	return m
}

func (m *AscPullAck) Header() *Header { return &m.header }

func (m *AscPullAck) updateHeader() {
	var buf bytes.Buffer
	m.Payload.serialize(&buf)
	m.header.Extensions = uint16(buf.Len())
}

func (m *AscPullAck) Serialize(w io.Writer) error {
	if m.Payload == nil || m.Payload.AscPullType() != m.Type {
		return ErrInvalidMessage
	}
	m.updateHeader()
	if err := m.header.Serialize(w); err != nil {
		return err
	}
	if err := writeAscPullPrelude(w, m.Type, m.ID); err != nil {
		return err
	}
	return m.Payload.serialize(w)
}

func deserializeAscPullAck(h Header, r io.Reader) (*AscPullAck, error) {
	m := &AscPullAck{header: h}
	var err error
	if m.Type, m.ID, err = readAscPullPrelude(r); err != nil {
		return nil, err
	}
	switch m.Type {
	case AscPullBlocks:
		m.Payload, err = deserializeAscPullAckBlocks(r)
	case AscPullAccountInfo:
		m.Payload, err = deserializeAscPullAckAccountInfo(r)
	case AscPullFrontiers:
		m.Payload, err = deserializeAscPullAckFrontiers(r)
	default:
		return nil, ErrInvalidMessage
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func writeAscPullPrelude(w io.Writer, t AscPullType, id uint64) error {
	var buf [ascPullPartialSize]byte
	buf[0] = byte(t)
	binary.BigEndian.PutUint64(buf[1:9], id)
	_, err := w.Write(buf[:])
	return err
}

func readAscPullPrelude(r io.Reader) (AscPullType, uint64, error) {
	var buf [ascPullPartialSize]byte
	if err := readFull(r, buf[:]); err != nil {
		return AscPullInvalid, 0, ErrInvalidMessage
	}
	return AscPullType(buf[0]), binary.BigEndian.Uint64(buf[1:9]), nil
}
