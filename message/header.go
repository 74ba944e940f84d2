package message

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/nanoledger/go-nano/ledger"
)

// Network selects the chain a node speaks for; peers on a different network
// are rejected during header validation.
type Network uint16

const (
	NetworkDev  Network = 0x5241 // 'R' 'A'
	NetworkBeta Network = 0x5242 // 'R' 'B'
	NetworkLive Network = 0x5243 // 'R' 'C'
	NetworkTest Network = 0x5258 // 'R' 'X'
)

func (n Network) String() string {
	switch n {
	case NetworkDev:
		return "dev"
	case NetworkBeta:
		return "beta"
	case NetworkLive:
		return "live"
	case NetworkTest:
		return "test"
	}
	return "unknown"
}

const (
	// ProtocolVersion is advertised as both max and using.
	ProtocolVersion    = 0x13
	ProtocolVersionMin = 0x12
	// BootstrapProtocolVersionMin gates peers eligible for ascending
	// bootstrap scoring.
	BootstrapProtocolVersionMin = 0x13
)

type Type byte

const (
	TypeInvalid         Type = 0x00
	TypeNotAType        Type = 0x01
	TypeKeepalive       Type = 0x02
	TypePublish         Type = 0x03
	TypeConfirmReq      Type = 0x04
	TypeConfirmAck      Type = 0x05
	TypeBulkPull        Type = 0x06
	TypeBulkPush        Type = 0x07
	TypeFrontierReq     Type = 0x08
	TypeNodeIDHandshake Type = 0x0a
	TypeBulkPullAccount Type = 0x0b
	TypeTelemetryReq    Type = 0x0c
	TypeTelemetryAck    Type = 0x0d
	TypeAscPullReq      Type = 0x0e
	TypeAscPullAck      Type = 0x0f
)

func (t Type) String() string {
	switch t {
	case TypeInvalid:
		return "invalid"
	case TypeNotAType:
		return "not_a_type"
	case TypeKeepalive:
		return "keepalive"
	case TypePublish:
		return "publish"
	case TypeConfirmReq:
		return "confirm_req"
	case TypeConfirmAck:
		return "confirm_ack"
	case TypeBulkPull:
		return "bulk_pull"
	case TypeBulkPush:
		return "bulk_push"
	case TypeFrontierReq:
		return "frontier_req"
	case TypeNodeIDHandshake:
		return "node_id_handshake"
	case TypeBulkPullAccount:
		return "bulk_pull_account"
	case TypeTelemetryReq:
		return "telemetry_req"
	case TypeTelemetryAck:
		return "telemetry_ack"
	case TypeAscPullReq:
		return "asc_pull_req"
	case TypeAscPullAck:
		return "asc_pull_ack"
	}
	return "n/a"
}

func (t Type) Valid() bool {
	switch t {
	case TypeKeepalive, TypePublish, TypeConfirmReq, TypeConfirmAck,
		TypeBulkPull, TypeBulkPush, TypeFrontierReq, TypeNodeIDHandshake,
		TypeBulkPullAccount, TypeTelemetryReq, TypeTelemetryAck,
		TypeAscPullReq, TypeAscPullAck:
		return true
	}
	return false
}

// Extensions bitfield layout. Bits 8-11 carry a block type and bits 12-15 a
// count for the message types that use them; bits below 8 are per-type flags;
// telemetry_ack and asc_pull_req/ack store a payload size in the low bits.
const (
	blockTypeMask     uint16 = 0x0f00
	countMask         uint16 = 0xf000
	telemetrySizeMask uint16 = 0x03ff

	BulkPullCountPresentFlag = 0
	BulkPullAscendingFlag    = 1
	FrontierReqOnlyConfirmed = 1
	HandshakeQueryFlag       = 0
	HandshakeResponseFlag    = 1
	HandshakeV2Flag          = 2
)

const (
	// HeaderSize is the fixed wire prelude read before any payload.
	HeaderSize = 8
)

var (
	ErrInvalidHeader   = errors.New("invalid header")
	ErrInvalidNetwork  = errors.New("invalid network")
	ErrInvalidType     = errors.New("invalid message type")
	ErrOutdatedVersion = errors.New("outdated version")
	ErrSizeTooLarge    = errors.New("message size too large")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Header is the 8-byte wire prelude: network (big-endian), the version
// triple, message type and the extensions bitfield (little-endian).
type Header struct {
	Network      Network
	VersionMax   byte
	VersionUsing byte
	VersionMin   byte
	Type         Type
	Extensions   uint16
}

func NewHeader(network Network, t Type) Header {
	return Header{
		Network:      network,
		VersionMax:   ProtocolVersion,
		VersionUsing: ProtocolVersion,
		VersionMin:   ProtocolVersionMin,
		Type:         t,
	}
}

func (h *Header) Serialize(w io.Writer) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.Network))
	buf[2] = h.VersionMax
	buf[3] = h.VersionUsing
	buf[4] = h.VersionMin
	buf[5] = byte(h.Type)
	binary.LittleEndian.PutUint16(buf[6:8], h.Extensions)
	_, err := w.Write(buf[:])
	return err
}

// DeserializeHeader parses the 8-byte prelude. Network and version are not
// validated here; Validate applies the per-peer policy.
func DeserializeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrInvalidHeader
	}
	h := Header{
		Network:      Network(binary.BigEndian.Uint16(buf[0:2])),
		VersionMax:   buf[2],
		VersionUsing: buf[3],
		VersionMin:   buf[4],
		Type:         Type(buf[5]),
		Extensions:   binary.LittleEndian.Uint16(buf[6:8]),
	}
	return h, nil
}

// Validate rejects headers from foreign networks, outdated peers and unknown
// types.
func (h *Header) Validate(network Network) error {
	if h.Network != network {
		return ErrInvalidNetwork
	}
	if h.VersionUsing < ProtocolVersionMin {
		return ErrOutdatedVersion
	}
	if !h.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

func (h *Header) BlockType() ledger.BlockType {
	return ledger.BlockType((h.Extensions & blockTypeMask) >> 8)
}

func (h *Header) SetBlockType(t ledger.BlockType) {
	h.Extensions &^= blockTypeMask
	h.Extensions |= uint16(t) << 8
}

func (h *Header) Count() int {
	return int((h.Extensions & countMask) >> 12)
}

func (h *Header) SetCount(count int) {
	h.Extensions &^= countMask
	h.Extensions |= uint16(count&0x0f) << 12
}

func (h *Header) Flag(bit uint) bool {
	return h.Extensions&(1<<bit) != 0
}

func (h *Header) SetFlag(bit uint, value bool) {
	if value {
		h.Extensions |= 1 << bit
	} else {
		h.Extensions &^= 1 << bit
	}
}

// PayloadLength derives the number of payload bytes following the header,
// from the type and extensions alone.
func (h *Header) PayloadLength() (int, error) {
	switch h.Type {
	case TypeKeepalive:
		return keepaliveSize, nil
	case TypePublish:
		size := ledger.Size(h.BlockType())
		if size == 0 {
			return 0, ErrInvalidHeader
		}
		return size, nil // body only, the type travels in the header bits
	case TypeConfirmReq:
		return confirmReqSize(h.BlockType(), h.Count())
	case TypeConfirmAck:
		return confirmAckSize(h.Count()), nil
	case TypeBulkPull:
		size := bulkPullSize
		if h.Flag(BulkPullCountPresentFlag) {
			size += bulkPullExtendedSize
		}
		return size, nil
	case TypeBulkPush, TypeTelemetryReq:
		return 0, nil
	case TypeFrontierReq:
		return frontierReqSize, nil
	case TypeBulkPullAccount:
		return bulkPullAccountSize, nil
	case TypeNodeIDHandshake:
		return handshakeSize(h), nil
	case TypeTelemetryAck:
		return int(h.Extensions & telemetrySizeMask), nil
	case TypeAscPullReq, TypeAscPullAck:
		return ascPullPartialSize + int(h.Extensions), nil
	}
	return 0, ErrInvalidType
}
