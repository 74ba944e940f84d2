package message

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
)

// TelemetryReq has no payload.
type TelemetryReq struct {
	header Header
}

func NewTelemetryReq(network Network) *TelemetryReq {
	return &TelemetryReq{header: NewHeader(network, TypeTelemetryReq)}
}

func (m *TelemetryReq) Header() *Header { return &m.header }

func (m *TelemetryReq) Serialize(w io.Writer) error {
	return m.header.Serialize(w)
}

// telemetryKnownSize is the schema this node understands; peers may append
// fields we do not know yet, preserved verbatim as UnknownData.
const telemetryKnownSize = 64 + 32 + 8 + 8 + 8 + 8 + 8 + 4 + 1 + 8 + 32 + 1 + 1 + 1 + 1 + 1 + 8 + 8

// TelemetryData is a node's self report, signed by its node id. All numeric
// fields travel big-endian.
type TelemetryData struct {
	Signature         types.Signature
	NodeID            types.Account
	BlockCount        uint64
	CementedCount     uint64
	UncheckedCount    uint64
	AccountCount      uint64
	BandwidthCap      uint64
	PeerCount         uint32
	ProtocolVersion   byte
	Uptime            uint64
	GenesisBlock      types.Hash
	MajorVersion      byte
	MinorVersion      byte
	PatchVersion      byte
	PreReleaseVersion byte
	Maker             byte
	Timestamp         uint64
	ActiveDifficulty  uint64
	UnknownData       []byte
}

func (d *TelemetryData) serializeWithoutSignature(w io.Writer) error {
	var num [8]byte
	write := func(b []byte) error {
		_, err := w.Write(b)
		return err
	}
	writeU64 := func(v uint64) error {
		binary.BigEndian.PutUint64(num[:], v)
		return write(num[:])
	}
	if err := write(d.NodeID.Bytes()); err != nil {
		return err
	}
	for _, v := range []uint64{d.BlockCount, d.CementedCount, d.UncheckedCount, d.AccountCount, d.BandwidthCap} {
		if err := writeU64(v); err != nil {
			return err
		}
	}
	binary.BigEndian.PutUint32(num[:4], d.PeerCount)
	if err := write(num[:4]); err != nil {
		return err
	}
	if err := write([]byte{d.ProtocolVersion}); err != nil {
		return err
	}
	if err := writeU64(d.Uptime); err != nil {
		return err
	}
	if err := write(d.GenesisBlock.Bytes()); err != nil {
		return err
	}
	if err := write([]byte{d.MajorVersion, d.MinorVersion, d.PatchVersion, d.PreReleaseVersion, d.Maker}); err != nil {
		return err
	}
	if err := writeU64(d.Timestamp); err != nil {
		return err
	}
	if err := writeU64(d.ActiveDifficulty); err != nil {
		return err
	}
	return write(d.UnknownData)
}

func (d *TelemetryData) Serialize(w io.Writer) error {
	if _, err := w.Write(d.Signature.Bytes()); err != nil {
		return err
	}
	return d.serializeWithoutSignature(w)
}

func (d *TelemetryData) Deserialize(r io.Reader, payloadLength int) error {
	if payloadLength < telemetryKnownSize {
		return ErrInvalidMessage
	}
	buf := make([]byte, payloadLength)
	if err := readFull(r, buf); err != nil {
		return ErrInvalidMessage
	}
	d.Signature.SetBytes(buf[:64])
	d.NodeID.SetBytes(buf[64:96])
	d.BlockCount = binary.BigEndian.Uint64(buf[96:104])
	d.CementedCount = binary.BigEndian.Uint64(buf[104:112])
	d.UncheckedCount = binary.BigEndian.Uint64(buf[112:120])
	d.AccountCount = binary.BigEndian.Uint64(buf[120:128])
	d.BandwidthCap = binary.BigEndian.Uint64(buf[128:136])
	d.PeerCount = binary.BigEndian.Uint32(buf[136:140])
	d.ProtocolVersion = buf[140]
	d.Uptime = binary.BigEndian.Uint64(buf[141:149])
	d.GenesisBlock.SetBytes(buf[149:181])
	d.MajorVersion = buf[181]
	d.MinorVersion = buf[182]
	d.PatchVersion = buf[183]
	d.PreReleaseVersion = buf[184]
	d.Maker = buf[185]
	d.Timestamp = binary.BigEndian.Uint64(buf[186:194])
	d.ActiveDifficulty = binary.BigEndian.Uint64(buf[194:202])
	if payloadLength > telemetryKnownSize {
		d.UnknownData = append([]byte(nil), buf[telemetryKnownSize:]...)
	}
	return nil
}

// Sign signs the unsigned serialization with the node-id key.
func (d *TelemetryData) Sign(kp crypto.KeyPair) {
	d.NodeID = kp.Pub
	var buf bytes.Buffer
	d.serializeWithoutSignature(&buf)
	d.Signature = kp.Sign(buf.Bytes())
}

func (d *TelemetryData) ValidateSignature() bool {
	var buf bytes.Buffer
	d.serializeWithoutSignature(&buf)
	return crypto.Verify(d.NodeID, buf.Bytes(), d.Signature)
}

// TelemetryAck carries TelemetryData; the payload size travels in the header
// extensions so unknown trailing fields survive round trips.
type TelemetryAck struct {
	header Header
	Data   TelemetryData
}

func NewTelemetryAck(network Network, data TelemetryData) *TelemetryAck {
	m := &TelemetryAck{header: NewHeader(network, TypeTelemetryAck), Data: data}
	m.header.Extensions &^= telemetrySizeMask
	m.header.Extensions |= uint16(telemetryKnownSize+len(data.UnknownData)) & telemetrySizeMask
	return m
}

func (m *TelemetryAck) Header() *Header { return &m.header }

func (m *TelemetryAck) IsEmptyPayload() bool {
	return m.header.Extensions&telemetrySizeMask == 0
}

func (m *TelemetryAck) Serialize(w io.Writer) error {
	if err := m.header.Serialize(w); err != nil {
		return err
	}
	if m.IsEmptyPayload() {
		return nil
	}
	return m.Data.Serialize(w)
}

func deserializeTelemetryAck(h Header, r io.Reader) (*TelemetryAck, error) {
	m := &TelemetryAck{header: h}
	size := int(h.Extensions & telemetrySizeMask)
	if size == 0 {
		return m, nil
	}
	if err := m.Data.Deserialize(r, size); err != nil {
		return nil, err
	}
	return m, nil
}
