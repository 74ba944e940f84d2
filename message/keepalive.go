package message

import (
	"encoding/binary"
	"io"

	"github.com/nanoledger/go-nano/common/types"
)

// Keepalive advertises up to eight peer endpoints; unused slots stay zero.
type Keepalive struct {
	header Header
	Peers  [8]types.Endpoint
}

func NewKeepalive(network Network) *Keepalive {
	return &Keepalive{header: NewHeader(network, TypeKeepalive)}
}

func (m *Keepalive) Header() *Header { return &m.header }

func (m *Keepalive) Serialize(w io.Writer) error {
	if err := m.header.Serialize(w); err != nil {
		return err
	}
	var buf [keepaliveSize]byte
	for i, peer := range m.Peers {
		off := i * types.EndpointSize
		copy(buf[off:off+16], peer.Addr[:])
		binary.LittleEndian.PutUint16(buf[off+16:off+18], peer.Port)
	}
	_, err := w.Write(buf[:])
	return err
}

func deserializeKeepalive(h Header, r io.Reader) (*Keepalive, error) {
	var buf [keepaliveSize]byte
	if err := readFull(r, buf[:]); err != nil {
		return nil, ErrInvalidMessage
	}
	m := &Keepalive{header: h}
	for i := range m.Peers {
		off := i * types.EndpointSize
		copy(m.Peers[i].Addr[:], buf[off:off+16])
		m.Peers[i].Port = binary.LittleEndian.Uint16(buf[off+16 : off+18])
	}
	return m, nil
}
