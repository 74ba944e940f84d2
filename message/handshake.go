package message

import (
	"bytes"
	"io"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
)

const (
	handshakeQuerySize      = 32
	handshakeResponseV1Size = 32 + 64
	handshakeResponseV2Size = 32 + 32 + 32 + 64
)

func handshakeSize(h *Header) int {
	size := 0
	if h.Flag(HandshakeQueryFlag) {
		size += handshakeQuerySize
	}
	if h.Flag(HandshakeResponseFlag) {
		if h.Flag(HandshakeV2Flag) {
			size += handshakeResponseV2Size
		} else {
			size += handshakeResponseV1Size
		}
	}
	return size
}

// HandshakeQuery carries the cookie a peer must sign to prove its node id.
type HandshakeQuery struct {
	Cookie [32]byte
}

// HandshakeResponseV2 binds the response to a salt and the responder's
// genesis, closing the replay hole of the v1 handshake.
type HandshakeResponseV2 struct {
	Salt    [32]byte
	Genesis types.Hash
}

type HandshakeResponse struct {
	NodeID    types.Account
	V2        *HandshakeResponseV2
	Signature types.Signature
}

func (r *HandshakeResponse) dataToSign(cookie [32]byte) []byte {
	var buf bytes.Buffer
	buf.Write(cookie[:])
	if r.V2 != nil {
		buf.Write(r.V2.Salt[:])
		buf.Write(r.V2.Genesis.Bytes())
	}
	return buf.Bytes()
}

// Sign signs the cookie (and v2 extras) with the node-id key.
func (r *HandshakeResponse) Sign(cookie [32]byte, kp crypto.KeyPair) {
	r.NodeID = kp.Pub
	r.Signature = kp.Sign(r.dataToSign(cookie))
}

func (r *HandshakeResponse) Validate(cookie [32]byte) bool {
	return crypto.Verify(r.NodeID, r.dataToSign(cookie), r.Signature)
}

// NodeIDHandshake establishes a peer's node identity. A message can carry a
// query, a response, or both. Querying always indicates v2 support; the v2
// flag on a response echoes the peer's capability.
type NodeIDHandshake struct {
	header   Header
	Query    *HandshakeQuery
	Response *HandshakeResponse
}

func NewNodeIDHandshake(network Network, query *HandshakeQuery, response *HandshakeResponse) *NodeIDHandshake {
	m := &NodeIDHandshake{header: NewHeader(network, TypeNodeIDHandshake), Query: query, Response: response}
	if query != nil {
		m.header.SetFlag(HandshakeQueryFlag, true)
		m.header.SetFlag(HandshakeV2Flag, true)
	}
	if response != nil {
		m.header.SetFlag(HandshakeResponseFlag, true)
		m.header.SetFlag(HandshakeV2Flag, response.V2 != nil)
	}
	return m
}

func (m *NodeIDHandshake) Header() *Header { return &m.header }

func (m *NodeIDHandshake) IsV2() bool { return m.header.Flag(HandshakeV2Flag) }

func (m *NodeIDHandshake) Serialize(w io.Writer) error {
	if err := m.header.Serialize(w); err != nil {
		return err
	}
	if m.Query != nil {
		if _, err := w.Write(m.Query.Cookie[:]); err != nil {
			return err
		}
	}
	if m.Response != nil {
		if _, err := w.Write(m.Response.NodeID.Bytes()); err != nil {
			return err
		}
		if m.Response.V2 != nil {
			if _, err := w.Write(m.Response.V2.Salt[:]); err != nil {
				return err
			}
			if _, err := w.Write(m.Response.V2.Genesis.Bytes()); err != nil {
				return err
			}
		}
		if _, err := w.Write(m.Response.Signature.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func deserializeNodeIDHandshake(h Header, r io.Reader) (*NodeIDHandshake, error) {
	m := &NodeIDHandshake{header: h}
	if h.Flag(HandshakeQueryFlag) {
		q := new(HandshakeQuery)
		if err := readFull(r, q.Cookie[:]); err != nil {
			return nil, ErrInvalidMessage
		}
		m.Query = q
	}
	if h.Flag(HandshakeResponseFlag) {
		resp := new(HandshakeResponse)
		var nodeID [32]byte
		if err := readFull(r, nodeID[:]); err != nil {
			return nil, ErrInvalidMessage
		}
		resp.NodeID.SetBytes(nodeID[:])
		if h.Flag(HandshakeV2Flag) {
			v2 := new(HandshakeResponseV2)
			if err := readFull(r, v2.Salt[:]); err != nil {
				return nil, ErrInvalidMessage
			}
			var genesis [32]byte
			if err := readFull(r, genesis[:]); err != nil {
				return nil, ErrInvalidMessage
			}
			v2.Genesis.SetBytes(genesis[:])
			resp.V2 = v2
		}
		var sig [64]byte
		if err := readFull(r, sig[:]); err != nil {
			return nil, ErrInvalidMessage
		}
		resp.Signature.SetBytes(sig[:])
		m.Response = resp
	}
	if m.Query == nil && m.Response == nil {
		return nil, ErrInvalidMessage
	}
	return m, nil
}
