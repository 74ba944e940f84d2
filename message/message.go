package message

import (
	"bytes"
	"io"

	"github.com/nanoledger/go-nano/ledger"
)

// Message is one frame of the node protocol: an 8-byte header followed by a
// payload whose length is derived from the header alone.
type Message interface {
	Header() *Header
	// Serialize writes the full frame including the header.
	Serialize(w io.Writer) error
}

// ToBytes serializes a message into a fresh buffer.
func ToBytes(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize parses the payload matching an already-read header. A corrupt
// payload yields an error, never a half-built message.
func Deserialize(h Header, payload []byte) (Message, error) {
	r := bytes.NewReader(payload)
	switch h.Type {
	case TypeKeepalive:
		return deserializeKeepalive(h, r)
	case TypePublish:
		return deserializePublish(h, r)
	case TypeConfirmReq:
		return deserializeConfirmReq(h, r)
	case TypeConfirmAck:
		return deserializeConfirmAck(h, r)
	case TypeBulkPull:
		return deserializeBulkPull(h, r)
	case TypeBulkPush:
		return &BulkPush{header: h}, nil
	case TypeFrontierReq:
		return deserializeFrontierReq(h, r)
	case TypeBulkPullAccount:
		return deserializeBulkPullAccount(h, r)
	case TypeTelemetryReq:
		return &TelemetryReq{header: h}, nil
	case TypeTelemetryAck:
		return deserializeTelemetryAck(h, r)
	case TypeNodeIDHandshake:
		return deserializeNodeIDHandshake(h, r)
	case TypeAscPullReq:
		return deserializeAscPullReq(h, r)
	case TypeAscPullAck:
		return deserializeAscPullAck(h, r)
	}
	return nil, ErrInvalidType
}

func confirmReqSize(t ledger.BlockType, count int) (int, error) {
	if t == ledger.BlockTypeNotABlock {
		if count == 0 {
			return 0, ErrInvalidHeader
		}
		return count * (32 + 32), nil
	}
	size := ledger.Size(t)
	if size == 0 {
		return 0, ErrInvalidHeader
	}
	return size, nil
}

func confirmAckSize(count int) int {
	return 32 + 64 + 8 + count*32
}

const (
	keepaliveSize        = 8 * 18
	bulkPullSize         = 64
	bulkPullExtendedSize = 8
	frontierReqSize      = 32 + 4 + 4
	bulkPullAccountSize  = 32 + 16 + 1
	ascPullPartialSize   = 1 + 8
)

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}
