package net

import (
	"io"

	"github.com/nanoledger/go-nano/message"
)

// maxPayloadSize bounds a single frame; anything larger closes the channel.
const maxPayloadSize = 256 * 1024

// MessageReader frames the inbound byte stream: 8 header bytes, then the
// payload length derived from the header, then one parsed message. A corrupt
// stream yields a wire error and never a half-parsed message.
type MessageReader struct {
	r       io.Reader
	network message.Network
}

func NewMessageReader(r io.Reader, network message.Network) *MessageReader {
	return &MessageReader{r: r, network: network}
}

// Next reads one message. Validation failures (foreign network, outdated
// peer, unknown type, oversized frame) surface as the wire error taxonomy and
// the caller closes the channel.
func (mr *MessageReader) Next() (message.Message, error) {
	var header [message.HeaderSize]byte
	if _, err := io.ReadFull(mr.r, header[:]); err != nil {
		return nil, err
	}
	h, err := message.DeserializeHeader(header[:])
	if err != nil {
		return nil, err
	}
	if err := h.Validate(mr.network); err != nil {
		return nil, err
	}
	length, err := h.PayloadLength()
	if err != nil {
		return nil, err
	}
	if length > maxPayloadSize {
		return nil, message.ErrSizeTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(mr.r, payload); err != nil {
		return nil, err
	}
	return message.Deserialize(h, payload)
}
