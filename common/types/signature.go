package types

import (
	"encoding/hex"
	"fmt"
)

const (
	SignatureSize = 64
	WorkSize      = 8
)

type Signature [SignatureSize]byte

var ZERO_SIGNATURE = Signature{}

func BytesToSignature(b []byte) (Signature, error) {
	var s Signature
	err := s.SetBytes(b)
	return s, err
}

func (s *Signature) SetBytes(b []byte) error {
	if len(b) != SignatureSize {
		return fmt.Errorf("error signature size %v", len(b))
	}
	copy(s[:], b)
	return nil
}

func (s Signature) Hex() string {
	return hex.EncodeToString(s[:])
}

func (s Signature) Bytes() []byte {
	return s[:]
}

func (s Signature) IsZero() bool {
	return s == ZERO_SIGNATURE
}

func (s Signature) String() string {
	return s.Hex()
}

// Work is the proof-of-work nonce attached to every block.
type Work uint64
