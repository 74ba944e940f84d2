package crypto

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/binary"
	"io"

	"github.com/nanoledger/go-nano/common/types"
)

// KeyPair is a node or account identity. The public key doubles as the
// account / node id on the wire.
type KeyPair struct {
	Pub types.Account
	prv ed25519.PrivateKey
}

func GenerateKeyPair() (KeyPair, error) {
	pub, prv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	var kp KeyPair
	copy(kp.Pub[:], pub)
	kp.prv = prv
	return kp, nil
}

// KeyPairFromSeed derives a deterministic key pair; used for well-known dev
// network identities.
func KeyPairFromSeed(seed [32]byte) KeyPair {
	prv := ed25519.NewKeyFromSeed(seed[:])
	var kp KeyPair
	copy(kp.Pub[:], prv.Public().(ed25519.PublicKey))
	kp.prv = prv
	return kp
}

func (kp KeyPair) Sign(data []byte) types.Signature {
	var sig types.Signature
	copy(sig[:], ed25519.Sign(kp.prv, data))
	return sig
}

// Verify reports whether sig is a valid signature over data by pub.
func Verify(pub types.Account, data []byte, sig types.Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), data, sig[:])
}

func GetEntropyCSPRNG(n int) []byte {
	buf := make([]byte, n)
	_, err := io.ReadFull(crand.Reader, buf)
	if err != nil {
		panic("reading from crypto/rand failed: " + err.Error())
	}
	return buf
}

func RandomUint64() uint64 {
	return binary.BigEndian.Uint64(GetEntropyCSPRNG(8))
}

func RandomHash() types.Hash {
	var h types.Hash
	copy(h[:], GetEntropyCSPRNG(types.HashSize))
	return h
}
