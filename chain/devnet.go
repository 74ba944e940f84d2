package chain

import (
	"math/big"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
	"github.com/nanoledger/go-nano/ledger"
)

// devGenesisSeed is the well-known dev network genesis key; every dev node
// derives the same genesis block from it.
var devGenesisSeed = [32]byte{0xde, 0xad, 0xbe, 0xef}

// DevGenesisKey returns the dev network genesis key pair.
func DevGenesisKey() crypto.KeyPair {
	return crypto.KeyPairFromSeed(devGenesisSeed)
}

// DevGenesisBalance is the full supply, held by the genesis account.
var DevGenesisBalance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// DevGenesisBlock builds the dev genesis: a self-referential open.
func DevGenesisBlock() ledger.Block {
	kp := DevGenesisKey()
	blk := ledger.NewOpenBlock(types.Hash(kp.Pub), kp.Pub, kp.Pub)
	blk.SetSignature(ledger.Sign(blk, kp))
	return blk
}
