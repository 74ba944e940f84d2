package types

import (
	"fmt"
	"math/big"
)

const (
	AmountSize = 16
)

// Balances and vote tallies are 128-bit unsigned integers.

var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

func AmountToBytes(v *big.Int) [AmountSize]byte {
	var buf [AmountSize]byte
	if v == nil {
		return buf
	}
	b := v.Bytes()
	if len(b) > AmountSize {
		b = b[len(b)-AmountSize:]
	}
	copy(buf[AmountSize-len(b):], b)
	return buf
}

func BytesToAmount(b []byte) (*big.Int, error) {
	if len(b) != AmountSize {
		return nil, fmt.Errorf("error amount size %v", len(b))
	}
	return new(big.Int).SetBytes(b), nil
}

func AmountIsValid(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(maxAmount) <= 0
}
