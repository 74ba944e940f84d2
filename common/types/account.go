package types

import (
	"encoding/hex"
	"fmt"
)

const (
	AccountSize = 32
)

// Account is the public key identity owning a single chain of blocks.
type Account [AccountSize]byte

var ZERO_ACCOUNT = Account{}

func BytesToAccount(b []byte) (Account, error) {
	var a Account
	err := a.SetBytes(b)
	return a, err
}

func HexToAccount(hexstr string) (Account, error) {
	if len(hexstr) != 2*AccountSize {
		return Account{}, fmt.Errorf("error hex account size %v", len(hexstr))
	}
	b, err := hex.DecodeString(hexstr)
	if err != nil {
		return Account{}, err
	}
	return BytesToAccount(b)
}

func (a *Account) SetBytes(b []byte) error {
	if len(b) != AccountSize {
		return fmt.Errorf("error account size %v", len(b))
	}
	copy(a[:], b)
	return nil
}

func (a Account) Hex() string {
	return hex.EncodeToString(a[:])
}

func (a Account) Bytes() []byte {
	return a[:]
}

func (a Account) IsZero() bool {
	return a == ZERO_ACCOUNT
}

func (a Account) String() string {
	return a.Hex()
}
