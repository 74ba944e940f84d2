package types

// HashOrAccount is a 32-byte value whose meaning depends on context: some wire
// fields carry either a block hash or an account key and the receiver decides
// which interpretation applies.
type HashOrAccount [HashSize]byte

func (v HashOrAccount) AsHash() Hash {
	return Hash(v)
}

func (v HashOrAccount) AsAccount() Account {
	return Account(v)
}

func (v *HashOrAccount) SetHash(h Hash) {
	*v = HashOrAccount(h)
}

func (v *HashOrAccount) SetAccount(a Account) {
	*v = HashOrAccount(a)
}

func (v HashOrAccount) Bytes() []byte {
	return v[:]
}

func (v HashOrAccount) IsZero() bool {
	return v == HashOrAccount{}
}

func (v HashOrAccount) String() string {
	return Hash(v).Hex()
}

// Root identifies the slot a block occupies: the previous hash for chained
// blocks, the account key for open blocks.
type Root = HashOrAccount

// QualifiedRoot uniquely identifies a slot in an account chain and is the key
// used for fork detection.
type QualifiedRoot struct {
	Root     Root
	Previous Hash
}
