package ledger

import (
	"io"

	"github.com/pkg/errors"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
)

const (
	// VoteMaxHashes bounds the hashes carried by a single vote; the count
	// travels in four header bits.
	VoteMaxHashes = 15

	// VoteTimestampFinal marks a final vote: the representative commits to the
	// hashes irrevocably.
	VoteTimestampFinal = uint64(1) << 63
)

var votePrefix = []byte("vote ")

var ErrVoteTooManyHashes = errors.New("vote carries too many hashes")

// Vote is a representative's statement about one or more block hashes, as
// carried by confirm_ack.
type Vote struct {
	Account   types.Account
	Signature types.Signature
	Timestamp uint64
	Hashes    []types.Hash
}

func NewVote(account types.Account, timestamp uint64, hashes []types.Hash) *Vote {
	return &Vote{Account: account, Timestamp: timestamp, Hashes: hashes}
}

func TimestampIsFinal(timestamp uint64) bool {
	return timestamp&VoteTimestampFinal != 0
}

func (v *Vote) Final() bool {
	return TimestampIsFinal(v.Timestamp)
}

// Hash digests the vote content covered by the signature.
func (v *Vote) Hash() types.Hash {
	chunks := make([][]byte, 0, len(v.Hashes)+2)
	chunks = append(chunks, votePrefix)
	for i := range v.Hashes {
		chunks = append(chunks, v.Hashes[i].Bytes())
	}
	chunks = append(chunks, uint64LE(v.Timestamp))
	var h types.Hash
	copy(h[:], crypto.Hash256(chunks...))
	return h
}

func (v *Vote) Sign(kp crypto.KeyPair) {
	v.Account = kp.Pub
	v.Signature = kp.Sign(v.Hash().Bytes())
}

// Validate reports whether the signature matches the voting account.
func (v *Vote) Validate() bool {
	return crypto.Verify(v.Account, v.Hash().Bytes(), v.Signature)
}

func (v *Vote) Serialize(w io.Writer) error {
	if len(v.Hashes) > VoteMaxHashes {
		return ErrVoteTooManyHashes
	}
	if err := writeAll(w, v.Account.Bytes(), v.Signature.Bytes(), uint64LE(v.Timestamp)); err != nil {
		return err
	}
	for i := range v.Hashes {
		if _, err := w.Write(v.Hashes[i].Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeVote reads a vote with a known hash count.
func DeserializeVote(r io.Reader, count int) (*Vote, error) {
	if count > VoteMaxHashes {
		return nil, ErrVoteTooManyHashes
	}
	buf := make([]byte, types.AccountSize+types.SignatureSize+8+count*types.HashSize)
	if err := readFull(r, buf); err != nil {
		return nil, err
	}
	v := new(Vote)
	v.Account.SetBytes(buf[:32])
	v.Signature.SetBytes(buf[32:96])
	v.Timestamp = leUint64(buf[96:104])
	v.Hashes = make([]types.Hash, count)
	for i := 0; i < count; i++ {
		v.Hashes[i].SetBytes(buf[104+i*32 : 104+(i+1)*32])
	}
	return v, nil
}
