package ledger

import (
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
)

const (
	// WorkThresholdLive is the production difficulty floor.
	WorkThresholdLive = uint64(0xfffffff800000000)
	// WorkThresholdDev keeps dev-network tests cheap.
	WorkThresholdDev = uint64(0x0000000000000000)
)

// WorkValue digests (work, root); a block's work is valid when the value
// clears the network threshold.
func WorkValue(root types.Root, work types.Work) uint64 {
	digest := crypto.Hash(8, uint64LE(uint64(work)), root.Bytes())
	return leUint64(digest)
}

func WorkValid(root types.Root, work types.Work, threshold uint64) bool {
	return WorkValue(root, work) >= threshold
}

// ValidateWork checks the block's attached work against its root.
func ValidateWork(blk Block, threshold uint64) bool {
	return WorkValid(blk.Root(), blk.Work(), threshold)
}
