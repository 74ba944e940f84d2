package election

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/nanoledger/go-nano/common/types"
)

// VoteHistory remembers which hash this node last voted for per root, so a
// rollback can retract the memory before a replacement block is applied.
type VoteHistory interface {
	Add(root types.Root, hash types.Hash)
	Get(root types.Root) (types.Hash, bool)
	Erase(root types.Root)
}

// LocalVoteHistory is a bounded LRU of (root -> voted hash).
type LocalVoteHistory struct {
	cache *lru.Cache
}

func NewLocalVoteHistory(size int) *LocalVoteHistory {
	cache, _ := lru.New(size)
	return &LocalVoteHistory{cache: cache}
}

func (h *LocalVoteHistory) Add(root types.Root, hash types.Hash) {
	h.cache.Add(root, hash)
}

func (h *LocalVoteHistory) Get(root types.Root) (types.Hash, bool) {
	if v, ok := h.cache.Get(root); ok {
		return v.(types.Hash), true
	}
	return types.ZERO_HASH, false
}

func (h *LocalVoteHistory) Erase(root types.Root) {
	h.cache.Remove(root)
}
