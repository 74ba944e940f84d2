package election

import (
	"math/big"
	"sync"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
)

// Behavior classifies why an election was started; hinted elections draw
// from a reserved slice of the container.
type Behavior byte

const (
	BehaviorNormal Behavior = iota
	BehaviorHinted
	BehaviorManual
)

func (b Behavior) String() string {
	switch b {
	case BehaviorNormal:
		return "normal"
	case BehaviorHinted:
		return "hinted"
	case BehaviorManual:
		return "manual"
	}
	return "n/a"
}

type InsertResult struct {
	Inserted bool
}

// ActiveElections is the container the schedulers feed. Consensus itself
// (tallying, winners) lives outside this repository; the pipeline only needs
// vacancy, insertion and erasure.
type ActiveElections interface {
	// Vacancy reports the remaining room for elections of the behavior.
	Vacancy(behavior Behavior) int
	Insert(blk ledger.Block, behavior Behavior) InsertResult
	// Erase drops the election occupying the qualified root, if any.
	Erase(root types.QualifiedRoot) bool
	// Active reports whether the hash has an election in flight.
	Active(hash types.Hash) bool
}

// OnlineReps reports the online voting weight; Delta is the quorum needed for
// confirmation.
type OnlineReps interface {
	Delta() *big.Int
	Trended() *big.Int
}

// RepWeightQuery resolves a representative's voting weight.
type RepWeightQuery func(types.Account) *big.Int

/*
 * in-memory implementations used by tests and the daemon
 */

var _ ActiveElections = (*Set)(nil)

// Set is a bounded in-memory ActiveElections.
type Set struct {
	mu        sync.Mutex
	limit     int
	hintedCap int

	byRoot map[types.QualifiedRoot]types.Hash
	byHash map[types.Hash]Behavior
	hinted int
}

func NewSet(limit int, hintedCap int) *Set {
	return &Set{
		limit:     limit,
		hintedCap: hintedCap,
		byRoot:    make(map[types.QualifiedRoot]types.Hash),
		byHash:    make(map[types.Hash]Behavior),
	}
}

func (s *Set) Vacancy(behavior Behavior) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if behavior == BehaviorHinted {
		return s.hintedCap - s.hinted
	}
	return s.limit - len(s.byRoot)
}

func (s *Set) Insert(blk ledger.Block, behavior Behavior) InsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := blk.QualifiedRoot()
	if _, exists := s.byRoot[root]; exists {
		return InsertResult{}
	}
	if len(s.byRoot) >= s.limit {
		return InsertResult{}
	}
	if behavior == BehaviorHinted {
		if s.hinted >= s.hintedCap {
			return InsertResult{}
		}
		s.hinted++
	}
	s.byRoot[root] = blk.Hash()
	s.byHash[blk.Hash()] = behavior
	return InsertResult{Inserted: true}
}

func (s *Set) Erase(root types.QualifiedRoot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.byRoot[root]
	if !ok {
		return false
	}
	if s.byHash[hash] == BehaviorHinted {
		s.hinted--
	}
	delete(s.byRoot, root)
	delete(s.byHash, hash)
	return true
}

func (s *Set) Active(hash types.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byHash[hash]
	return ok
}

// FixedOnlineReps serves a constant quorum; good enough for the dev network
// and tests.
type FixedOnlineReps struct {
	DeltaWeight   *big.Int
	TrendedWeight *big.Int
}

func (r *FixedOnlineReps) Delta() *big.Int {
	if r.DeltaWeight == nil {
		return new(big.Int)
	}
	return r.DeltaWeight
}

func (r *FixedOnlineReps) Trended() *big.Int {
	if r.TrendedWeight == nil {
		return new(big.Int)
	}
	return r.TrendedWeight
}
