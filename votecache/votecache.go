package votecache

import (
	"container/heap"
	"math/big"
	"sort"
	"sync"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
)

// Config bounds the cache. MaxVoters caps the voter list per hash; MaxSize
// caps both the cache and the queue, evicting the oldest insertion.
type Config struct {
	MaxSize   int
	MaxVoters int
}

func DefaultConfig() Config {
	return Config{MaxSize: 1024 * 64, MaxVoters: 40}
}

// Voter is one representative's latest vote on a hash.
type Voter struct {
	Representative types.Account
	Timestamp      uint64
	Weight         *big.Int
}

// Entry aggregates the known votes for one block hash. Tally sums all voter
// weights; FinalTally sums only voters whose timestamp carries the final bit.
type Entry struct {
	Hash       types.Hash
	Voters     []Voter
	Tally      *big.Int
	FinalTally *big.Int
}

// vote records or refreshes a voter. A newer timestamp supersedes the old
// record; weight is never double counted.
func (e *Entry) vote(representative types.Account, timestamp uint64, weight *big.Int, maxVoters int) bool {
	for i := range e.Voters {
		if e.Voters[i].Representative == representative {
			if timestamp > e.Voters[i].Timestamp {
				e.Voters[i].Timestamp = timestamp
				e.recalculate()
				return true
			}
			return false
		}
	}
	if len(e.Voters) >= maxVoters {
		return false
	}
	e.Voters = append(e.Voters, Voter{Representative: representative, Timestamp: timestamp, Weight: weight})
	e.recalculate()
	return true
}

func (e *Entry) recalculate() {
	tally := new(big.Int)
	finalTally := new(big.Int)
	for i := range e.Voters {
		tally.Add(tally, e.Voters[i].Weight)
		if ledger.TimestampIsFinal(e.Voters[i].Timestamp) {
			finalTally.Add(finalTally, e.Voters[i].Weight)
		}
	}
	e.Tally = tally
	e.FinalTally = finalTally
}

func (e *Entry) clone() Entry {
	out := *e
	out.Voters = append([]Voter(nil), e.Voters...)
	return out
}

// queueEntry is one schedulable row. The tallies are copies taken from the
// cache entry at insert/update time; the two heap indexes keep the row
// addressable in both orderings.
type queueEntry struct {
	hash       types.Hash
	tally      *big.Int
	finalTally *big.Int
	seq        uint64

	tallyIndex int
	finalIndex int
}

// VoteCache accumulates votes on blocks with no active election yet. The
// cache keeps votes; the queue feeds the hinted scheduler and shrinks as rows
// are popped. A single mutex guards the primary maps and every auxiliary
// ordering so they cannot diverge.
type VoteCache struct {
	mu sync.Mutex

	maxSize   int
	maxVoters int

	// RepWeightQuery resolves a representative's voting weight; injected by
	// the node.
	RepWeightQuery func(types.Account) *big.Int

	cache    map[types.Hash]*Entry
	cacheSeq []cacheRef // insertion order, stale refs skipped on eviction

	queue      map[types.Hash]*queueEntry
	queueSeq   []queueRef
	tallyHeap  tallyOrder
	finalHeap  finalOrder
	seqCounter uint64
}

// cacheRef/queueRef pin the identity of the inserted record so that a
// re-inserted hash is not evicted through a stale position.
type cacheRef struct {
	hash  types.Hash
	entry *Entry
}

type queueRef struct {
	hash types.Hash
	row  *queueEntry
}

func New(cfg Config) *VoteCache {
	return &VoteCache{
		maxSize:        cfg.MaxSize,
		maxVoters:      cfg.MaxVoters,
		RepWeightQuery: func(types.Account) *big.Int { return new(big.Int) },
		cache:          make(map[types.Hash]*Entry),
		queue:          make(map[types.Hash]*queueEntry),
	}
}

// Vote records vote's statement about hash, resolving the representative
// weight through RepWeightQuery.
func (c *VoteCache) Vote(hash types.Hash, vote *ledger.Vote) {
	weight := c.RepWeightQuery(vote.Account)
	c.voteImpl(hash, vote.Account, vote.Timestamp, weight)
}

func (c *VoteCache) voteImpl(hash types.Hash, representative types.Account, timestamp uint64, weight *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.cache[hash]; ok {
		if existing.vote(representative, timestamp, weight, c.maxVoters) {
			if row, ok := c.queue[hash]; ok {
				c.modifyRow(row, existing.Tally, existing.FinalTally)
			}
		}
		return
	}

	entry := &Entry{Hash: hash}
	entry.vote(representative, timestamp, weight, c.maxVoters)
	c.cache[hash] = entry
	c.cacheSeq = append(c.cacheSeq, cacheRef{hash: hash, entry: entry})

	// A stale queue row for the same hash is replaced with fresh tallies.
	if row, ok := c.queue[hash]; ok {
		c.removeRow(row)
	}
	c.insertRow(hash, entry.Tally, entry.FinalTally)

	c.trimOverflow()
}

func (c *VoteCache) insertRow(hash types.Hash, tally, finalTally *big.Int) {
	c.seqCounter++
	row := &queueEntry{hash: hash, tally: tally, finalTally: finalTally, seq: c.seqCounter}
	c.queue[hash] = row
	heap.Push(&c.tallyHeap, row)
	heap.Push(&c.finalHeap, row)
	c.queueSeq = append(c.queueSeq, queueRef{hash: hash, row: row})
}

func (c *VoteCache) removeRow(row *queueEntry) {
	heap.Remove(&c.tallyHeap, row.tallyIndex)
	heap.Remove(&c.finalHeap, row.finalIndex)
	delete(c.queue, row.hash)
}

// modifyRow is the single path through which row tallies change, so the two
// heap orderings can never diverge from the row contents.
func (c *VoteCache) modifyRow(row *queueEntry, tally, finalTally *big.Int) {
	row.tally = tally
	row.finalTally = finalTally
	heap.Fix(&c.tallyHeap, row.tallyIndex)
	heap.Fix(&c.finalHeap, row.finalIndex)
}

func (c *VoteCache) trimOverflow() {
	for len(c.cache) > c.maxSize {
		evicted := false
		for len(c.cacheSeq) > 0 && !evicted {
			oldest := c.cacheSeq[0]
			c.cacheSeq = c.cacheSeq[1:]
			if current, ok := c.cache[oldest.hash]; ok && current == oldest.entry {
				delete(c.cache, oldest.hash)
				evicted = true
			}
		}
		if !evicted {
			return
		}
	}
	for len(c.queue) > c.maxSize {
		evicted := false
		for len(c.queueSeq) > 0 && !evicted {
			oldest := c.queueSeq[0]
			c.queueSeq = c.queueSeq[1:]
			if current, ok := c.queue[oldest.hash]; ok && current == oldest.row {
				c.removeRow(current)
				evicted = true
			}
		}
		if !evicted {
			return
		}
	}
}

func (c *VoteCache) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *VoteCache) QueueSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *VoteCache) CacheEmpty() bool { return c.CacheSize() == 0 }
func (c *VoteCache) QueueEmpty() bool { return c.QueueSize() == 0 }

// Find returns a copy of the cache entry for hash.
func (c *VoteCache) Find(hash types.Hash) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findLocked(hash)
}

func (c *VoteCache) findLocked(hash types.Hash) (Entry, bool) {
	if entry, ok := c.cache[hash]; ok {
		return entry.clone(), true
	}
	return Entry{}, false
}

// Erase drops hash from both the cache and the queue.
func (c *VoteCache) Erase(hash types.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.cache[hash]
	if ok {
		delete(c.cache, hash)
	}
	if row, exists := c.queue[hash]; exists {
		c.removeRow(row)
	}
	return ok
}

// Pop removes and returns the highest-tally queue row when the matching cache
// entry's tally clears minTally. The votes stay in the cache.
func (c *VoteCache) Pop(minTally *big.Int) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.tallyHeap) == 0 {
		return Entry{}, false
	}
	top := c.tallyHeap[0]
	entry, ok := c.findLocked(top.hash)
	if !ok || entry.Tally.Cmp(minTally) < 0 {
		return Entry{}, false
	}
	c.removeRow(top)
	return entry, true
}

// Peek is Pop without removal.
func (c *VoteCache) Peek(minTally *big.Int) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.tallyHeap) == 0 {
		return Entry{}, false
	}
	entry, ok := c.findLocked(c.tallyHeap[0].hash)
	if !ok || entry.Tally.Cmp(minTally) < 0 {
		return Entry{}, false
	}
	return entry, true
}

// PeekFinal inspects the row with the highest final tally.
func (c *VoteCache) PeekFinal(minFinalTally *big.Int) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.finalHeap) == 0 {
		return Entry{}, false
	}
	entry, ok := c.findLocked(c.finalHeap[0].hash)
	if !ok || entry.FinalTally.Cmp(minFinalTally) < 0 {
		return Entry{}, false
	}
	return entry, true
}

// Trigger re-inserts a previously popped hash into the queue so the hinted
// scheduler can reconsider it. No-op when the hash is queued already or holds
// no cached votes.
func (c *VoteCache) Trigger(hash types.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, queued := c.queue[hash]; queued {
		return
	}
	entry, ok := c.cache[hash]
	if !ok {
		return
	}
	c.insertRow(hash, entry.Tally, entry.FinalTally)
	c.trimOverflow()
}

// Iterate snapshots the cache ordered by final tally then tally, both
// descending, and calls fn for each entry outside the lock.
func (c *VoteCache) Iterate(minTally, minFinalTally *big.Int, fn func(Entry)) {
	c.mu.Lock()
	snapshot := make([]Entry, 0, len(c.cache))
	for _, entry := range c.cache {
		snapshot = append(snapshot, entry.clone())
	}
	c.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool {
		if cmp := snapshot[i].FinalTally.Cmp(snapshot[j].FinalTally); cmp != 0 {
			return cmp > 0
		}
		return snapshot[i].Tally.Cmp(snapshot[j].Tally) > 0
	})
	for i := range snapshot {
		fn(snapshot[i])
	}
}

/*
 * heap orderings: max-heaps over the queue rows
 */

type tallyOrder []*queueEntry

func (h tallyOrder) Len() int            { return len(h) }
func (h tallyOrder) Less(i, j int) bool  { return h[i].tally.Cmp(h[j].tally) > 0 }
func (h tallyOrder) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].tallyIndex = i; h[j].tallyIndex = j }
func (h *tallyOrder) Push(x interface{}) {
	row := x.(*queueEntry)
	row.tallyIndex = len(*h)
	*h = append(*h, row)
}
func (h *tallyOrder) Pop() interface{} {
	old := *h
	n := len(old)
	row := old[n-1]
	*h = old[:n-1]
	return row
}

type finalOrder []*queueEntry

func (h finalOrder) Len() int           { return len(h) }
func (h finalOrder) Less(i, j int) bool { return h[i].finalTally.Cmp(h[j].finalTally) > 0 }
func (h finalOrder) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].finalIndex = i; h[j].finalIndex = j }
func (h *finalOrder) Push(x interface{}) {
	row := x.(*queueEntry)
	row.finalIndex = len(*h)
	*h = append(*h, row)
}
func (h *finalOrder) Pop() interface{} {
	old := *h
	n := len(old)
	row := old[n-1]
	*h = old[:n-1]
	return row
}
