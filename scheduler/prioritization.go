package scheduler

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/nanoledger/go-nano/ledger"
)

const bucketMaxEntries = 250

// valueType orders bucket entries by ledger-modified time, oldest first, with
// the hash as a tie breaker.
type valueType struct {
	time  uint64
	block ledger.Block
}

type bucket struct {
	entries []valueType
}

func (b *bucket) insert(v valueType) {
	idx := sort.Search(len(b.entries), func(i int) bool {
		if b.entries[i].time != v.time {
			return b.entries[i].time > v.time
		}
		return bytes.Compare(b.entries[i].block.Hash().Bytes(), v.block.Hash().Bytes()) >= 0
	})
	b.entries = append(b.entries, valueType{})
	copy(b.entries[idx+1:], b.entries[idx:])
	b.entries[idx] = v

	if len(b.entries) > bucketMaxEntries {
		b.entries = b.entries[:bucketMaxEntries]
	}
}

// Prioritization is the balance-stratified priority queue feeding the bucket
// scheduler. Entries land in the bucket matching their balance priority and
// buckets take turns supplying the top entry, so small balances cannot starve
// out large ones or the other way around.
type Prioritization struct {
	minimums []*big.Int
	buckets  []*bucket
	current  int
}

func NewPrioritization() *Prioritization {
	p := &Prioritization{}
	one := big.NewInt(1)
	push := func(v *big.Int) { p.minimums = append(p.minimums, v) }

	buildRegion := func(begin, end *big.Int, count int) {
		width := new(big.Int).Sub(end, begin)
		width.Div(width, big.NewInt(int64(count)))
		for i := 0; i < count; i++ {
			value := new(big.Int).Mul(width, big.NewInt(int64(i)))
			value.Add(value, begin)
			push(value)
		}
	}

	shift := func(n uint) *big.Int { return new(big.Int).Lsh(one, n) }

	push(new(big.Int))
	buildRegion(shift(88), shift(92), 2)
	buildRegion(shift(92), shift(96), 4)
	buildRegion(shift(96), shift(100), 8)
	buildRegion(shift(100), shift(104), 16)
	buildRegion(shift(104), shift(108), 16)
	buildRegion(shift(108), shift(112), 8)
	buildRegion(shift(112), shift(116), 4)
	buildRegion(shift(116), shift(120), 2)
	push(shift(120))

	p.buckets = make([]*bucket, len(p.minimums))
	for i := range p.buckets {
		p.buckets[i] = new(bucket)
	}
	return p
}

func (p *Prioritization) index(priority *big.Int) int {
	idx := sort.Search(len(p.minimums), func(i int) bool {
		return p.minimums[i].Cmp(priority) > 0
	})
	return idx - 1
}

// Push files the block under its balance priority with the account's modified
// time as the in-bucket ordering.
func (p *Prioritization) Push(time uint64, blk ledger.Block, priority *big.Int) {
	p.buckets[p.index(priority)].insert(valueType{time: time, block: blk})
}

func (p *Prioritization) seek() {
	for i := 0; i < len(p.buckets); i++ {
		if len(p.buckets[p.current].entries) > 0 {
			return
		}
		p.current = (p.current + 1) % len(p.buckets)
	}
}

// Top returns the oldest entry of the current non-empty bucket.
func (p *Prioritization) Top() ledger.Block {
	p.seek()
	b := p.buckets[p.current]
	if len(b.entries) == 0 {
		return nil
	}
	return b.entries[0].block
}

// Pop removes the top entry and rotates to the next bucket.
func (p *Prioritization) Pop() {
	p.seek()
	b := p.buckets[p.current]
	if len(b.entries) == 0 {
		return
	}
	b.entries = b.entries[1:]
	p.current = (p.current + 1) % len(p.buckets)
	p.seek()
}

func (p *Prioritization) Size() int {
	total := 0
	for _, b := range p.buckets {
		total += len(b.entries)
	}
	return total
}

func (p *Prioritization) Empty() bool {
	for _, b := range p.buckets {
		if len(b.entries) > 0 {
			return false
		}
	}
	return true
}

// BucketOf exposes the bucket index a priority maps to; used by tests.
func (p *Prioritization) BucketOf(priority *big.Int) int {
	return p.index(priority)
}
