package scheduler

import (
	"math/big"
	"sync"

	"github.com/inconshreveable/log15"

	"github.com/nanoledger/go-nano/chain"
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/election"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/stats"
	"github.com/nanoledger/go-nano/store"
)

type manualEntry struct {
	block           ledger.Block
	previousBalance *big.Int
	behavior        election.Behavior
}

// Buckets activates elections for the next unconfirmed block of an account,
// ordered by balance bucket and account age. The thread drains the queue into
// the active-elections container whenever it has vacancy; a manual queue takes
// the same path ahead of the priority queue.
type Buckets struct {
	ledger *chain.Ledger
	active election.ActiveElections
	stats  *stats.Stats
	log    log15.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	stopped     bool
	priority    *Prioritization
	manualQueue []manualEntry

	wg sync.WaitGroup
}

func NewBuckets(l *chain.Ledger, active election.ActiveElections, st *stats.Stats) *Buckets {
	b := &Buckets{
		ledger:   l,
		active:   active,
		stats:    st,
		log:      log15.New("module", "election_scheduler"),
		priority: NewPrioritization(),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Buckets) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run()
	}()
}

func (b *Buckets) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.cond.Broadcast()
	b.wg.Wait()
}

// Manual queues a block for election ahead of priority activation.
func (b *Buckets) Manual(block ledger.Block, previousBalance *big.Int, behavior election.Behavior) {
	b.mu.Lock()
	b.manualQueue = append(b.manualQueue, manualEntry{block: block, previousBalance: previousBalance, behavior: behavior})
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Activate considers an account's next unconfirmed block. It only schedules
// when that block's dependents are all confirmed; the balance priority is the
// larger of the block's balance and the confirmed frontier's.
func (b *Buckets) Activate(tx store.Transaction, account types.Account) bool {
	info, ok := b.ledger.AccountInfo(tx, account)
	if !ok {
		return false
	}
	confInfo, _ := b.ledger.Store().ConfirmationHeight().Get(tx, account)
	if confInfo.Height >= info.BlockCount {
		return false
	}

	var hash types.Hash
	if confInfo.Height == 0 {
		hash = info.Open
	} else {
		hash = b.ledger.Store().Block().Successor(tx, confInfo.Frontier)
	}
	block := b.ledger.Store().Block().Get(tx, hash)
	if block == nil {
		return false
	}
	if !b.ledger.DependentsConfirmed(tx, block) {
		return false
	}

	balance := b.ledger.Balance(tx, hash)
	previousBalance := b.ledger.Balance(tx, confInfo.Frontier)
	balancePriority := balance
	if previousBalance != nil && previousBalance.Cmp(balancePriority) > 0 {
		balancePriority = previousBalance
	}

	b.stats.Inc(stats.TypeScheduler, stats.DetailActivated)
	b.log.Debug("block activated", "account", account, "hash", hash, "time", info.Modified, "priority", balancePriority)

	b.mu.Lock()
	b.priority.Push(info.Modified, block, balancePriority)
	b.mu.Unlock()
	b.cond.Broadcast()

	return true
}

// Flush waits until the queue has drained or the container has no vacancy.
func (b *Buckets) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.stopped && !b.emptyLocked() && b.active.Vacancy(election.BehaviorNormal) > 0 {
		b.cond.Wait()
	}
}

func (b *Buckets) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.priority.Size() + len(b.manualQueue)
}

func (b *Buckets) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emptyLocked()
}

func (b *Buckets) emptyLocked() bool {
	return b.priority.Empty() && len(b.manualQueue) == 0
}

func (b *Buckets) priorityPredicateLocked() bool {
	return b.active.Vacancy(election.BehaviorNormal) > 0 && !b.priority.Empty()
}

func (b *Buckets) run() {
	b.mu.Lock()
	for !b.stopped {
		for !b.stopped && !b.priorityPredicateLocked() && len(b.manualQueue) == 0 {
			b.cond.Wait()
		}
		if b.stopped {
			break
		}
		b.stats.Inc(stats.TypeScheduler, stats.DetailLoop)

		if len(b.manualQueue) > 0 {
			e := b.manualQueue[0]
			b.manualQueue = b.manualQueue[1:]
			b.mu.Unlock()

			b.stats.Inc(stats.TypeScheduler, stats.DetailInsertManual)
			b.active.Insert(e.block, e.behavior)
		} else {
			block := b.priority.Top()
			b.priority.Pop()
			b.mu.Unlock()

			b.stats.Inc(stats.TypeScheduler, stats.DetailInsertPriority)
			b.active.Insert(block, election.BehaviorNormal)
		}

		b.cond.Broadcast()
		b.mu.Lock()
	}
	b.mu.Unlock()
}
