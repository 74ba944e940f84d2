package processor

import (
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/nanoledger/go-nano/chain"
	"github.com/nanoledger/go-nano/common"
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/election"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/stats"
	"github.com/nanoledger/go-nano/store"
)

// Source tags where a block entered the pipeline; observers treat sources
// differently (bootstrap feedback, local rebroadcast).
type Source byte

const (
	SourceUnknown Source = iota
	SourceLive
	SourceBootstrap
	SourceUnchecked
	SourceLocal
	SourceForced
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceBootstrap:
		return "bootstrap"
	case SourceUnchecked:
		return "unchecked"
	case SourceLocal:
		return "local"
	case SourceForced:
		return "forced"
	}
	return "unknown"
}

// Context travels with a block through the queue.
type Context struct {
	Source  Source
	Arrival time.Time

	promise chan ledger.ProcessResult
}

// Processed is one element of a batch_processed notification.
type Processed struct {
	Result  ledger.ProcessResult
	Block   ledger.Block
	Context Context
}

type entry struct {
	block ledger.Block
	ctx   Context
}

type Config struct {
	FullSize      int
	BatchMaxTime  time.Duration
	BatchSize     int
	AddTimeout    time.Duration
	WorkThreshold uint64
	UncheckedMax  int
}

func DefaultConfig() Config {
	return Config{
		FullSize:      65536,
		BatchMaxTime:  500 * time.Millisecond,
		BatchSize:     256,
		AddTimeout:    5 * time.Second,
		WorkThreshold: ledger.WorkThresholdDev,
		UncheckedMax:  65536,
	}
}

var ErrAddTimeout = errors.New("timed out waiting for block processing")

// BlockProcessor drains validated blocks into the ledger on a single thread.
// Forced blocks jump the queue and may displace a fork occupant by rolling
// the competitor back first.
type BlockProcessor struct {
	cfg    Config
	ledger *chain.Ledger
	writeQ *store.WriteQueue
	stats  *stats.Stats
	log    log15.Logger

	// Unchecked parks gap blocks until their dependency lands.
	Unchecked *Unchecked

	history election.VoteHistory
	active  election.ActiveElections

	mu      sync.Mutex
	cond    *sync.Cond
	blocks  []entry
	forced  []entry
	stopped bool
	running bool

	Flushing atomic.Bool
	wg       sync.WaitGroup

	logInterval *common.Interval

	observerMu     sync.Mutex
	batchObservers []func([]Processed)
	rollObservers  []func(ledger.Block)
}

func New(cfg Config, l *chain.Ledger, writeQ *store.WriteQueue, st *stats.Stats, history election.VoteHistory, active election.ActiveElections) *BlockProcessor {
	bp := &BlockProcessor{
		cfg:       cfg,
		ledger:    l,
		writeQ:    writeQ,
		stats:     st,
		log:       log15.New("module", "blockprocessor"),
		Unchecked:   NewUnchecked(cfg.UncheckedMax),
		history:     history,
		active:      active,
		logInterval: common.NewInterval(15 * time.Second),
	}
	bp.cond = sync.NewCond(&bp.mu)
	return bp
}

// OnBatchProcessed subscribes to batch results. Observers run synchronously
// on the processing thread and must not call AddBlocking.
func (bp *BlockProcessor) OnBatchProcessed(fn func([]Processed)) {
	bp.observerMu.Lock()
	bp.batchObservers = append(bp.batchObservers, fn)
	bp.observerMu.Unlock()
}

// OnRolledBack subscribes to fork rollbacks.
func (bp *BlockProcessor) OnRolledBack(fn func(ledger.Block)) {
	bp.observerMu.Lock()
	bp.rollObservers = append(bp.rollObservers, fn)
	bp.observerMu.Unlock()
}

func (bp *BlockProcessor) Start() {
	bp.wg.Add(1)
	go func() {
		defer bp.wg.Done()
		bp.run()
	}()
}

// Stop is idempotent and joins the processing thread.
func (bp *BlockProcessor) Stop() {
	bp.mu.Lock()
	bp.stopped = true
	bp.mu.Unlock()
	bp.cond.Broadcast()
	bp.wg.Wait()
}

func (bp *BlockProcessor) Size() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.blocks) + len(bp.forced)
}

func (bp *BlockProcessor) Full() bool {
	return bp.Size() >= bp.cfg.FullSize
}

func (bp *BlockProcessor) HalfFull() bool {
	return bp.Size() >= bp.cfg.FullSize/2
}

// Add queues a block, rejecting on overfill or invalid work.
func (bp *BlockProcessor) Add(blk ledger.Block, source Source) bool {
	if bp.Full() {
		bp.stats.Inc(stats.TypeBlockProcessor, stats.DetailOverfill)
		return false
	}
	if !ledger.ValidateWork(blk, bp.cfg.WorkThreshold) {
		bp.stats.Inc(stats.TypeBlockProcessor, stats.DetailInsufficientWork)
		return false
	}
	bp.addImpl(entry{block: blk, ctx: Context{Source: source, Arrival: time.Now()}})
	return true
}

// AddBlocking queues the block and waits for its result or the add timeout.
func (bp *BlockProcessor) AddBlocking(blk ledger.Block, source Source) (ledger.ProcessResult, error) {
	promise := make(chan ledger.ProcessResult, 1)
	bp.addImpl(entry{block: blk, ctx: Context{Source: source, Arrival: time.Now(), promise: promise}})

	select {
	case result := <-promise:
		return result, nil
	case <-time.After(bp.cfg.AddTimeout):
		return 0, ErrAddTimeout
	}
}

// Force queues a block that may displace the current fork winner.
func (bp *BlockProcessor) Force(blk ledger.Block) {
	bp.mu.Lock()
	bp.forced = append(bp.forced, entry{block: blk, ctx: Context{Source: SourceForced, Arrival: time.Now()}})
	bp.mu.Unlock()
	bp.cond.Broadcast()
}

// Flush blocks until the queues drain and the thread is idle.
func (bp *BlockProcessor) Flush() {
	bp.Flushing.Store(true)
	defer bp.Flushing.Store(false)

	bp.mu.Lock()
	defer bp.mu.Unlock()
	for !bp.stopped && (len(bp.blocks) > 0 || len(bp.forced) > 0 || bp.running) {
		bp.cond.Wait()
	}
}

func (bp *BlockProcessor) addImpl(e entry) {
	bp.mu.Lock()
	bp.blocks = append(bp.blocks, e)
	bp.mu.Unlock()
	bp.cond.Broadcast()
}

func (bp *BlockProcessor) haveBlocksReadyLocked() bool {
	return len(bp.blocks) > 0 || len(bp.forced) > 0
}

func (bp *BlockProcessor) run() {
	bp.mu.Lock()
	for !bp.stopped {
		if bp.haveBlocksReadyLocked() {
			bp.running = true
			bp.mu.Unlock()

			processed := bp.processBatch()
			bp.notifyBatch(processed)

			bp.mu.Lock()
			bp.running = false
			bp.cond.Broadcast()
		} else {
			bp.cond.Broadcast()
			bp.cond.Wait()
		}
	}
	bp.mu.Unlock()
}

// nextBlock pops the next entry, forced queue first.
func (bp *BlockProcessor) nextBlock() (entry, bool, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if len(bp.forced) > 0 {
		e := bp.forced[0]
		bp.forced = bp.forced[1:]
		return e, true, true
	}
	if len(bp.blocks) > 0 {
		e := bp.blocks[0]
		bp.blocks = bp.blocks[1:]
		return e, false, true
	}
	return entry{}, false, false
}

func (bp *BlockProcessor) processBatch() []Processed {
	guard := bp.writeQ.Wait(store.WriterProcessBatch)
	defer guard.Release()

	tx := bp.ledger.Store().BeginWrite(store.TableAccounts, store.TableBlocks, store.TableFrontiers, store.TablePending)

	var processed []Processed
	start := time.Now()
	storeBatchMax := bp.ledger.Store().MaxBlockWriteBatch()
	count, forcedCount := 0, 0

	deadlineReached := func() bool { return time.Since(start) > bp.cfg.BatchMaxTime }
	batchReached := func() bool { return count >= bp.cfg.BatchSize }

	for count < storeBatchMax && (!deadlineReached() || !batchReached()) {
		if queued := bp.Size(); queued > 64 && bp.logInterval.Elapsed() {
			bp.log.Debug("blocks in processing queue", "queued", queued)
		}
		e, forced, ok := bp.nextBlock()
		if !ok {
			break
		}
		if forced {
			forcedCount++
			bp.rollbackCompetitor(tx, e.block)
		}
		count++
		result := bp.processOne(tx, e.block)
		processed = append(processed, Processed{Result: result, Block: e.block, Context: e.ctx})
	}

	if err := tx.Commit(); err != nil {
		bp.stats.Inc(stats.TypeBlockProcessor, stats.DetailWriteError)
		bp.log.Error("failed to commit batch", "err", err)
	}

	if count > 0 && time.Since(start) > 100*time.Millisecond {
		bp.log.Debug("processed blocks", "count", count, "forced", forcedCount, "elapsed", time.Since(start))
	}
	return processed
}

func (bp *BlockProcessor) notifyBatch(processed []Processed) {
	// Resolve per-block promises before the observers run.
	for i := range processed {
		if promise := processed[i].Context.promise; promise != nil {
			promise <- processed[i].Result
		}
	}
	bp.observerMu.Lock()
	observers := append([]func([]Processed){}, bp.batchObservers...)
	bp.observerMu.Unlock()
	for _, fn := range observers {
		fn(processed)
	}
}

// rollbackCompetitor clears the slot a forced block wants: when the qualified
// root already chains to a different successor, that successor and everything
// above it are rolled back. Rolled-back roots leave the vote history and
// their elections are cancelled, except the election at the successor itself
// where the forced block will slot in.
func (bp *BlockProcessor) rollbackCompetitor(tx store.WriteTransaction, blk ledger.Block) {
	hash := blk.Hash()
	successor := bp.ledger.Successor(tx, blk.QualifiedRoot())
	if successor == nil || successor.Hash() == hash {
		return
	}
	bp.log.Debug("rolling back", "hash", successor.Hash(), "replacing", hash)

	rolled, err := bp.ledger.Rollback(tx, successor.Hash())
	if err != nil {
		bp.log.Error("failed to roll back", "hash", successor.Hash(), "err", err)
		bp.stats.Inc(stats.TypeLedger, stats.DetailRollbackFailed)
	} else {
		bp.log.Debug("blocks rolled back", "count", len(rolled))
	}

	for _, rolledBlock := range rolled {
		bp.history.Erase(rolledBlock.Root())
		if rolledBlock.Hash() != successor.Hash() {
			bp.active.Erase(rolledBlock.QualifiedRoot())
		}
		bp.notifyRolledBack(rolledBlock)
	}
}

func (bp *BlockProcessor) notifyRolledBack(blk ledger.Block) {
	bp.observerMu.Lock()
	observers := append([]func(ledger.Block){}, bp.rollObservers...)
	bp.observerMu.Unlock()
	for _, fn := range observers {
		fn(blk)
	}
}

func (bp *BlockProcessor) processOne(tx store.WriteTransaction, blk ledger.Block) ledger.ProcessResult {
	hash := blk.Hash()
	result := bp.ledger.Process(tx, blk)

	switch result {
	case ledger.Progress:
		bp.queueUnchecked(keyFromHash(hash))
		// A send also unparks whatever waits on the destination account
		// (epoch opens key on the account itself); gap-source receives wait
		// on the send's hash and were released just above.
		if bp.ledger.IsSend(tx, blk) {
			if destination := bp.ledger.SendDestination(blk); !destination.IsZero() {
				bp.queueUnchecked(keyFromAccount(destination))
			}
		}
	case ledger.GapPrevious:
		bp.Unchecked.Put(keyFromHash(blk.Previous()), blk)
	case ledger.GapSource:
		bp.Unchecked.Put(keyFromHash(gapSource(blk)), blk)
	case ledger.GapEpochOpenPending:
		bp.Unchecked.Put(keyFromAccount(blk.Account()), blk)
	}

	bp.stats.Inc(stats.TypeLedger, stats.Detail(result.String()))
	bp.log.Debug("block processed", "result", result, "hash", hash, "source", "batch")
	return result
}

// gapSource extracts the missing dependency of a gap_source block without a
// ledger lookup: the legacy source field or the state link.
func gapSource(blk ledger.Block) types.Hash {
	if source := blk.Source(); !source.IsZero() {
		return source
	}
	return blk.Link().AsHash()
}

// queueUnchecked re-queues blocks parked under the dependency key.
func (bp *BlockProcessor) queueUnchecked(key UncheckedKey) {
	for _, blk := range bp.Unchecked.Trigger(key) {
		bp.addImpl(entry{block: blk, ctx: Context{Source: SourceUnchecked, Arrival: time.Now()}})
	}
}
