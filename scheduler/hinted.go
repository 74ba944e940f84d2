package scheduler

import (
	"math/big"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/inconshreveable/log15"

	"github.com/nanoledger/go-nano/chain"
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/election"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/stats"
	"github.com/nanoledger/go-nano/store"
	"github.com/nanoledger/go-nano/votecache"
)

type HintedConfig struct {
	// CheckInterval paces the vote-cache scans; votes arrive far too often to
	// wake on each one.
	CheckInterval time.Duration
	// HintingThreshold gates non-final activation; zero means any tally.
	HintingThreshold *big.Int
}

func DefaultHintedConfig() HintedConfig {
	return HintedConfig{CheckInterval: time.Second, HintingThreshold: new(big.Int)}
}

// Hinted starts elections for blocks the network is already voting on:
// entries whose final tally clears the quorum activate unconditionally,
// entries over the hinting threshold activate once their dependents are
// confirmed. Missing blocks are handed to bootstrap and the cached votes stay
// put for when the block arrives.
type Hinted struct {
	cfg        HintedConfig
	ledger     *chain.Ledger
	voteCache  *votecache.VoteCache
	active     election.ActiveElections
	onlineReps election.OnlineReps
	stats      *stats.Stats
	log        log15.Logger

	// BootstrapHash requests a missing block from the network; injected by
	// the node.
	BootstrapHash func(types.Hash)

	// requested dedupes bootstrap requests for hashes not yet in the ledger.
	requested mapset.Set

	term     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewHinted(cfg HintedConfig, l *chain.Ledger, vc *votecache.VoteCache, active election.ActiveElections, reps election.OnlineReps, st *stats.Stats) *Hinted {
	h := &Hinted{
		cfg:           cfg,
		ledger:        l,
		voteCache:     vc,
		active:        active,
		onlineReps:    reps,
		stats:         st,
		log:           log15.New("module", "election_hinting"),
		BootstrapHash: func(types.Hash) {},
		requested:     mapset.NewSet(),
		term:          make(chan struct{}),
	}
	return h
}

func (h *Hinted) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run()
	}()
}

func (h *Hinted) Stop() {
	h.stopOnce.Do(func() {
		close(h.term)
	})
	h.wg.Wait()
}

func (h *Hinted) predicate() bool {
	return h.active.Vacancy(election.BehaviorHinted) > 0
}

func (h *Hinted) run() {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.term:
			return
		case <-ticker.C:
			h.stats.Inc(stats.TypeHinting, stats.DetailLoop)
			if h.predicate() {
				h.runIterative()
			}
		}
	}
}

func (h *Hinted) runIterative() {
	minTally := h.tallyThreshold()
	minFinalTally := h.finalTallyThreshold()

	tx := h.ledger.Store().BeginRead()

	h.voteCache.Iterate(minTally, minFinalTally, func(entry votecache.Entry) {
		if !h.predicate() {
			return
		}
		if entry.FinalTally.Cmp(minFinalTally) >= 0 {
			h.stats.Inc(stats.TypeHinting, stats.DetailActivateFinal)
			h.Activate(tx, entry.Hash, false)
			return
		}
		if entry.Tally.Cmp(minTally) >= 0 {
			h.stats.Inc(stats.TypeHinting, stats.DetailActivateNormal)
			h.Activate(tx, entry.Hash, true)
		}
	})
}

// Activate tries to start a hinted election for hash. Returns false when the
// block is missing (bootstrap is queued), already confirmed or confirming, or
// when unconfirmed dependents were activated instead.
func (h *Hinted) Activate(tx store.Transaction, hash types.Hash, checkDependents bool) bool {
	block := h.ledger.Store().Block().Get(tx, hash)
	if block == nil {
		h.stats.Inc(stats.TypeHinting, stats.DetailMissingBlock)
		if h.requested.Add(hash) {
			h.BootstrapHash(hash)
		}
		return false
	}
	h.requested.Remove(hash)

	if h.ledger.BlockConfirmed(tx, hash) || h.active.Active(hash) {
		h.stats.Inc(stats.TypeHinting, stats.DetailAlreadyConfirmed)
		return false
	}
	if checkDependents && !h.ledger.DependentsConfirmed(tx, block) {
		h.stats.Inc(stats.TypeHinting, stats.DetailDependentUnconfirmed)
		h.activateDependents(tx, block)
		return false
	}

	result := h.active.Insert(block, election.BehaviorHinted)
	if result.Inserted {
		h.stats.Inc(stats.TypeHinting, stats.DetailInsert)
	} else {
		h.stats.Inc(stats.TypeHinting, stats.DetailInsertFailed)
	}
	return true
}

func (h *Hinted) activateDependents(tx store.Transaction, block ledger.Block) {
	for _, hash := range h.ledger.DependentBlocks(tx, block) {
		if hash.IsZero() {
			continue
		}
		if h.Activate(tx, hash, true) {
			h.stats.Inc(stats.TypeHinting, stats.DetailDependentActivated)
		}
	}
}

func (h *Hinted) tallyThreshold() *big.Int {
	if h.cfg.HintingThreshold == nil {
		return new(big.Int)
	}
	return h.cfg.HintingThreshold
}

func (h *Hinted) finalTallyThreshold() *big.Int {
	return h.onlineReps.Delta()
}
