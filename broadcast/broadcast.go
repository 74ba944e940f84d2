package broadcast

import (
	"sync"
	"time"

	"github.com/inconshreveable/log15"

	"github.com/nanoledger/go-nano/chain"
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/processor"
	"github.com/nanoledger/go-nano/stats"
)

type Config struct {
	Enabled bool
	// LocalMaxSize bounds the retained local blocks; oldest evicted first.
	LocalMaxSize int
	// CheckInterval paces the rebroadcast thread.
	CheckInterval time.Duration
	// BroadcastInterval is the minimum spacing between rebroadcasts of the
	// same block.
	BroadcastInterval time.Duration
	// AgeCutoff drops blocks that never confirmed.
	AgeCutoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		LocalMaxSize:      8192,
		CheckInterval:     30 * time.Second,
		BroadcastInterval: 60 * time.Second,
		AgeCutoff:         60 * time.Minute,
	}
}

// Flooder pushes a block to the network; satisfied by net.Network.
type Flooder interface {
	FloodBlockInitial(ledger.Block)
}

type localEntry struct {
	block         ledger.Block
	arrival       time.Time
	lastBroadcast time.Time // zero until the first broadcast
}

// Broadcaster re-floods locally originated blocks until they confirm. Blocks
// enter on batch_processed (source local, result progress) and leave when
// confirmed, rolled back or too old.
type Broadcaster struct {
	cfg     Config
	ledger  *chain.Ledger
	flooder Flooder
	stats   *stats.Stats
	log     log15.Logger

	mu     sync.Mutex
	local  []localEntry
	byHash map[types.Hash]int // index into local; rebuilt on eviction

	term     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, l *chain.Ledger, bp *processor.BlockProcessor, flooder Flooder, st *stats.Stats) *Broadcaster {
	b := &Broadcaster{
		cfg:     cfg,
		ledger:  l,
		flooder: flooder,
		stats:   st,
		log:     log15.New("module", "block_broadcaster"),
		byHash:  make(map[types.Hash]int),
		term:    make(chan struct{}),
	}
	if !cfg.Enabled {
		return b
	}

	bp.OnBatchProcessed(func(batch []processor.Processed) {
		for i := range batch {
			// Only local blocks that landed cleanly are worth re-flooding.
			if batch[i].Result != ledger.Progress || batch[i].Context.Source != processor.SourceLocal {
				continue
			}
			b.insert(batch[i].Block)
		}
	})
	bp.OnRolledBack(func(blk ledger.Block) {
		b.remove(blk.Hash())
	})
	return b
}

func (b *Broadcaster) insert(blk ledger.Block) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.local = append(b.local, localEntry{block: blk, arrival: time.Now()})
	b.stats.Inc(stats.TypeBroadcaster, stats.DetailInsert)

	for len(b.local) > b.cfg.LocalMaxSize {
		b.stats.Inc(stats.TypeBroadcaster, stats.DetailOverfill)
		b.local = b.local[1:]
	}
	b.reindex()
}

func (b *Broadcaster) remove(hash types.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.byHash[hash]; ok {
		b.local = append(b.local[:idx], b.local[idx+1:]...)
		b.reindex()
		b.stats.Inc(stats.TypeBroadcaster, stats.DetailRollback)
	}
}

func (b *Broadcaster) reindex() {
	b.byHash = make(map[types.Hash]int, len(b.local))
	for i := range b.local {
		b.byHash[b.local[i].block.Hash()] = i
	}
}

func (b *Broadcaster) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.local)
}

func (b *Broadcaster) Start() {
	if !b.cfg.Enabled {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run()
	}()
}

func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.term)
	})
	b.wg.Wait()
}

func (b *Broadcaster) run() {
	ticker := time.NewTicker(b.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.term:
			return
		case <-ticker.C:
			b.stats.Inc(stats.TypeBroadcaster, stats.DetailLoop)
			b.cleanup()
			b.runOnce()
		}
	}
}

// runOnce re-floods entries due for a broadcast. A zero lastBroadcast is
// always due, so new blocks go out on the first tick.
func (b *Broadcaster) runOnce() {
	now := time.Now()

	b.mu.Lock()
	var toBroadcast []ledger.Block
	for i := range b.local {
		if b.local[i].lastBroadcast.Add(b.cfg.BroadcastInterval).Before(now) {
			toBroadcast = append(toBroadcast, b.local[i].block)
			b.local[i].lastBroadcast = now
		}
	}
	b.mu.Unlock()

	for _, blk := range toBroadcast {
		b.stats.IncDir(stats.TypeBroadcaster, stats.DetailBroadcast, stats.DirOut)
		b.flooder.FloodBlockInitial(blk)
	}
}

// cleanup drops confirmed blocks and those past the age cutoff. Entries never
// broadcast at least once are kept regardless.
func (b *Broadcaster) cleanup() {
	tx := b.ledger.Store().BeginRead()
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.local[:0]
	for _, entry := range b.local {
		tx.Refresh()
		switch {
		case entry.lastBroadcast.IsZero():
			kept = append(kept, entry)
		case entry.arrival.Add(b.cfg.AgeCutoff).Before(now):
			b.stats.Inc(stats.TypeBroadcaster, stats.DetailEraseOld)
		case b.ledger.BlockConfirmed(tx, entry.block.Hash()):
			b.stats.Inc(stats.TypeBroadcaster, stats.DetailEraseConfirmed)
		default:
			kept = append(kept, entry)
		}
	}
	b.local = kept
	b.reindex()
}
