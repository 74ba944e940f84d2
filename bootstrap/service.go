package bootstrap

import (
	"math"
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"golang.org/x/time/rate"

	"github.com/nanoledger/go-nano/chain"
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/message"
	"github.com/nanoledger/go-nano/net"
	"github.com/nanoledger/go-nano/processor"
	"github.com/nanoledger/go-nano/store"
	"github.com/nanoledger/go-nano/stats"
)

// Strategy names the requester a response belongs to.
type Strategy byte

const (
	StrategyPriority Strategy = iota
	StrategyLedgerScan
	StrategyLazy
)

// QueryType records how the request framed its start so the response can be
// verified against it.
type QueryType byte

const (
	QueryBlocksByHash QueryType = iota
	QueryBlocksByAccount
	QueryAccountInfo
)

// AsyncTag is one outstanding request. Inserted on send, removed on the
// matching ack or on timeout; the id is unique among outstanding tags.
type AsyncTag struct {
	Strategy Strategy
	Query    QueryType
	Start    types.HashOrAccount
	Account  types.Account
	ID       uint64
	Time     time.Time
}

type VerifyResult byte

const (
	VerifyOK VerifyResult = iota
	VerifyNothingNew
	VerifyInvalid
)

// VerifyBlocksResponse checks a blocks response against its request: an empty
// response or a lone echo of the start is nothing_new; a first block that
// does not match the requested hash/account, or adjacent blocks that do not
// chain previous -> hash, are invalid.
func VerifyBlocksResponse(tag AsyncTag, payload *message.AscPullAckBlocks) VerifyResult {
	blocks := payload.Blocks
	if len(blocks) == 0 {
		return VerifyNothingNew
	}
	if len(blocks) == 1 && blocks[0].Hash() == tag.Start.AsHash() {
		return VerifyNothingNew
	}

	first := blocks[0]
	switch tag.Query {
	case QueryBlocksByHash:
		if first.Hash() != tag.Start.AsHash() {
			return VerifyInvalid
		}
	case QueryBlocksByAccount:
		// Open and state blocks always carry the account field.
		if first.Account() != tag.Start.AsAccount() {
			return VerifyInvalid
		}
	default:
		return VerifyInvalid
	}

	previous := blocks[0].Hash()
	for _, blk := range blocks[1:] {
		if blk.Previous() != previous {
			return VerifyInvalid
		}
		previous = blk.Hash()
	}
	return VerifyOK
}

// ChannelProvider supplies the live channel list; satisfied by net.PeerSet.
type ChannelProvider interface {
	List() []net.Channel
}

// Service is the ascending bootstrap client: strategies pick accounts, the
// peer scoring table picks channels, async tags correlate responses, and the
// block-processor feedback loop steers the account sets.
type Service struct {
	cfg       Config
	ledger    *chain.Ledger
	processor *processor.BlockProcessor
	peers     ChannelProvider
	stats     *stats.Stats
	log       log15.Logger
	networkID message.Network

	mu       sync.Mutex
	accounts *accountSets
	scoring  *peerScoring
	tags     map[uint64]AsyncTag
	tagOrder []uint64
	throttle *throttle
	iterator *accountIterator

	// databaseLimiter paces account sampling from the store; separate from
	// the network limiter so priority requests always have room.
	databaseLimiter *rate.Limiter

	// Observers; used by tests.
	OnRequest func(AsyncTag)
	OnReply   func(AsyncTag)
	OnTimeout func(AsyncTag)

	term     chan struct{}
	stopOnce sync.Once
	stopped  bool
	wg       sync.WaitGroup
}

func NewService(cfg Config, l *chain.Ledger, bp *processor.BlockProcessor, peers ChannelProvider, networkID message.Network, st *stats.Stats) *Service {
	s := &Service{
		cfg:             cfg,
		ledger:          l,
		processor:       bp,
		peers:           peers,
		stats:           st,
		log:             log15.New("module", "bootstrap_ascending"),
		networkID:       networkID,
		accounts:        newAccountSets(cfg.AccountSets),
		scoring:         newPeerScoring(cfg),
		tags:            make(map[uint64]AsyncTag),
		iterator:        newAccountIterator(l.Store()),
		databaseLimiter: rate.NewLimiter(rate.Limit(cfg.DatabaseRateLimit), databaseBurst(cfg)),
		term:            make(chan struct{}),
	}
	s.throttle = newThrottle(s.computeThrottleSize())

	// Feedback: steer the account sets from every processed bootstrap block.
	bp.OnBatchProcessed(func(batch []processor.Processed) {
		s.mu.Lock()
		defer s.mu.Unlock()
		tx := l.Store().BeginRead()
		for i := range batch {
			// Live traffic chains need no bootstrapping.
			if batch[i].Context.Source == processor.SourceBootstrap {
				s.inspect(tx, batch[i].Result, batch[i].Block)
			}
		}
	})
	return s
}

func (s *Service) Start() {
	if s.cfg.EnablePriority {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.priorityRun()
		}()
	}
	if s.cfg.EnableLedgerScan {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ledgerScanRun()
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.timeoutRun()
	}()
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.term)
	})
	s.wg.Wait()
}

func (s *Service) PrioritySize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts.PrioritySize()
}

func (s *Service) BlockedSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts.BlockedSize()
}

func (s *Service) ScoreSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoring.Size()
}

// AccountPriority reads an account's current score; zero when absent.
func (s *Service) AccountPriority(account types.Account) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts.Priority(account)
}

func (s *Service) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// sleep waits d or returns early on Stop.
func (s *Service) sleep(d time.Duration) {
	select {
	case <-s.term:
	case <-time.After(d):
	}
}

/*
 * priority accounts strategy
 */

func (s *Service) priorityRun() {
	for !s.isStopped() {
		s.stats.Inc(stats.TypePriorityBoot, stats.DetailLoop)

		s.waitBlockProcessor()
		account := s.waitAvailableAccount()
		if account.IsZero() {
			continue
		}
		s.requestAccount(account, StrategyPriority)
		s.throttleIfNeeded()
	}
}

// waitBlockProcessor backs off while the processor queue is saturated.
func (s *Service) waitBlockProcessor() {
	for !s.isStopped() && s.processor.Size() > s.cfg.BlockProcessorThreshold {
		s.sleep(s.cfg.ThrottleWait)
	}
}

// waitAvailableAccount blocks until the priority set yields an account
// outside its cooldown; zero on stop.
func (s *Service) waitAvailableAccount() types.Account {
	for !s.isStopped() {
		s.mu.Lock()
		account := s.accounts.Next()
		if !account.IsZero() {
			s.stats.Inc(stats.TypePriorityBoot, stats.DetailNextPriority)
			s.accounts.Timestamp(account, false)
			s.mu.Unlock()
			return account
		}
		s.mu.Unlock()
		s.sleep(s.cfg.ThrottleWait)
	}
	return types.ZERO_ACCOUNT
}

func (s *Service) throttleIfNeeded() {
	s.mu.Lock()
	warmup := s.iterator.Warmup()
	throttled := s.throttle.throttled()
	s.mu.Unlock()

	if !warmup && throttled {
		s.stats.Inc(stats.TypePriorityBoot, stats.DetailThrottled)
		s.sleep(s.cfg.ThrottleWait)
	}
}

/*
 * ledger scan strategy
 */

func (s *Service) ledgerScanRun() {
	for !s.isStopped() {
		s.stats.Inc(stats.TypeLedgerScan, stats.DetailLoop)

		s.waitBlockProcessor()
		account := s.waitScanAccount()
		if account.IsZero() {
			continue
		}
		s.requestAccount(account, StrategyLedgerScan)
	}
}

func (s *Service) waitScanAccount() types.Account {
	for !s.isStopped() {
		s.mu.Lock()
		if s.databaseLimiter.Allow() {
			if account := s.iterator.Next(); !account.IsZero() {
				s.stats.Inc(stats.TypeLedgerScan, stats.DetailNextDatabase)
				s.mu.Unlock()
				return account
			}
		}
		s.mu.Unlock()
		s.stats.Inc(stats.TypeLedgerScan, stats.DetailNextNone)
		s.sleep(s.cfg.ThrottleWait)
	}
	return types.ZERO_ACCOUNT
}

/*
 * requests
 */

// waitAvailableChannel asks the scoring table for a channel with spare quota;
// nil on stop.
func (s *Service) waitAvailableChannel() net.Channel {
	for !s.isStopped() {
		s.mu.Lock()
		channel := s.scoring.Channel()
		s.mu.Unlock()
		if channel != nil {
			return channel
		}
		s.sleep(s.cfg.ThrottleWait)
	}
	return nil
}

// requestAccount builds an asc_pull_req.blocks for the account: from its head
// when the account is known locally, from the account key otherwise.
func (s *Service) requestAccount(account types.Account, strategy Strategy) bool {
	channel := s.waitAvailableChannel()
	if channel == nil {
		return false
	}

	tag := AsyncTag{
		Strategy: strategy,
		Account:  account,
		ID:       crypto.RandomUint64(),
		Time:     time.Now(),
	}
	payload := &message.AscPullReqBlocks{Count: uint8(s.cfg.PullCount)}

	tx := s.ledger.Store().BeginRead()
	if info, ok := s.ledger.AccountInfo(tx, account); ok {
		// Pull from the last known block onward.
		tag.Query = QueryBlocksByHash
		tag.Start.SetHash(info.Head)
		payload.StartType = message.HashTypeBlock
	} else {
		tag.Query = QueryBlocksByAccount
		tag.Start.SetAccount(account)
		payload.StartType = message.HashTypeAccount
	}
	payload.Start = tag.Start

	s.send(channel, tag, payload)
	return true
}

// RequestBlock asks the network for a single missing block, on behalf of the
// hinted scheduler. Runs detached so callers never block on channel quota.
func (s *Service) RequestBlock(hash types.Hash) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		channel := s.waitAvailableChannel()
		if channel == nil {
			return
		}
		tag := AsyncTag{
			Strategy: StrategyPriority,
			Query:    QueryBlocksByHash,
			ID:       crypto.RandomUint64(),
			Time:     time.Now(),
		}
		tag.Start.SetHash(hash)
		payload := &message.AscPullReqBlocks{
			Start:     tag.Start,
			Count:     uint8(s.cfg.PullCount),
			StartType: message.HashTypeBlock,
		}
		s.send(channel, tag, payload)
	}()
}

func (s *Service) send(channel net.Channel, tag AsyncTag, payload message.AscPullPayload) {
	s.track(tag)

	if s.OnRequest != nil {
		s.OnRequest(tag)
	}
	s.stats.IncDir(stats.TypeAscendBoot, stats.DetailRequest, stats.DirOut)

	req := message.NewAscPullReq(s.networkID, tag.ID, payload)
	channel.Send(req, nil, net.DropPolicyLimiter, net.TrafficBootstrap)
}

func (s *Service) track(tag AsyncTag) {
	s.mu.Lock()
	s.tags[tag.ID] = tag
	s.tagOrder = append(s.tagOrder, tag.ID)
	s.mu.Unlock()
}

/*
 * responses
 */

// Process handles an asc_pull_ack from the network. Responses without a known
// tag are counted and dropped.
func (s *Service) Process(ack *message.AscPullAck, channel net.Channel) {
	s.mu.Lock()
	tag, ok := s.tags[ack.ID]
	if !ok {
		s.mu.Unlock()
		s.stats.Inc(stats.TypeAscendBoot, stats.DetailMissingTag)
		return
	}
	delete(s.tags, ack.ID)
	s.scoring.receivedMessage(channel)
	s.mu.Unlock()

	s.stats.Inc(stats.TypeAscendBoot, stats.DetailReply)
	if s.OnReply != nil {
		s.OnReply(tag)
	}

	switch payload := ack.Payload.(type) {
	case *message.AscPullAckBlocks:
		s.processBlocksResponse(payload, tag)
	case *message.AscPullAckAccountInfo:
		// Lazy pulling: the wire variant is kept for compatibility but its
		// semantics are not implemented yet.
		s.stats.Inc(stats.TypePriorityBoot, stats.DetailReply)
	case *message.AscPullAckFrontiers:
		// This client never requests frontiers.
	}
}

func (s *Service) processBlocksResponse(payload *message.AscPullAckBlocks, tag AsyncTag) {
	result := VerifyBlocksResponse(tag, payload)
	switch result {
	case VerifyOK:
		s.stats.Add(stats.TypePriorityBoot, stats.DetailBlocks, stats.DirIn, int64(len(payload.Blocks)))
		for _, blk := range payload.Blocks {
			s.processor.Add(blk, processor.SourceBootstrap)
		}
		s.mu.Lock()
		s.throttle.add(true)
		s.mu.Unlock()
	case VerifyNothingNew:
		s.stats.Inc(stats.TypePriorityBoot, stats.DetailNothingNew)
		s.mu.Lock()
		s.accounts.PriorityDown(tag.Account)
		s.throttle.add(false)
		s.mu.Unlock()
	case VerifyInvalid:
		s.stats.Inc(stats.TypePriorityBoot, stats.DetailInvalid)
	}
}

// inspect steers the account sets from a processed bootstrap block: progress
// unblocks and promotes the account (and a send's destination); gap_source
// blocks the owner on the missing hash. Caller holds the mutex.
func (s *Service) inspect(tx store.Transaction, result ledger.ProcessResult, blk ledger.Block) {
	hash := blk.Hash()
	switch result {
	case ledger.Progress:
		account := s.ledger.Account(tx, hash)
		isSend := s.ledger.IsSend(tx, blk)

		s.accounts.Unblock(account, types.ZERO_HASH)
		s.accounts.PriorityUp(account)
		s.accounts.Timestamp(account, true)

		if isSend {
			if destination := s.ledger.SendDestination(blk); !destination.IsZero() {
				// Unblocking inserts the destination into the priority set.
				s.accounts.Unblock(destination, hash)
				s.accounts.PriorityUp(destination)
			}
		}
	case ledger.GapSource:
		account := blk.Account()
		if !blk.Previous().IsZero() {
			account = s.ledger.Account(tx, blk.Previous())
		}
		source := blk.Source()
		if source.IsZero() {
			source = blk.Link().AsHash()
		}
		// No point requesting more of this account until the source lands.
		s.accounts.Block(account, source)
	}
}

/*
 * maintenance
 */

func (s *Service) timeoutRun() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.term:
			return
		case <-ticker.C:
			s.stats.Inc(stats.TypeAscendBoot, stats.DetailLoop)
			s.mu.Lock()
			s.scoring.Sync(s.peers.List())
			s.scoring.Timeout()
			timedOut := s.expireTagsLocked()
			s.throttle.resize(s.computeThrottleSize())
			s.mu.Unlock()

			for _, tag := range timedOut {
				s.stats.Inc(stats.TypeAscendBoot, stats.DetailTimeout)
				if s.OnTimeout != nil {
					s.OnTimeout(tag)
				}
			}
		}
	}
}

func (s *Service) expireTagsLocked() []AsyncTag {
	var timedOut []AsyncTag
	now := time.Now()
	for len(s.tagOrder) > 0 {
		id := s.tagOrder[0]
		tag, ok := s.tags[id]
		if ok && now.Sub(tag.Time) <= s.cfg.Timeout {
			break
		}
		s.tagOrder = s.tagOrder[1:]
		if ok {
			delete(s.tags, id)
			timedOut = append(timedOut, tag)
		}
	}
	return timedOut
}

// databaseBurst sizes the sampling bucket: database_requests_limit bounds the
// requests drawable at once on top of the sustained database_rate_limit.
func databaseBurst(cfg Config) int {
	if cfg.DatabaseRequestsLimit > 0 {
		return cfg.DatabaseRequestsLimit
	}
	return cfg.DatabaseRateLimit + 1
}

// computeThrottleSize scales with the ledger: coefficient * sqrt(blocks),
// floored at 16.
func (s *Service) computeThrottleSize() int {
	size := s.cfg.ThrottleCoefficient * int(math.Sqrt(float64(s.ledger.BlockCount.Load())))
	if size < 16 {
		size = 16
	}
	return size
}
