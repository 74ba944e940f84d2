package bootstrap

import (
	"sync"

	"github.com/inconshreveable/log15"

	"github.com/nanoledger/go-nano/chain"
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/message"
	"github.com/nanoledger/go-nano/net"
	"github.com/nanoledger/go-nano/stats"
	"github.com/nanoledger/go-nano/store"
)

const (
	// ServerMaxBlocks bounds one blocks response.
	ServerMaxBlocks = message.MaxPullBlocks
	// ServerMaxFrontiers bounds one frontiers response.
	ServerMaxFrontiers = message.MaxPullFrontiers

	serverQueueDepth = 1024 * 16
	serverBatchSize  = 128
)

type serverRequest struct {
	req     *message.AscPullReq
	channel net.Channel
}

// Server answers asc_pull_req from the local store: one worker, a bounded
// request queue, and one read transaction reused across a batch.
type Server struct {
	ledger  *chain.Ledger
	network message.Network
	stats   *stats.Stats
	log     log15.Logger

	requests chan serverRequest

	// OnResponse observes outgoing responses; used by tests.
	OnResponse func(*message.AscPullAck, net.Channel)

	term     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewServer(l *chain.Ledger, network message.Network, st *stats.Stats) *Server {
	return &Server{
		ledger:   l,
		network:  network,
		stats:    st,
		log:      log15.New("module", "bootstrap_server"),
		requests: make(chan serverRequest, serverQueueDepth),
		term:     make(chan struct{}),
	}
}

func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.term)
	})
	s.wg.Wait()
}

// Verify refuses malformed requests: unknown sub-type, zero or oversized
// counts, zero targets.
func (s *Server) Verify(req *message.AscPullReq) bool {
	switch payload := req.Payload.(type) {
	case *message.AscPullReqBlocks:
		return payload.Count > 0 && int(payload.Count) <= ServerMaxBlocks
	case *message.AscPullReqAccountInfo:
		return !payload.Target.IsZero()
	case *message.AscPullReqFrontiers:
		return payload.Count > 0 && int(payload.Count) <= ServerMaxFrontiers
	}
	return false
}

// Request queues an inbound request. Returns false when the request fails
// verification, the channel's bootstrap lane is already full, or the queue is
// at depth.
func (s *Server) Request(req *message.AscPullReq, channel net.Channel) bool {
	if !s.Verify(req) {
		s.stats.Inc(stats.TypeBootstrapServer, stats.DetailInvalid)
		return false
	}
	// A full channel would drop the response anyway; filter early.
	if channel.Max(net.TrafficBootstrap) {
		s.stats.IncDir(stats.TypeBootstrapServer, stats.DetailChannelFull, stats.DirIn)
		return false
	}
	select {
	case s.requests <- serverRequest{req: req, channel: channel}:
		return true
	default:
		s.stats.Inc(stats.TypeBootstrapServer, stats.DetailOverfill)
		return false
	}
}

func (s *Server) run() {
	for {
		var first serverRequest
		select {
		case <-s.term:
			return
		case first = <-s.requests:
		}

		batch := []serverRequest{first}
	drain:
		for len(batch) < serverBatchSize {
			select {
			case r := <-s.requests:
				batch = append(batch, r)
			default:
				break drain
			}
		}
		s.processBatch(batch)
	}
}

func (s *Server) processBatch(batch []serverRequest) {
	tx := s.ledger.Store().BeginRead()

	for _, item := range batch {
		tx.Refresh()

		if item.channel.Max(net.TrafficBootstrap) {
			s.stats.IncDir(stats.TypeBootstrapServer, stats.DetailChannelFull, stats.DirOut)
			continue
		}
		response := s.process(tx, item.req)
		s.respond(response, item.channel)
	}
}

func (s *Server) process(tx store.Transaction, req *message.AscPullReq) *message.AscPullAck {
	var payload message.AscPullPayload
	switch p := req.Payload.(type) {
	case *message.AscPullReqBlocks:
		payload = s.processBlocks(tx, p)
	case *message.AscPullReqAccountInfo:
		payload = s.processAccountInfo(tx, p)
	case *message.AscPullReqFrontiers:
		payload = s.processFrontiers(tx, p)
	}
	return message.NewAscPullAck(s.network, req.ID, payload)
}

func (s *Server) processBlocks(tx store.Transaction, req *message.AscPullReqBlocks) *message.AscPullAckBlocks {
	count := int(req.Count)
	if count > ServerMaxBlocks {
		count = ServerMaxBlocks
	}

	switch req.StartType {
	case message.HashTypeBlock:
		if s.ledger.Store().Block().Exists(tx, req.Start.AsHash()) {
			return &message.AscPullAckBlocks{Blocks: s.prepareBlocks(tx, req.Start.AsHash(), count)}
		}
	case message.HashTypeAccount:
		if info, ok := s.ledger.AccountInfo(tx, req.Start.AsAccount()); ok {
			// Pulling by account starts at the open block.
			return &message.AscPullAckBlocks{Blocks: s.prepareBlocks(tx, info.Open, count)}
		}
	}

	// Neither block nor account found; an empty response signals that.
	return &message.AscPullAckBlocks{}
}

func (s *Server) prepareBlocks(tx store.Transaction, start types.Hash, count int) []ledger.Block {
	var result []ledger.Block
	if start.IsZero() {
		return result
	}
	current := s.ledger.Store().Block().Get(tx, start)
	for current != nil && len(result) < count {
		result = append(result, current)
		successor := current.Sideband().Successor
		if successor.IsZero() {
			break
		}
		current = s.ledger.Store().Block().Get(tx, successor)
	}
	return result
}

func (s *Server) processAccountInfo(tx store.Transaction, req *message.AscPullReqAccountInfo) *message.AscPullAckAccountInfo {
	var target types.Account
	switch req.TargetType {
	case message.HashTypeAccount:
		target = req.Target.AsAccount()
	case message.HashTypeBlock:
		// Resolve the owning account from the block hash; may stay zero.
		target = s.ledger.Account(tx, req.Target.AsHash())
	}

	response := &message.AscPullAckAccountInfo{Account: target}

	if info, ok := s.ledger.AccountInfo(tx, target); ok {
		response.Open = info.Open
		response.Head = info.Head
		response.BlockCount = info.BlockCount

		if confInfo, ok := s.ledger.Store().ConfirmationHeight().Get(tx, target); ok {
			response.ConfFrontier = confInfo.Frontier
			response.ConfHeight = confInfo.Height
		}
	}
	// A missing account leaves every field but the target zero.
	return response
}

func (s *Server) processFrontiers(tx store.Transaction, req *message.AscPullReqFrontiers) *message.AscPullAckFrontiers {
	count := int(req.Count)
	if count > ServerMaxFrontiers {
		count = ServerMaxFrontiers
	}

	response := &message.AscPullAckFrontiers{}
	s.ledger.Store().Account().Iterate(tx, req.Start, func(account types.Account, info store.AccountInfo) bool {
		response.Frontiers = append(response.Frontiers, message.Frontier{Account: account, Hash: info.Head})
		return len(response.Frontiers) < count
	})
	return response
}

func (s *Server) respond(response *message.AscPullAck, channel net.Channel) {
	s.stats.IncDir(stats.TypeBootstrapServer, stats.DetailResponse, stats.DirOut)

	switch payload := response.Payload.(type) {
	case *message.AscPullAckBlocks:
		s.stats.IncDir(stats.TypeBootstrapServer, stats.DetailResponseBlocks, stats.DirOut)
		s.stats.Add(stats.TypeBootstrapServer, stats.DetailBlocks, stats.DirOut, int64(len(payload.Blocks)))
	case *message.AscPullAckAccountInfo:
		s.stats.IncDir(stats.TypeBootstrapServer, stats.DetailResponseAccount, stats.DirOut)
	case *message.AscPullAckFrontiers:
		s.stats.IncDir(stats.TypeBootstrapServer, stats.DetailResponseFrontiers, stats.DirOut)
	}

	if s.OnResponse != nil {
		s.OnResponse(response, channel)
	}

	channel.Send(response, func(err error, _ int) {
		if err != nil {
			s.stats.IncDir(stats.TypeBootstrapServer, stats.DetailWriteError, stats.DirOut)
		}
	}, net.DropPolicyLimiter, net.TrafficBootstrap)
}
