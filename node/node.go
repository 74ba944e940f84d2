package node

import (
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/inconshreveable/log15"

	"github.com/nanoledger/go-nano/bootstrap"
	"github.com/nanoledger/go-nano/broadcast"
	"github.com/nanoledger/go-nano/chain"
	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/config"
	"github.com/nanoledger/go-nano/crypto"
	"github.com/nanoledger/go-nano/election"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/message"
	"github.com/nanoledger/go-nano/net"
	"github.com/nanoledger/go-nano/processor"
	"github.com/nanoledger/go-nano/scheduler"
	"github.com/nanoledger/go-nano/stats"
	"github.com/nanoledger/go-nano/store"
	"github.com/nanoledger/go-nano/store/ldb"
	"github.com/nanoledger/go-nano/votecache"
)

// HardwareConcurrency honors the NANO_HARDWARE_CONCURRENCY override.
func HardwareConcurrency() int {
	if v := os.Getenv("NANO_HARDWARE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

// Node owns the component graph of the block pipeline. Construction wires the
// collaborators; Start brings components up and Stop joins them in reverse
// dependency order.
type Node struct {
	cfg *config.Node
	log log15.Logger

	Store      store.Store
	Ledger     *chain.Ledger
	WriteQueue *store.WriteQueue
	Stats      *stats.Stats

	History    *election.LocalVoteHistory
	Active     *election.Set
	OnlineReps election.OnlineReps

	VoteCache   *votecache.VoteCache
	Processor   *processor.BlockProcessor
	Network     *net.Network
	Server      *bootstrap.Server
	Bootstrap   *bootstrap.Service
	Buckets     *scheduler.Buckets
	Hinted      *scheduler.Hinted
	Broadcaster *broadcast.Broadcaster

	nodeKey crypto.KeyPair
}

func networkID(name string) message.Network {
	switch name {
	case "dev":
		return message.NetworkDev
	case "beta":
		return message.NetworkBeta
	case "test":
		return message.NetworkTest
	}
	return message.NetworkLive
}

func New(cfg *config.Node) (*Node, error) {
	SetupLogging(cfg.Logging, cfg.DataDir)

	n := &Node{
		cfg: cfg,
		log: log15.New("module", "node"),
	}

	var err error
	if n.nodeKey, err = crypto.GenerateKeyPair(); err != nil {
		return nil, err
	}

	netID := networkID(cfg.Network)
	if netID == message.NetworkDev {
		n.Store = store.NewMemStore()
	} else {
		if n.Store, err = ldb.Open(filepath.Join(cfg.DataDir, "ledger")); err != nil {
			return nil, err
		}
	}

	n.Stats = stats.New()
	n.WriteQueue = store.NewWriteQueue()
	n.Ledger = chain.NewLedger(n.Store)
	if netID == message.NetworkDev {
		n.Ledger.EnsureGenesis(chain.DevGenesisBlock(), chain.DevGenesisBalance)
	}
	n.History = election.NewLocalVoteHistory(65536)
	n.Active = election.NewSet(5000, 100)
	n.OnlineReps = &election.FixedOnlineReps{}

	n.VoteCache = votecache.New(votecache.DefaultConfig())
	// Representative weight approximated by the rep's own account balance.
	n.VoteCache.RepWeightQuery = func(rep types.Account) *big.Int {
		tx := n.Store.BeginRead()
		if info, ok := n.Ledger.AccountInfo(tx, rep); ok {
			return info.Balance
		}
		return new(big.Int)
	}

	processorConfig := processor.DefaultConfig()
	if netID == message.NetworkLive {
		processorConfig.WorkThreshold = ledger.WorkThresholdLive
	}
	n.Processor = processor.New(processorConfig, n.Ledger, n.WriteQueue, n.Stats, n.History, n.Active)

	networkConfig := net.DefaultConfig()
	networkConfig.Network = netID
	networkConfig.ListenAddr = cfg.ListenAddr
	n.Network = net.New(networkConfig, n.nodeKey, types.ZERO_HASH, n.Stats)

	n.Server = bootstrap.NewServer(n.Ledger, netID, n.Stats)
	n.Bootstrap = bootstrap.NewService(cfg.Ascending(), n.Ledger, n.Processor, n.Network.Peers, netID, n.Stats)

	n.Buckets = scheduler.NewBuckets(n.Ledger, n.Active, n.Stats)
	n.Hinted = scheduler.NewHinted(scheduler.DefaultHintedConfig(), n.Ledger, n.VoteCache, n.Active, n.OnlineReps, n.Stats)
	n.Hinted.BootstrapHash = n.Bootstrap.RequestBlock

	n.Broadcaster = broadcast.New(broadcast.DefaultConfig(), n.Ledger, n.Processor, n.Network, n.Stats)

	// Every newly applied block is re-queued in the vote cache so the hinted
	// scheduler reconsiders votes that arrived before the block.
	n.Processor.OnBatchProcessed(func(batch []processor.Processed) {
		for i := range batch {
			if batch[i].Result != ledger.Progress {
				continue
			}
			// New votes may already be cached for this block; requeue it for
			// the hinted scheduler.
			n.VoteCache.Trigger(batch[i].Block.Hash())
		}
	})

	n.Network.SetHandlers(net.Handlers{
		Publish: func(m *message.Publish, _ net.Channel) {
			n.Processor.Add(m.Block, processor.SourceLive)
		},
		ConfirmAck: func(m *message.ConfirmAck, _ net.Channel) {
			if !m.Vote.Validate() {
				return
			}
			n.Stats.IncDir(stats.TypeVoteCache, stats.DetailVote, stats.DirIn)
			for _, hash := range m.Vote.Hashes {
				n.VoteCache.Vote(hash, m.Vote)
			}
		},
		AscPullReq: func(m *message.AscPullReq, channel net.Channel) {
			n.Server.Request(m, channel)
		},
		AscPullAck: func(m *message.AscPullAck, channel net.Channel) {
			n.Bootstrap.Process(m, channel)
		},
		TelemetryReq: func(_ *message.TelemetryReq, channel net.Channel) {
			channel.Send(n.telemetryAck(), nil, net.DropPolicyLimiter, net.TrafficGeneric)
		},
		Keepalive: func(m *message.Keepalive, _ net.Channel) {
			// Peer discovery beyond the handshake is out of scope; the
			// endpoints still count for diagnostics.
			n.Stats.IncDir(stats.TypeMessage, stats.Detail("keepalive_endpoints"), stats.DirIn)
		},
	})

	return n, nil
}

func (n *Node) telemetryAck() *message.TelemetryAck {
	data := message.TelemetryData{
		BlockCount:      n.Ledger.BlockCount.Load(),
		ProtocolVersion: message.ProtocolVersion,
		PeerCount:       uint32(n.Network.Peers.Len()),
	}
	data.Sign(n.nodeKey)
	return message.NewTelemetryAck(n.Network.ID(), data)
}

func (n *Node) Start() error {
	n.log.Info("starting node", "network", n.cfg.Network, "listen", n.cfg.ListenAddr,
		"concurrency", HardwareConcurrency())

	if err := n.Network.Start(); err != nil {
		return err
	}
	n.Processor.Start()
	n.Server.Start()
	n.Buckets.Start()
	n.Hinted.Start()
	n.Broadcaster.Start()
	n.Bootstrap.Start()
	return nil
}

// Stop joins components in reverse dependency order: bootstrap strategies
// first, the store last. Safe to call twice.
func (n *Node) Stop() {
	n.log.Info("stopping node")

	n.Bootstrap.Stop()
	n.Broadcaster.Stop()
	n.Hinted.Stop()
	n.Buckets.Stop()
	n.Server.Stop()
	n.Processor.Stop()
	n.Network.Stop()
	n.Store.Close()
}
