package net

import (
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/inconshreveable/log15"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/crypto"
	"github.com/nanoledger/go-nano/ledger"
	"github.com/nanoledger/go-nano/message"
	"github.com/nanoledger/go-nano/stats"
)

type Config struct {
	Network    message.Network
	ListenAddr string
	CookieTTL  time.Duration
	FloodScale float64
	Limiter    LimiterConfig
}

func DefaultConfig() Config {
	return Config{
		Network:    message.NetworkLive,
		ListenAddr: ":7075",
		CookieTTL:  30 * time.Second,
		FloodScale: 1.0,
		Limiter:    DefaultLimiterConfig(),
	}
}

// Handlers receives parsed inbound messages. Unset handlers drop their
// message type. All handlers run on the channel's reader goroutine.
type Handlers struct {
	Publish      func(*message.Publish, Channel)
	ConfirmReq   func(*message.ConfirmReq, Channel)
	ConfirmAck   func(*message.ConfirmAck, Channel)
	AscPullReq   func(*message.AscPullReq, Channel)
	AscPullAck   func(*message.AscPullAck, Channel)
	TelemetryReq func(*message.TelemetryReq, Channel)
	TelemetryAck func(*message.TelemetryAck, Channel)
	Keepalive    func(*message.Keepalive, Channel)
}

// Network owns the listener, the peer set and message dispatch. Every
// connection performs the node-id handshake before its channel joins the peer
// set.
type Network struct {
	cfg     Config
	stats   *stats.Stats
	log     log15.Logger
	nodeKey crypto.KeyPair
	genesis types.Hash

	Limiter *OutboundLimiter
	Peers   *PeerSet
	cookies *CookieJar

	handlers Handlers

	// recentPublishes drops duplicate publish floods before they hit the
	// block processor.
	recentPublishes *lru.Cache

	mu       sync.Mutex
	listener net.Listener
	conns    map[*TCPChannel]struct{}
	term     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, nodeKey crypto.KeyPair, genesis types.Hash, st *stats.Stats) *Network {
	recent, _ := lru.New(65536)
	return &Network{
		cfg:             cfg,
		stats:           st,
		log:             log15.New("module", "network"),
		nodeKey:         nodeKey,
		genesis:         genesis,
		Limiter:         NewOutboundLimiter(cfg.Limiter),
		Peers:           NewPeerSet(),
		cookies:         NewCookieJar(cfg.CookieTTL),
		recentPublishes: recent,
		conns:           make(map[*TCPChannel]struct{}),
		term:            make(chan struct{}),
	}
}

// SetHandlers must run before Start.
func (n *Network) SetHandlers(h Handlers) {
	n.handlers = h
}

func (n *Network) Start() error {
	listener, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.listener = listener
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.acceptLoop(listener)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.keepaliveLoop()
	}()
	return nil
}

func (n *Network) keepaliveLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.term:
			return
		case <-ticker.C:
			n.FloodKeepalive()
		}
	}
}

func (n *Network) Stop() {
	n.stopOnce.Do(func() {
		close(n.term)
		n.mu.Lock()
		if n.listener != nil {
			n.listener.Close()
		}
		n.mu.Unlock()

		// Close every connection, handshaken or not, so readers unblock.
		n.mu.Lock()
		open := make([]*TCPChannel, 0, len(n.conns))
		for c := range n.conns {
			open = append(open, c)
		}
		n.mu.Unlock()
		for _, c := range open {
			c.Close()
		}
	})
	n.wg.Wait()
}

func (n *Network) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-n.term:
				return
			default:
				n.log.Debug("accept failed", "err", err)
				continue
			}
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.handleConnection(conn)
		}()
	}
}

// Connect dials a peer and runs the same handshake/receive path as inbound
// connections.
func (n *Network) Connect(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return err
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.handleConnection(conn)
	}()
	return nil
}

func (n *Network) handleConnection(conn net.Conn) {
	channel := NewTCPChannel(conn, n.Limiter, n.stats)
	n.mu.Lock()
	n.conns[channel] = struct{}{}
	n.mu.Unlock()
	defer func() {
		channel.Close()
		n.Peers.Remove(channel.Endpoint())
		n.mu.Lock()
		delete(n.conns, channel)
		n.mu.Unlock()
	}()

	// Open with a node-id query so the peer proves its identity.
	cookie := n.cookies.Assign(channel.Endpoint())
	query := &message.HandshakeQuery{Cookie: cookie}
	channel.Send(message.NewNodeIDHandshake(n.cfg.Network, query, nil), nil, DropPolicyNoDrop, TrafficGeneric)

	reader := NewMessageReader(conn, n.cfg.Network)
	for {
		select {
		case <-n.term:
			return
		default:
		}

		m, err := reader.Next()
		if err != nil {
			n.stats.IncDir(stats.TypeChannel, stats.Detail(wireErrorDetail(err)), stats.DirIn)
			n.log.Debug("closing channel", "endpoint", channel.Endpoint(), "err", err)
			return
		}
		n.stats.IncDir(stats.TypeMessage, stats.Detail(m.Header().Type.String()), stats.DirIn)
		n.dispatch(m, channel)
	}
}

func wireErrorDetail(err error) string {
	switch err {
	case message.ErrInvalidHeader:
		return "invalid_header"
	case message.ErrInvalidNetwork:
		return "invalid_network"
	case message.ErrInvalidType:
		return "invalid_type"
	case message.ErrOutdatedVersion:
		return "outdated_version"
	case message.ErrSizeTooLarge:
		return "size_too_large"
	}
	return "generic"
}

func (n *Network) dispatch(m message.Message, channel *TCPChannel) {
	channel.SetNetworkVersion(m.Header().VersionUsing)

	switch msg := m.(type) {
	case *message.NodeIDHandshake:
		n.processHandshake(msg, channel)
	case *message.Keepalive:
		if n.handlers.Keepalive != nil {
			n.handlers.Keepalive(msg, channel)
		}
	case *message.Publish:
		if n.DuplicatePublish(msg.Block.Hash()) {
			return
		}
		if n.handlers.Publish != nil {
			n.handlers.Publish(msg, channel)
		}
	case *message.ConfirmReq:
		if n.handlers.ConfirmReq != nil {
			n.handlers.ConfirmReq(msg, channel)
		}
	case *message.ConfirmAck:
		if n.handlers.ConfirmAck != nil {
			n.handlers.ConfirmAck(msg, channel)
		}
	case *message.AscPullReq:
		if n.handlers.AscPullReq != nil {
			n.handlers.AscPullReq(msg, channel)
		}
	case *message.AscPullAck:
		if n.handlers.AscPullAck != nil {
			n.handlers.AscPullAck(msg, channel)
		}
	case *message.TelemetryReq:
		if n.handlers.TelemetryReq != nil {
			n.handlers.TelemetryReq(msg, channel)
		}
	case *message.TelemetryAck:
		if n.handlers.TelemetryAck != nil {
			n.handlers.TelemetryAck(msg, channel)
		}
	}
}

func (n *Network) processHandshake(msg *message.NodeIDHandshake, channel *TCPChannel) {
	if msg.Query != nil {
		response := &message.HandshakeResponse{}
		if msg.IsV2() {
			v2 := &message.HandshakeResponseV2{Genesis: n.genesis}
			copy(v2.Salt[:], crypto.GetEntropyCSPRNG(32))
			response.V2 = v2
		}
		response.Sign(msg.Query.Cookie, n.nodeKey)
		reply := message.NewNodeIDHandshake(n.cfg.Network, nil, response)
		channel.Send(reply, nil, DropPolicyNoDrop, TrafficGeneric)
	}
	if msg.Response != nil {
		if !n.cookies.Validate(channel.Endpoint(), msg.Response) {
			n.log.Debug("handshake response failed validation", "endpoint", channel.Endpoint())
			channel.Close()
			return
		}
		channel.SetNodeID(msg.Response.NodeID)
		n.Peers.Add(channel)
	}
}

// DuplicatePublish records the hash and reports whether it was seen recently.
func (n *Network) DuplicatePublish(hash types.Hash) bool {
	seen, _ := n.recentPublishes.ContainsOrAdd(hash, struct{}{})
	return seen
}

// Network identifier this node speaks.
func (n *Network) ID() message.Network {
	return n.cfg.Network
}

/*
 * flooding
 */

// FloodBlock republished a block to a random sqrt fanout of peers.
func (n *Network) FloodBlock(blk ledger.Block, policy DropPolicy) {
	m := message.NewPublish(n.cfg.Network, blk)
	for _, c := range n.Peers.FanoutList(n.cfg.FloodScale) {
		c.Send(m, nil, policy, TrafficGeneric)
	}
}

// FloodBlockInitial pushes a locally originated block to every peer.
func (n *Network) FloodBlockInitial(blk ledger.Block) {
	m := message.NewPublish(n.cfg.Network, blk)
	for _, c := range n.Peers.List() {
		c.Send(m, nil, DropPolicyNoDrop, TrafficGeneric)
	}
}

// FloodKeepalive advertises a random subset of peers to everyone.
func (n *Network) FloodKeepalive() {
	m := message.NewKeepalive(n.cfg.Network)
	peers := n.Peers.List()
	for i := 0; i < len(m.Peers) && i < len(peers); i++ {
		m.Peers[i] = peers[i].Endpoint()
	}
	for _, c := range peers {
		c.Send(m, nil, DropPolicyLimiter, TrafficGeneric)
	}
}
