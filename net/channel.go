package net

import (
	"net"
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/message"
	"github.com/nanoledger/go-nano/stats"
)

var (
	// ErrNotSupported reports a message dropped by the outbound limiter.
	ErrNotSupported = errors.New("not supported")
	ErrChannelClosed = errors.New("channel closed")
)

func timeNow() time.Time { return time.Now() }

// SendCallback is invoked exactly once per Send: with the flushed byte count
// on success, ErrNotSupported on a limiter drop (never on the caller's
// stack), or the I/O error on socket failure.
type SendCallback func(err error, size int)

// Channel is one peer connection. Sends serialize once and enqueue on the
// lane's bounded queue; receive dispatch happens in the network's reader.
type Channel interface {
	Send(m message.Message, callback SendCallback, policy DropPolicy, traffic TrafficType)
	// Max reports whether the lane's send queue is full.
	Max(traffic TrafficType) bool
	Alive() bool
	NetworkVersion() byte
	NodeID() types.Account
	Endpoint() types.Endpoint
	Close()
}

const (
	genericQueueMax   = 128
	bootstrapQueueMax = 16
)

var bufferID atomic.Uint64

type sendEntry struct {
	buf      []byte
	callback SendCallback
	id       uint64
}

var _ Channel = (*TCPChannel)(nil)

// TCPChannel owns one socket. A single writer goroutine drains the two lane
// queues (generic first) so callers never block on the wire.
type TCPChannel struct {
	conn    net.Conn
	limiter *OutboundLimiter
	stats   *stats.Stats
	log     log15.Logger

	nodeID         types.Account
	networkVersion byte
	endpoint       types.Endpoint

	mu        sync.Mutex
	cond      *sync.Cond
	generic   []sendEntry
	bootstrap []sendEntry
	closed    bool

	wg sync.WaitGroup
}

func NewTCPChannel(conn net.Conn, limiter *OutboundLimiter, st *stats.Stats) *TCPChannel {
	c := &TCPChannel{
		conn:           conn,
		limiter:        limiter,
		stats:          st,
		log:            log15.New("module", "channel"),
		networkVersion: message.ProtocolVersion,
	}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		c.endpoint = types.TCPAddrToEndpoint(addr)
	}
	c.cond = sync.NewCond(&c.mu)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()
	return c
}

func (c *TCPChannel) SetNodeID(id types.Account)     { c.nodeID = id }
func (c *TCPChannel) SetNetworkVersion(version byte) { c.networkVersion = version }

func (c *TCPChannel) NodeID() types.Account    { return c.nodeID }
func (c *TCPChannel) NetworkVersion() byte     { return c.networkVersion }
func (c *TCPChannel) Endpoint() types.Endpoint { return c.endpoint }

func (c *TCPChannel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *TCPChannel) Max(traffic TrafficType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if traffic == TrafficBootstrap {
		return len(c.bootstrap) >= bootstrapQueueMax
	}
	return len(c.generic) >= genericQueueMax
}

// Send serializes the message once, consults the outbound limiter and either
// queues the bytes or drops. The callback never runs on the caller's stack.
func (c *TCPChannel) Send(m message.Message, callback SendCallback, policy DropPolicy, traffic TrafficType) {
	buf, err := message.ToBytes(m)
	if err != nil {
		if callback != nil {
			go callback(err, 0)
		}
		return
	}

	id := bufferID.Inc()
	droppable := policy == DropPolicyLimiter
	shouldPass := c.limiter.ShouldPass(len(buf), traffic)
	send := !droppable || shouldPass

	c.log.Debug("send", "type", m.Header().Type, "endpoint", c.endpoint, "dropped", !send,
		"traffic_type", traffic, "size", len(buf), "buffer_id", id)

	if !send {
		c.stats.IncDir(stats.TypeDrop, stats.Detail(m.Header().Type.String()), stats.DirOut)
		if callback != nil {
			// Posted so the completion is never reentrant.
			go callback(ErrNotSupported, 0)
		}
		return
	}

	c.stats.IncDir(stats.TypeMessage, stats.Detail(m.Header().Type.String()), stats.DirOut)
	msgType := m.Header().Type
	c.enqueue(sendEntry{buf: buf, id: id, callback: func(err error, size int) {
		c.log.Debug("send_result", "type", msgType, "error", err, "size", size, "buffer_id", id, "success", err == nil)
		if callback != nil {
			callback(err, size)
		}
	}}, traffic)
}

func (c *TCPChannel) enqueue(e sendEntry, traffic TrafficType) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		go e.callback(ErrChannelClosed, 0)
		return
	}
	if traffic == TrafficBootstrap {
		c.bootstrap = append(c.bootstrap, e)
	} else {
		c.generic = append(c.generic, e)
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *TCPChannel) next() (sendEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.closed && len(c.generic) == 0 && len(c.bootstrap) == 0 {
		c.cond.Wait()
	}
	if len(c.generic) > 0 {
		e := c.generic[0]
		c.generic = c.generic[1:]
		return e, true
	}
	if len(c.bootstrap) > 0 {
		e := c.bootstrap[0]
		c.bootstrap = c.bootstrap[1:]
		return e, true
	}
	return sendEntry{}, false
}

func (c *TCPChannel) writeLoop() {
	for {
		e, ok := c.next()
		if !ok {
			return
		}
		n, err := c.conn.Write(e.buf)
		if err != nil {
			e.callback(err, n)
			c.Close()
			return
		}
		e.callback(nil, n)
	}
}

// Close is idempotent: pending sends complete with ErrChannelClosed. It does
// not wait for the writer goroutine, which exits on its own once the queues
// are empty and the socket is closed.
func (c *TCPChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := append(c.generic, c.bootstrap...)
	c.generic = nil
	c.bootstrap = nil
	c.mu.Unlock()
	c.cond.Broadcast()

	c.conn.Close()
	for _, e := range pending {
		go e.callback(ErrChannelClosed, 0)
	}
}
