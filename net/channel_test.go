package net

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoledger/go-nano/common/types"
	"github.com/nanoledger/go-nano/message"
	"github.com/nanoledger/go-nano/stats"
)

// drainingPipe returns a channel over a pipe whose read side is consumed into
// sink, so writes never block.
func drainingPipe(t *testing.T, limiter *OutboundLimiter) (*TCPChannel, chan []byte) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })

	sink := make(chan []byte, 64)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := remote.Read(buf)
			if n > 0 {
				out := make([]byte, n)
				copy(out, buf[:n])
				sink <- out
			}
			if err != nil {
				close(sink)
				return
			}
		}
	}()

	channel := NewTCPChannel(local, limiter, stats.New())
	t.Cleanup(channel.Close)
	return channel, sink
}

func TestChannelSendFlushes(t *testing.T) {
	channel, sink := drainingPipe(t, NewOutboundLimiter(DefaultLimiterConfig()))

	done := make(chan struct{})
	var sentBytes int
	channel.Send(message.NewKeepalive(message.NetworkDev), func(err error, size int) {
		assert.NoError(t, err)
		sentBytes = size
		close(done)
	}, DropPolicyNoDrop, TrafficGeneric)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send never completed")
	}
	assert.Equal(t, 152, sentBytes)

	select {
	case data := <-sink:
		assert.Equal(t, 152, len(data))
	case <-time.After(time.Second):
		t.Fatal("no bytes reached the socket")
	}
}

// A limiter drop must invoke the completion asynchronously with
// ErrNotSupported and write nothing to the socket.
func TestChannelLimiterDrop(t *testing.T) {
	// A bucket too small for any keepalive.
	limiter := NewOutboundLimiter(LimiterConfig{
		StandardLimit: 1, StandardBurst: 1,
		BootstrapLimit: 1, BootstrapBurst: 1,
	})
	channel, sink := drainingPipe(t, limiter)

	type completion struct {
		err  error
		size int
	}
	done := make(chan completion, 1)

	channel.Send(message.NewKeepalive(message.NetworkDev), func(err error, size int) {
		done <- completion{err: err, size: size}
	}, DropPolicyLimiter, TrafficGeneric)

	select {
	case c := <-done:
		assert.Equal(t, ErrNotSupported, c.err)
		assert.Equal(t, 0, c.size)
	case <-time.After(time.Second):
		t.Fatal("drop completion never fired")
	}

	select {
	case data := <-sink:
		t.Fatalf("unexpected %d bytes on the socket", len(data))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelNoDropBypassesLimiter(t *testing.T) {
	limiter := NewOutboundLimiter(LimiterConfig{
		StandardLimit: 1, StandardBurst: 1,
		BootstrapLimit: 1, BootstrapBurst: 1,
	})
	channel, sink := drainingPipe(t, limiter)

	done := make(chan error, 1)
	channel.Send(message.NewKeepalive(message.NetworkDev), func(err error, _ int) {
		done <- err
	}, DropPolicyNoDrop, TrafficGeneric)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send never completed")
	}
	<-sink
}

func TestChannelCloseIdempotent(t *testing.T) {
	channel, _ := drainingPipe(t, NewOutboundLimiter(DefaultLimiterConfig()))
	channel.Close()
	channel.Close()
	assert.False(t, channel.Alive())
}

func TestMessageReaderRejectsForeignNetwork(t *testing.T) {
	buf, err := message.ToBytes(message.NewKeepalive(message.NetworkBeta))
	require.NoError(t, err)

	local, remote := net.Pipe()
	defer local.Close()
	go func() {
		remote.Write(buf)
		remote.Close()
	}()

	reader := NewMessageReader(local, message.NetworkLive)
	_, err = reader.Next()
	assert.Equal(t, message.ErrInvalidNetwork, err)
}

func TestMessageReaderRoundTrip(t *testing.T) {
	frame, err := message.ToBytes(message.NewKeepalive(message.NetworkLive))
	require.NoError(t, err)

	local, remote := net.Pipe()
	defer local.Close()
	go func() {
		remote.Write(frame)
		remote.Write(frame)
		remote.Close()
	}()

	reader := NewMessageReader(local, message.NetworkLive)
	for i := 0; i < 2; i++ {
		m, err := reader.Next()
		require.NoError(t, err)
		assert.Equal(t, message.TypeKeepalive, m.Header().Type)
	}
	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestCookieJar(t *testing.T) {
	jar := NewCookieJar(time.Minute)
	// Distinct endpoints get distinct cookies.
	a := jar.Assign(types.Endpoint{Port: 1})
	b := jar.Assign(types.Endpoint{Port: 2})
	assert.NotEqual(t, a, b)
}
