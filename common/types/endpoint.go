package types

import (
	"fmt"
	"net"
)

const (
	EndpointSize = 18 // 16 byte v6 address + 2 byte port
)

// Endpoint is a peer address as it travels on the wire: an IPv6 (or v4-mapped)
// address plus port.
type Endpoint struct {
	Addr [16]byte
	Port uint16
}

var ZERO_ENDPOINT = Endpoint{}

func TCPAddrToEndpoint(addr *net.TCPAddr) Endpoint {
	var e Endpoint
	copy(e.Addr[:], addr.IP.To16())
	e.Port = uint16(addr.Port)
	return e
}

func (e Endpoint) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IP(e.Addr[:]), Port: int(e.Port)}
}

func (e Endpoint) IsZero() bool {
	return e == ZERO_ENDPOINT
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%v", e.TCPAddr())
}
