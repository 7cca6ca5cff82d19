package telemetry

import (
	"net"

	"github.com/pion/turn/v2"

	"github.com/livekit/streamlink/pkg/telemetry/prometheus"
)

// PacketConn counts the bytes relayed through a TURN allocation.
type PacketConn struct {
	net.PacketConn
}

func NewPacketConn(c net.PacketConn) *PacketConn {
	return &PacketConn{PacketConn: c}
}

func (c *PacketConn) ReadFrom(p []byte) (n int, addr net.Addr, err error) {
	n, addr, err = c.PacketConn.ReadFrom(p)
	if n > 0 {
		prometheus.IncrementRelayBytes(prometheus.Incoming, uint64(n))
	}
	return
}

func (c *PacketConn) WriteTo(p []byte, addr net.Addr) (n int, err error) {
	n, err = c.PacketConn.WriteTo(p, addr)
	if n > 0 {
		prometheus.IncrementRelayBytes(prometheus.Outgoing, uint64(n))
	}
	return
}

type Conn struct {
	net.Conn
}

func NewConn(c net.Conn) *Conn {
	return &Conn{Conn: c}
}

func (c *Conn) Read(b []byte) (n int, err error) {
	n, err = c.Conn.Read(b)
	if n > 0 {
		prometheus.IncrementRelayBytes(prometheus.Incoming, uint64(n))
	}
	return
}

func (c *Conn) Write(b []byte) (n int, err error) {
	n, err = c.Conn.Write(b)
	if n > 0 {
		prometheus.IncrementRelayBytes(prometheus.Outgoing, uint64(n))
	}
	return
}

// RelayAddressGenerator wraps every relayed socket handed out by the TURN
// server so relay traffic shows up in the byte counters.
type RelayAddressGenerator struct {
	turn.RelayAddressGenerator
}

func NewRelayAddressGenerator(g turn.RelayAddressGenerator) *RelayAddressGenerator {
	return &RelayAddressGenerator{RelayAddressGenerator: g}
}

func (g *RelayAddressGenerator) AllocatePacketConn(network string, requestedPort int) (net.PacketConn, net.Addr, error) {
	conn, addr, err := g.RelayAddressGenerator.AllocatePacketConn(network, requestedPort)
	if err != nil {
		return nil, addr, err
	}

	return NewPacketConn(conn), addr, err
}

func (g *RelayAddressGenerator) AllocateConn(network string, requestedPort int) (net.Conn, net.Addr, error) {
	conn, addr, err := g.RelayAddressGenerator.AllocateConn(network, requestedPort)
	if err != nil {
		return nil, addr, err
	}

	return NewConn(conn), addr, err
}
