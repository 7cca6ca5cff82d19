// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ice

import (
	"net"

	"go.uber.org/zap/zapcore"
)

// CandidatePair is the selected (local, remote) pair. Conn is connected to the
// remote address and owns the socket of the local candidate.
type CandidatePair struct {
	Local  Candidate
	Remote Candidate
	Conn   net.Conn
}

// Priority is the RFC 8445 pair priority with the local side as controlling agent.
func (p *CandidatePair) Priority() uint64 {
	g := uint64(p.Local.Priority)
	d := uint64(p.Remote.Priority)
	var b uint64
	if g > d {
		b = 1
	}
	return min(g, d)<<32 + max(g, d)<<1 + b
}

func (p *CandidatePair) Close() error {
	if p == nil || p.Conn == nil {
		return nil
	}
	return p.Conn.Close()
}

func (p *CandidatePair) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if p == nil {
		return nil
	}
	if err := e.AddObject("local", p.Local); err != nil {
		return err
	}
	return e.AddObject("remote", p.Remote)
}

// ------------------------------------------------

// connectedConn pins a packet socket to one peer. Writes go to the peer.
// Datagrams from other sources and late probes are dropped on read.
type connectedConn struct {
	net.PacketConn
	remote *net.UDPAddr
}

func newConnectedConn(conn net.PacketConn, remote *net.UDPAddr) *connectedConn {
	return &connectedConn{
		PacketConn: conn,
		remote:     remote,
	}
}

// ConnectPacketConn returns conn as a net.Conn talking only to remote.
func ConnectPacketConn(conn net.PacketConn, remote *net.UDPAddr) net.Conn {
	return newConnectedConn(conn, remote)
}

func (c *connectedConn) Read(b []byte) (int, error) {
	for {
		n, from, err := c.PacketConn.ReadFrom(b)
		if err != nil {
			return n, err
		}
		if isSameAddr(from, c.remote) && !IsProbe(b[:n]) {
			return n, nil
		}
	}
}

func (c *connectedConn) Write(b []byte) (int, error) {
	return c.PacketConn.WriteTo(b, c.remote)
}

func (c *connectedConn) RemoteAddr() net.Addr {
	return c.remote
}

func isSameAddr(a net.Addr, b *net.UDPAddr) bool {
	ua, ok := a.(*net.UDPAddr)
	if !ok {
		return a.String() == b.String()
	}
	return ua.Port == b.Port && ua.IP.Equal(b.IP)
}
