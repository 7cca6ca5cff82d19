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

package turn

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/stun"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"
)

const (
	testUsername = "streamer"
	testPassword = "hunter2"
	testRealm    = "streamlink.test"
)

var testRelayedAddr = &net.UDPAddr{IP: net.IPv4(198, 51, 100, 9).To4(), Port: 49200}

// fakeServer answers requests with a handler. It records every request it sees.
type fakeServer struct {
	conn    net.PacketConn
	handler func(req *stun.Message) *stun.Message

	lock     sync.Mutex
	requests []*stun.Message
	done     chan struct{}
}

func newFakeServer(t *testing.T, handler func(req *stun.Message) *stun.Message) *fakeServer {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{
		conn:    conn,
		handler: handler,
		done:    make(chan struct{}),
	}
	go s.serve()
	t.Cleanup(func() {
		_ = s.conn.Close()
		<-s.done
	})
	return s
}

func (s *fakeServer) serve() {
	defer close(s.done)

	buf := make([]byte, 1500)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		req := &stun.Message{Raw: append([]byte{}, buf[:n]...)}
		if err := req.Decode(); err != nil {
			continue
		}
		s.lock.Lock()
		s.requests = append(s.requests, req)
		s.lock.Unlock()

		if res := s.handler(req); res != nil {
			_, _ = s.conn.WriteTo(res.Raw, from)
		}
	}
}

func (s *fakeServer) requestsFor(method stun.Method) []*stun.Message {
	s.lock.Lock()
	defer s.lock.Unlock()

	var reqs []*stun.Message
	for _, req := range s.requests {
		if req.Type.Method == method {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

func (s *fakeServer) addr() string {
	return s.conn.LocalAddr().String()
}

func errorResponse(req *stun.Message, code stun.ErrorCode, setters ...stun.Setter) *stun.Message {
	all := []stun.Setter{
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.NewType(req.Type.Method, stun.ClassErrorResponse),
		&stun.ErrorCodeAttribute{Code: code, Reason: []byte("error")},
	}
	m, _ := stun.Build(append(all, setters...)...)
	return m
}

func successResponse(req *stun.Message, setters ...stun.Setter) *stun.Message {
	all := []stun.Setter{
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.NewType(req.Type.Method, stun.ClassSuccessResponse),
	}
	m, _ := stun.Build(append(all, setters...)...)
	return m
}

func allocateSuccess(req *stun.Message, integrity stun.MessageIntegrity) *stun.Message {
	return successResponse(
		req,
		RelayedAddress{IP: testRelayedAddr.IP, Port: testRelayedAddr.Port},
		&stun.XORMappedAddress{IP: net.IPv4(203, 0, 113, 1), Port: 40000},
		Lifetime{10 * time.Minute},
		integrity,
	)
}

func newTestClient(t *testing.T, server string) *Client {
	c, err := NewClient(ClientParams{
		Config: ClientConfig{
			Server:         server,
			Username:       testUsername,
			Password:       testPassword,
			RequestTimeout: 200 * time.Millisecond,
			MaxAttempts:    3,
		},
		Logger: logger.GetLogger(),
	})
	require.NoError(t, err)
	return c
}

func TestAllocateChallenge(t *testing.T) {
	integrity := stun.NewLongTermIntegrity(testUsername, testRealm, testPassword)

	var (
		lock     sync.Mutex
		verified []bool
	)
	server := newFakeServer(t, func(req *stun.Message) *stun.Message {
		if req.Type.Method == stun.MethodRefresh {
			return successResponse(req, Lifetime{0}, integrity)
		}
		if !req.Contains(stun.AttrMessageIntegrity) {
			return errorResponse(req, stun.CodeUnauthorized, stun.NewRealm(testRealm), stun.NewNonce("nonce-1"))
		}

		lock.Lock()
		verified = append(verified, integrity.Check(req) == nil)
		lock.Unlock()
		return allocateSuccess(req, integrity)
	})

	c := newTestClient(t, server.addr())
	allocation, err := c.Allocate(context.Background())
	require.NoError(t, err)
	require.Equal(t, testRelayedAddr.String(), allocation.RelayedAddr.String())
	require.Equal(t, "203.0.113.1:40000", allocation.MappedAddr.String())
	require.Equal(t, 10*time.Minute, allocation.Lifetime)

	// exactly one authenticated retry
	reqs := server.requestsFor(stun.MethodAllocate)
	require.Len(t, reqs, 2)
	require.False(t, reqs[0].Contains(stun.AttrMessageIntegrity))
	require.True(t, reqs[1].Contains(stun.AttrMessageIntegrity))
	require.NotEqual(t, reqs[0].TransactionID, reqs[1].TransactionID)

	var (
		username stun.Username
		realm    stun.Realm
		nonce    stun.Nonce
	)
	require.NoError(t, username.GetFrom(reqs[1]))
	require.NoError(t, realm.GetFrom(reqs[1]))
	require.NoError(t, nonce.GetFrom(reqs[1]))
	require.Equal(t, testUsername, username.String())
	require.Equal(t, testRealm, realm.String())
	require.Equal(t, "nonce-1", nonce.String())

	transport, err := reqs[1].Get(stun.AttrRequestedTransport)
	require.NoError(t, err)
	require.Equal(t, []byte{ProtoUDP, 0, 0, 0}, transport)

	lock.Lock()
	require.Equal(t, []bool{true}, verified)
	lock.Unlock()

	_, err = c.Allocate(context.Background())
	require.ErrorIs(t, err, ErrAlreadyAllocated)

	// close deletes the allocation
	require.NoError(t, c.Close())
	refreshes := server.requestsFor(stun.MethodRefresh)
	require.Len(t, refreshes, 1)
	var lifetime Lifetime
	require.NoError(t, lifetime.GetFrom(refreshes[0]))
	require.Zero(t, lifetime.Duration)
	_, ok := c.Allocation()
	require.False(t, ok)
}

func TestAllocateStaleNonce(t *testing.T) {
	integrity := stun.NewLongTermIntegrity(testUsername, testRealm, testPassword)
	server := newFakeServer(t, func(req *stun.Message) *stun.Message {
		if !req.Contains(stun.AttrMessageIntegrity) {
			return errorResponse(req, stun.CodeUnauthorized, stun.NewRealm(testRealm), stun.NewNonce("nonce-1"))
		}
		var nonce stun.Nonce
		if err := nonce.GetFrom(req); err != nil || nonce.String() != "nonce-2" {
			return errorResponse(req, stun.CodeStaleNonce, stun.NewRealm(testRealm), stun.NewNonce("nonce-2"))
		}
		if req.Type.Method == stun.MethodRefresh {
			return successResponse(req, Lifetime{0}, integrity)
		}
		return allocateSuccess(req, integrity)
	})

	c := newTestClient(t, server.addr())
	_, err := c.Allocate(context.Background())
	require.NoError(t, err)
	require.Len(t, server.requestsFor(stun.MethodAllocate), 3)
	require.NoError(t, c.Close())
}

func TestAllocateFailures(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		server := newFakeServer(t, func(req *stun.Message) *stun.Message {
			return nil
		})

		c := newTestClient(t, server.addr())
		defer c.Close()

		start := time.Now()
		_, err := c.Allocate(context.Background())
		require.ErrorIs(t, err, ErrTransactionTimeout)
		require.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)

		// retransmissions keep the transaction id
		require.Eventually(t, func() bool {
			return len(server.requestsFor(stun.MethodAllocate)) == 3
		}, time.Second, 10*time.Millisecond)
		reqs := server.requestsFor(stun.MethodAllocate)
		require.Equal(t, reqs[0].TransactionID, reqs[1].TransactionID)
		require.Equal(t, reqs[0].TransactionID, reqs[2].TransactionID)
	})

	t.Run("rejected", func(t *testing.T) {
		server := newFakeServer(t, func(req *stun.Message) *stun.Message {
			return errorResponse(req, stun.CodeForbidden)
		})

		c := newTestClient(t, server.addr())
		defer c.Close()

		_, err := c.Allocate(context.Background())
		require.ErrorIs(t, err, ErrErrorResponse)
		_, ok := c.Allocation()
		require.False(t, ok)
	})

	t.Run("bad credentials", func(t *testing.T) {
		integrity := stun.NewLongTermIntegrity(testUsername, testRealm, "other")
		server := newFakeServer(t, func(req *stun.Message) *stun.Message {
			if !req.Contains(stun.AttrMessageIntegrity) || integrity.Check(req) != nil {
				return errorResponse(req, stun.CodeUnauthorized, stun.NewRealm(testRealm), stun.NewNonce("nonce-1"))
			}
			return allocateSuccess(req, integrity)
		})

		c := newTestClient(t, server.addr())
		defer c.Close()

		_, err := c.Allocate(context.Background())
		require.ErrorIs(t, err, ErrErrorResponse)
		require.Len(t, server.requestsFor(stun.MethodAllocate), 2)
	})

	t.Run("not allocated", func(t *testing.T) {
		server := newFakeServer(t, func(req *stun.Message) *stun.Message {
			return nil
		})

		c := newTestClient(t, server.addr())
		require.ErrorIs(t, c.CreatePermission(context.Background(), net.IPv4(1, 1, 1, 1)), ErrNotAllocated)
		require.ErrorIs(t, c.Refresh(context.Background(), time.Minute), ErrNotAllocated)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		_, err := c.Allocate(context.Background())
		require.ErrorIs(t, err, ErrClientClosed)
		require.ErrorIs(t, c.SendData([]byte("x"), &net.UDPAddr{IP: net.IPv4(1, 1, 1, 1), Port: 1}), ErrClientClosed)
	})
}

// newAllocatedClient returns a client holding an allocation on a fake server
// that grants every refresh as requested.
func newAllocatedClient(t *testing.T) (*Client, *fakeServer) {
	integrity := stun.NewLongTermIntegrity(testUsername, testRealm, testPassword)
	server := newFakeServer(t, func(req *stun.Message) *stun.Message {
		if !req.Contains(stun.AttrMessageIntegrity) {
			return errorResponse(req, stun.CodeUnauthorized, stun.NewRealm(testRealm), stun.NewNonce("nonce-1"))
		}
		if req.Type.Method == stun.MethodRefresh {
			var lifetime Lifetime
			_ = lifetime.GetFrom(req)
			return successResponse(req, lifetime, integrity)
		}
		return allocateSuccess(req, integrity)
	})

	c := newTestClient(t, server.addr())
	t.Cleanup(func() {
		_ = c.Close()
	})
	_, err := c.Allocate(context.Background())
	require.NoError(t, err)
	return c, server
}

func (s *fakeServer) sendData(t *testing.T, c *Client, peer *net.UDPAddr, payload []byte) {
	msg, err := stun.Build(
		stun.TransactionID,
		stun.NewType(stun.MethodData, stun.ClassIndication),
		PeerAddress{IP: peer.IP, Port: peer.Port},
		Data(payload),
	)
	require.NoError(t, err)

	to := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: c.LocalAddr().(*net.UDPAddr).Port}
	_, err = s.conn.WriteTo(msg.Raw, to)
	require.NoError(t, err)
}

func TestDataIndicationFullDatagram(t *testing.T) {
	c, server := newAllocatedClient(t)
	peer := &net.UDPAddr{IP: net.IPv4(198, 51, 100, 20), Port: 5000}

	// 1500 byte MTU minus IPv4 and UDP headers
	payload := make([]byte, 1472)
	for i := range payload {
		payload[i] = byte(i)
	}
	server.sendData(t, c, peer, payload)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := c.ReadData(ctx)
	require.NoError(t, err)
	require.Equal(t, payload, []byte(d.Payload))
	require.Equal(t, peer.String(), d.Peer.String())
}

func TestAllocationSnapshot(t *testing.T) {
	c, _ := newAllocatedClient(t)

	before, ok := c.Allocation()
	require.True(t, ok)
	require.Equal(t, 10*time.Minute, before.Lifetime)

	require.NoError(t, c.Refresh(context.Background(), 3*time.Minute))
	require.Equal(t, 10*time.Minute, before.Lifetime)

	after, ok := c.Allocation()
	require.True(t, ok)
	require.Equal(t, 3*time.Minute, after.Lifetime)

	// callers cannot change what the client holds
	after.Lifetime = time.Hour
	current, ok := c.Allocation()
	require.True(t, ok)
	require.Equal(t, 3*time.Minute, current.Lifetime)
}
