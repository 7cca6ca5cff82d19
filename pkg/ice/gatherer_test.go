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
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v2"
	"github.com/pion/transport/v2/vnet"
	"github.com/pion/turn/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"
)

const (
	testSTUNServerIP = "1.2.3.4"
	testNATPublicIP  = "5.6.7.8"
)

type natTopology struct {
	wan     *vnet.Router
	lanNet  *vnet.Net
	stun    *turn.Server
	stunURL string
}

func newNATTopology(t *testing.T) *natTopology {
	loggerFactory := logging.NewDefaultLoggerFactory()

	wan, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "0.0.0.0/0",
		LoggerFactory: loggerFactory,
	})
	require.NoError(t, err)

	wanNet, err := vnet.NewNet(&vnet.NetConfig{StaticIP: testSTUNServerIP})
	require.NoError(t, err)
	require.NoError(t, wan.AddNet(wanNet))

	lan, err := vnet.NewRouter(&vnet.RouterConfig{
		StaticIPs: []string{testNATPublicIP},
		CIDR:      "192.168.0.0/24",
		NATType: &vnet.NATType{
			MappingBehavior:   vnet.EndpointIndependent,
			FilteringBehavior: vnet.EndpointIndependent,
		},
		LoggerFactory: loggerFactory,
	})
	require.NoError(t, err)
	require.NoError(t, wan.AddRouter(lan))

	lanNet, err := vnet.NewNet(&vnet.NetConfig{})
	require.NoError(t, err)
	require.NoError(t, lan.AddNet(lanNet))

	require.NoError(t, wan.Start())

	stunConn, err := wanNet.ListenPacket("udp4", testSTUNServerIP+":3478")
	require.NoError(t, err)
	server, err := turn.NewServer(turn.ServerConfig{
		Realm: "streamlink",
		AuthHandler: func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
			return nil, false
		},
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: stunConn,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: net.ParseIP(testSTUNServerIP),
					Address:      "0.0.0.0",
					Net:          wanNet,
				},
			},
		},
		LoggerFactory: loggerFactory,
	})
	require.NoError(t, err)

	topo := &natTopology{
		wan:     wan,
		lanNet:  lanNet,
		stun:    server,
		stunURL: "stun:" + testSTUNServerIP + ":3478",
	}
	t.Cleanup(func() {
		_ = topo.stun.Close()
		_ = topo.wan.Stop()
	})
	return topo
}

func TestGatherer(t *testing.T) {
	t.Run("host and server reflexive behind nat", func(t *testing.T) {
		topo := newNATTopology(t)

		g := NewGatherer(GathererParams{
			Config: GathererConfig{
				STUNServers:  []string{topo.stunURL},
				STUNTimeout:  time.Second,
				STUNAttempts: 2,
			},
			Net:    topo.lanNet,
			Logger: logger.GetLogger(),
		})
		defer g.Sockets().Close()

		candidates, err := g.Gather(context.Background())
		require.NoError(t, err)
		require.Len(t, candidates, 2)
		require.Equal(t, candidates, g.Candidates())
		require.Equal(t, 1, g.Sockets().Len())

		var host, srflx *Candidate
		for i := range candidates {
			switch candidates[i].Kind {
			case CandidateKindHost:
				host = &candidates[i]
			case CandidateKindServerReflexive:
				srflx = &candidates[i]
			}
		}
		require.NotNil(t, host)
		require.NotNil(t, srflx)
		require.True(t, host.IP.Equal(net.ParseIP("192.168.0.1")))
		require.Equal(t, uint16(maxLocalPreference), host.LocalPref)
		require.True(t, srflx.IP.Equal(net.ParseIP(testNATPublicIP)))
		require.Equal(t, host.SocketID, srflx.SocketID)
		require.Greater(t, host.Priority, srflx.Priority)
		require.NotEqual(t, host.Foundation, srflx.Foundation)
	})

	t.Run("unreachable stun server is skipped", func(t *testing.T) {
		topo := newNATTopology(t)

		g := NewGatherer(GathererParams{
			Config: GathererConfig{
				STUNServers:  []string{"1.2.3.99"},
				STUNTimeout:  100 * time.Millisecond,
				STUNAttempts: 1,
			},
			Net: topo.lanNet,
		})
		defer g.Sockets().Close()

		candidates, err := g.Gather(context.Background())
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		require.Equal(t, CandidateKindHost, candidates[0].Kind)
	})

	t.Run("interface that fails to bind is skipped", func(t *testing.T) {
		lan, err := vnet.NewRouter(&vnet.RouterConfig{
			CIDR:          "192.168.1.0/24",
			LoggerFactory: logging.NewDefaultLoggerFactory(),
		})
		require.NoError(t, err)
		nw, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"192.168.1.10", "192.168.1.11"}})
		require.NoError(t, err)
		require.NoError(t, lan.AddNet(nw))
		require.NoError(t, lan.Start())
		defer func() {
			_ = lan.Stop()
		}()

		g := NewGatherer(GathererParams{
			Net: &bindFailureNet{Net: nw, failIP: net.ParseIP("192.168.1.10")},
		})
		defer g.Sockets().Close()

		candidates, err := g.Gather(context.Background())
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		require.Equal(t, CandidateKindHost, candidates[0].Kind)
		require.True(t, candidates[0].IP.Equal(net.ParseIP("192.168.1.11")))
		require.Equal(t, 1, g.Sockets().Len())
	})

	t.Run("every bind fails", func(t *testing.T) {
		lan, err := vnet.NewRouter(&vnet.RouterConfig{
			CIDR:          "192.168.2.0/24",
			LoggerFactory: logging.NewDefaultLoggerFactory(),
		})
		require.NoError(t, err)
		nw, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"192.168.2.10"}})
		require.NoError(t, err)
		require.NoError(t, lan.AddNet(nw))
		require.NoError(t, lan.Start())
		defer func() {
			_ = lan.Stop()
		}()

		g := NewGatherer(GathererParams{
			Net: &bindFailureNet{Net: nw, failIP: net.ParseIP("192.168.2.10")},
		})
		defer g.Sockets().Close()

		_, err = g.Gather(context.Background())
		require.ErrorIs(t, err, ErrNoCandidates)
		require.Zero(t, g.Sockets().Len())
	})

	t.Run("no usable interface", func(t *testing.T) {
		nw, err := vnet.NewNet(&vnet.NetConfig{})
		require.NoError(t, err)

		g := NewGatherer(GathererParams{Net: nw})
		_, err = g.Gather(context.Background())
		require.ErrorIs(t, err, ErrNoCandidates)
	})
}

// bindFailureNet refuses sockets on one address.
type bindFailureNet struct {
	transport.Net
	failIP net.IP
}

func (n *bindFailureNet) ListenUDP(network string, laddr *net.UDPAddr) (transport.UDPConn, error) {
	if laddr != nil && laddr.IP.Equal(n.failIP) {
		return nil, errors.New("address already in use")
	}
	return n.Net.ListenUDP(network, laddr)
}

func TestResolveSTUNServer(t *testing.T) {
	nw, err := vnet.NewNet(&vnet.NetConfig{})
	require.NoError(t, err)

	for _, server := range []string{"stun:10.1.1.1:3478", "10.1.1.1:3478", "10.1.1.1"} {
		addr, err := ResolveSTUNServer(nw, server)
		require.NoError(t, err, server)
		require.Equal(t, "10.1.1.1:3478", addr.String())
	}
}
