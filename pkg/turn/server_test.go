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
	"testing"
	"time"

	"github.com/pion/turn/v2"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/logger/pionlogger"
)

func newPionServer(t *testing.T) string {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	server, err := turn.NewServer(turn.ServerConfig{
		Realm: testRealm,
		AuthHandler: func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
			if username != testUsername {
				return nil, false
			}
			return turn.GenerateAuthKey(username, realm, testPassword), true
		},
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: conn,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: net.ParseIP("127.0.0.1"),
					Address:      "127.0.0.1",
				},
			},
		},
		LoggerFactory: pionlogger.NewLoggerFactory(logger.GetLogger()),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = server.Close()
	})
	return conn.LocalAddr().String()
}

func TestClientWithServer(t *testing.T) {
	c := newTestClient(t, newPionServer(t))
	ctx := context.Background()

	allocation, err := c.Allocate(ctx)
	require.NoError(t, err)
	require.True(t, allocation.RelayedAddr.IP.Equal(net.ParseIP("127.0.0.1")))
	require.NotZero(t, allocation.RelayedAddr.Port)
	require.NotNil(t, allocation.MappedAddr)
	require.NotZero(t, allocation.Lifetime)

	peer, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()
	peerAddr := peer.LocalAddr().(*net.UDPAddr)

	require.NoError(t, c.CreatePermission(ctx, peerAddr.IP))
	require.NoError(t, c.Refresh(ctx, 5*time.Minute))

	// client to peer through the relay
	require.NoError(t, c.SendData([]byte("ping"), peerAddr))
	buf := make([]byte, 1500)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := peer.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
	require.Equal(t, allocation.RelayedAddr.String(), from.String())

	// peer to client through the relay
	_, err = peer.WriteTo([]byte("pong"), allocation.RelayedAddr)
	require.NoError(t, err)
	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	d, err := c.ReadData(readCtx)
	cancel()
	require.NoError(t, err)
	require.Equal(t, "pong", string(d.Payload))
	require.Equal(t, peerAddr.String(), d.Peer.String())

	t.Run("relay conn", func(t *testing.T) {
		rc, err := NewRelayConn(c)
		require.NoError(t, err)
		require.Equal(t, allocation.RelayedAddr.String(), rc.LocalAddr().String())

		_, err = rc.WriteTo([]byte("hello"), peerAddr)
		require.NoError(t, err)
		n, _, err := peer.ReadFrom(buf)
		require.NoError(t, err)
		require.Equal(t, "hello", string(buf[:n]))

		_, err = peer.WriteTo([]byte("world"), allocation.RelayedAddr)
		require.NoError(t, err)
		require.NoError(t, rc.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, addr, err := rc.ReadFrom(buf)
		require.NoError(t, err)
		require.Equal(t, "world", string(buf[:n]))
		require.Equal(t, peerAddr.String(), addr.String())

		require.NoError(t, rc.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
		_, _, err = rc.ReadFrom(buf)
		var netErr net.Error
		require.ErrorAs(t, err, &netErr)
		require.True(t, netErr.Timeout())
	})

	require.NoError(t, c.Close())
	_, ok := c.Allocation()
	require.False(t, ok)
}
