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
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRelayConnDeadlines(t *testing.T) {
	t.Run("moved while blocked", func(t *testing.T) {
		c, _ := newAllocatedClient(t)
		rc, err := NewRelayConn(c)
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			_, _, err := rc.ReadFrom(make([]byte, 1500))
			errCh <- err
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, rc.SetReadDeadline(time.Now()))

		select {
		case err := <-errCh:
			require.ErrorIs(t, err, os.ErrDeadlineExceeded)
			var netErr net.Error
			require.ErrorAs(t, err, &netErr)
			require.True(t, netErr.Timeout())
		case <-time.After(time.Second):
			t.Fatal("read did not return after the deadline moved")
		}
	})

	t.Run("cleared", func(t *testing.T) {
		c, server := newAllocatedClient(t)
		rc, err := NewRelayConn(c)
		require.NoError(t, err)
		buf := make([]byte, 1500)

		require.NoError(t, rc.SetReadDeadline(time.Now().Add(-time.Second)))
		_, _, err = rc.ReadFrom(buf)
		require.ErrorIs(t, err, os.ErrDeadlineExceeded)

		require.NoError(t, rc.SetReadDeadline(time.Time{}))
		peer := &net.UDPAddr{IP: net.IPv4(198, 51, 100, 20), Port: 5000}
		server.sendData(t, c, peer, []byte("frame"))
		n, from, err := rc.ReadFrom(buf)
		require.NoError(t, err)
		require.Equal(t, "frame", string(buf[:n]))
		require.Equal(t, peer.String(), from.String())
	})

	t.Run("write", func(t *testing.T) {
		c, _ := newAllocatedClient(t)
		rc, err := NewRelayConn(c)
		require.NoError(t, err)
		peer := &net.UDPAddr{IP: net.IPv4(198, 51, 100, 20), Port: 5000}

		require.NoError(t, rc.SetWriteDeadline(time.Now().Add(-time.Second)))
		_, err = rc.WriteTo([]byte("frame"), peer)
		require.ErrorIs(t, err, os.ErrDeadlineExceeded)

		require.NoError(t, rc.SetWriteDeadline(time.Time{}))
		n, err := rc.WriteTo([]byte("frame"), peer)
		require.NoError(t, err)
		require.Equal(t, 5, n)
	})
}
