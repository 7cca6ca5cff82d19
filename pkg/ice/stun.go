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
	"strings"
	"time"

	"github.com/pion/stun"
	"github.com/pion/transport/v2"
	"github.com/pkg/errors"
)

const (
	DefaultSTUNPort = "3478"

	stunReadBufferSize = 1500
)

var (
	ErrSTUNTimeout       = errors.New("stun binding timed out")
	ErrSTUNErrorResponse = errors.New("stun binding error response")
)

// ResolveSTUNServer accepts "host:port", "host" or "stun:host[:port]".
func ResolveSTUNServer(nw transport.Net, server string) (*net.UDPAddr, error) {
	server = strings.TrimPrefix(server, "stun:")
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, DefaultSTUNPort)
	}
	return nw.ResolveUDPAddr("udp4", server)
}

// stunBinding learns the server reflexive address of conn. Each attempt reuses
// the transaction id and waits up to timeout for a matching response.
func stunBinding(conn net.PacketConn, server *net.UDPAddr, timeout time.Duration, attempts int) (*net.UDPAddr, error) {
	req, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, stunReadBufferSize)
	for attempt := 0; attempt < attempts; attempt++ {
		if _, err := conn.WriteTo(req.Raw, server); err != nil {
			return nil, errors.Wrap(err, "could not send binding request")
		}

		deadline := time.Now().Add(timeout)
		for {
			if err := conn.SetReadDeadline(deadline); err != nil {
				return nil, err
			}
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				if isTimeout(err) {
					break
				}
				return nil, err
			}

			res, ok := decodeSTUN(buf[:n])
			if !ok || res.TransactionID != req.TransactionID {
				continue
			}
			if res.Type.Class == stun.ClassErrorResponse {
				var code stun.ErrorCodeAttribute
				if err := code.GetFrom(res); err == nil {
					return nil, errors.Wrapf(ErrSTUNErrorResponse, "code %d", code.Code)
				}
				return nil, ErrSTUNErrorResponse
			}

			var mapped stun.XORMappedAddress
			if err := mapped.GetFrom(res); err != nil {
				return nil, errors.Wrap(err, "invalid binding response")
			}
			_ = conn.SetReadDeadline(time.Time{})
			return &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}, nil
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
	return nil, ErrSTUNTimeout
}

func decodeSTUN(b []byte) (*stun.Message, bool) {
	if !stun.IsMessage(b) {
		return nil, false
	}
	m := &stun.Message{Raw: append([]byte{}, b...)}
	if err := m.Decode(); err != nil {
		return nil, false
	}
	return m, true
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
