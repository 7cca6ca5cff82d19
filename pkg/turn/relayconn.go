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
	"os"
	"time"

	"github.com/pion/transport/v2/deadline"
	"github.com/pkg/errors"
)

// RelayConn exposes the relayed transport address of a client as a
// net.PacketConn. Writes become Send indications, reads return Data
// indications. Closing it closes the client.
type RelayConn struct {
	client *Client

	readDeadline  *deadline.Deadline
	writeDeadline *deadline.Deadline
}

func NewRelayConn(client *Client) (*RelayConn, error) {
	if _, ok := client.Allocation(); !ok {
		return nil, ErrNotAllocated
	}
	return &RelayConn{
		client:        client,
		readDeadline:  deadline.New(),
		writeDeadline: deadline.New(),
	}, nil
}

// ReadFrom blocks until a Data indication arrives. Moving the read deadline
// while blocked takes effect immediately.
func (r *RelayConn) ReadFrom(b []byte) (int, net.Addr, error) {
	d, err := r.client.ReadData(r.readDeadline)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, os.ErrDeadlineExceeded
		}
		if errors.Is(err, ErrClientClosed) {
			return 0, nil, net.ErrClosed
		}
		return 0, nil, err
	}
	return copy(b, d.Payload), d.Peer, nil
}

func (r *RelayConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-r.writeDeadline.Done():
		return 0, os.ErrDeadlineExceeded
	default:
	}

	peer, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, errors.Errorf("unsupported address type %T", addr)
	}
	if err := r.client.SendData(b, peer); err != nil {
		if errors.Is(err, ErrClientClosed) {
			return 0, net.ErrClosed
		}
		return 0, err
	}
	return len(b), nil
}

func (r *RelayConn) Close() error {
	return r.client.Close()
}

// LocalAddr is the relayed address peers send to.
func (r *RelayConn) LocalAddr() net.Addr {
	if allocation, ok := r.client.Allocation(); ok {
		return allocation.RelayedAddr
	}
	return r.client.LocalAddr()
}

func (r *RelayConn) SetDeadline(t time.Time) error {
	r.readDeadline.Set(t)
	r.writeDeadline.Set(t)
	return nil
}

func (r *RelayConn) SetReadDeadline(t time.Time) error {
	r.readDeadline.Set(t)
	return nil
}

func (r *RelayConn) SetWriteDeadline(t time.Time) error {
	r.writeDeadline.Set(t)
	return nil
}
