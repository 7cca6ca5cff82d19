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
	"sync"

	"go.uber.org/multierr"
)

type SocketID int

const InvalidSocketID SocketID = -1

// SocketSet owns the sockets of a connectivity attempt. Candidates hold a
// SocketID instead of the socket, so a host candidate and the reflexive
// candidates derived from it share one entry and it is closed only once.
type SocketSet struct {
	lock    sync.Mutex
	sockets []net.PacketConn
	closed  bool
}

func NewSocketSet() *SocketSet {
	return &SocketSet{}
}

func (s *SocketSet) Add(conn net.PacketConn) SocketID {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		_ = conn.Close()
		return InvalidSocketID
	}
	s.sockets = append(s.sockets, conn)
	return SocketID(len(s.sockets) - 1)
}

func (s *SocketSet) Get(id SocketID) (net.PacketConn, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if id < 0 || int(id) >= len(s.sockets) || s.sockets[id] == nil {
		return nil, false
	}
	return s.sockets[id], true
}

// IDs returns the ids of the sockets still owned by the set.
func (s *SocketSet) IDs() []SocketID {
	s.lock.Lock()
	defer s.lock.Unlock()

	ids := make([]SocketID, 0, len(s.sockets))
	for i, conn := range s.sockets {
		if conn != nil {
			ids = append(ids, SocketID(i))
		}
	}
	return ids
}

func (s *SocketSet) Len() int {
	return len(s.IDs())
}

// Release removes the socket from the set without closing it, handing
// ownership to the caller.
func (s *SocketSet) Release(id SocketID) (net.PacketConn, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if id < 0 || int(id) >= len(s.sockets) || s.sockets[id] == nil {
		return nil, false
	}
	conn := s.sockets[id]
	s.sockets[id] = nil
	return conn, true
}

// Close closes every socket still owned by the set. Subsequent calls are no-ops.
func (s *SocketSet) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	sockets := s.sockets
	s.sockets = nil
	s.lock.Unlock()

	var err error
	for _, conn := range sockets {
		if conn != nil {
			err = multierr.Append(err, conn.Close())
		}
	}
	return err
}

func (s *SocketSet) IsClosed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.closed
}
