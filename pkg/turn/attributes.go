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
	"encoding/binary"
	"net"
	"time"

	"github.com/pion/stun"
	"github.com/pkg/errors"
)

// ProtoUDP is the IANA protocol number carried in REQUESTED-TRANSPORT.
const ProtoUDP byte = 17

var ErrInvalidAttribute = errors.New("invalid turn attribute")

// RequestedTransport is the REQUESTED-TRANSPORT attribute of RFC 5766.
type RequestedTransport struct {
	Protocol byte
}

func (t RequestedTransport) AddTo(m *stun.Message) error {
	m.Add(stun.AttrRequestedTransport, []byte{t.Protocol, 0, 0, 0})
	return nil
}

// ------------------------------------------------

// Lifetime is the LIFETIME attribute, encoded in whole seconds.
type Lifetime struct {
	time.Duration
}

func (l Lifetime) AddTo(m *stun.Message) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, uint32(l.Seconds()))
	m.Add(stun.AttrLifetime, v)
	return nil
}

func (l *Lifetime) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrLifetime)
	if err != nil {
		return err
	}
	if len(v) != 4 {
		return errors.Wrap(ErrInvalidAttribute, "lifetime")
	}
	l.Duration = time.Duration(binary.BigEndian.Uint32(v)) * time.Second
	return nil
}

// ------------------------------------------------

// Data is the DATA attribute carrying relayed application payload.
type Data []byte

func (d Data) AddTo(m *stun.Message) error {
	m.Add(stun.AttrData, d)
	return nil
}

func (d *Data) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrData)
	if err != nil {
		return err
	}
	*d = append((*d)[:0], v...)
	return nil
}

// ------------------------------------------------

// PeerAddress is the XOR-PEER-ADDRESS attribute.
type PeerAddress struct {
	IP   net.IP
	Port int
}

func (a PeerAddress) AddTo(m *stun.Message) error {
	addr := stun.XORMappedAddress{IP: a.IP, Port: a.Port}
	return addr.AddToAs(m, stun.AttrXORPeerAddress)
}

func (a *PeerAddress) GetFrom(m *stun.Message) error {
	var addr stun.XORMappedAddress
	if err := addr.GetFromAs(m, stun.AttrXORPeerAddress); err != nil {
		return err
	}
	a.IP, a.Port = addr.IP, addr.Port
	return nil
}

// RelayedAddress is the XOR-RELAYED-ADDRESS attribute.
type RelayedAddress struct {
	IP   net.IP
	Port int
}

func (a RelayedAddress) AddTo(m *stun.Message) error {
	addr := stun.XORMappedAddress{IP: a.IP, Port: a.Port}
	return addr.AddToAs(m, stun.AttrXORRelayedAddress)
}

func (a *RelayedAddress) GetFrom(m *stun.Message) error {
	var addr stun.XORMappedAddress
	if err := addr.GetFromAs(m, stun.AttrXORRelayedAddress); err != nil {
		return err
	}
	a.IP, a.Port = addr.IP, addr.Port
	return nil
}
