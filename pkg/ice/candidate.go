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
	"crypto/sha256"
	"fmt"
	"net"
	"strconv"

	"github.com/jxskiss/base62"
	"go.uber.org/zap/zapcore"
)

// ------------------------------------------------

type CandidateKind int

const (
	CandidateKindHost CandidateKind = iota
	CandidateKindServerReflexive
	CandidateKindPeerReflexive
	CandidateKindRelay
)

func (k CandidateKind) String() string {
	switch k {
	case CandidateKindHost:
		return "host"
	case CandidateKindServerReflexive:
		return "srflx"
	case CandidateKindPeerReflexive:
		return "prflx"
	case CandidateKindRelay:
		return "relay"
	default:
		return fmt.Sprintf("%d", int(k))
	}
}

// TypePreference is the RFC 8445 recommended type preference of the kind.
func (k CandidateKind) TypePreference() uint32 {
	switch k {
	case CandidateKindHost:
		return 126
	case CandidateKindPeerReflexive:
		return 110
	case CandidateKindServerReflexive:
		return 100
	default:
		return 0
	}
}

// ------------------------------------------------

const (
	DefaultComponent = 1

	maxLocalPreference = 65535
)

func ComputePriority(kind CandidateKind, localPref uint16, component uint16) uint32 {
	return kind.TypePreference()<<24 + uint32(localPref)<<8 + (256 - uint32(component))
}

// ------------------------------------------------

// Candidate is a transport address a peer may be reachable at. Local candidates
// reference their socket through SocketID, remote candidates carry InvalidSocketID.
type Candidate struct {
	Kind       CandidateKind
	IP         net.IP
	Port       int
	Priority   uint32
	Foundation string
	Component  uint16
	LocalPref  uint16
	SocketID   SocketID
}

func NewCandidate(kind CandidateKind, ip net.IP, port int, localPref uint16, socketID SocketID) Candidate {
	return Candidate{
		Kind:       kind,
		IP:         ip,
		Port:       port,
		Priority:   ComputePriority(kind, localPref, DefaultComponent),
		Foundation: Foundation(kind, ip, ""),
		Component:  DefaultComponent,
		LocalPref:  localPref,
		SocketID:   socketID,
	}
}

// Foundation groups candidates of the same kind, base address and server.
func Foundation(kind CandidateKind, base net.IP, server string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", kind, base, server)))
	return base62.EncodeToString(sum[:6])
}

func (c Candidate) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: c.IP, Port: c.Port}
}

// Key identifies the candidate by transport address.
func (c Candidate) Key() string {
	return net.JoinHostPort(c.IP.String(), strconv.Itoa(c.Port))
}

func (c Candidate) Equal(other Candidate) bool {
	return c.Kind == other.Kind && c.IP.Equal(other.IP) && c.Port == other.Port
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s %s prio=%d", c.Kind, c.Key(), c.Priority)
}

func (c Candidate) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("kind", c.Kind.String())
	e.AddString("address", c.Key())
	e.AddUint32("priority", c.Priority)
	e.AddString("foundation", c.Foundation)
	if c.SocketID != InvalidSocketID {
		e.AddInt("socketID", int(c.SocketID))
	}
	return nil
}

// ------------------------------------------------

type candidatesLogger []Candidate

func (cs candidatesLogger) MarshalLogArray(e zapcore.ArrayEncoder) error {
	for _, c := range cs {
		if err := e.AppendObject(c); err != nil {
			return err
		}
	}
	return nil
}
