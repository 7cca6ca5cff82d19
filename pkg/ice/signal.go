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

	pionice "github.com/pion/ice/v2"
	"github.com/pkg/errors"
)

const candidatePrefix = "candidate:"

var ErrInvalidCandidate = errors.New("invalid candidate")

// MarshalCandidate renders the candidate as an RFC 5245 candidate attribute.
func MarshalCandidate(c Candidate) (string, error) {
	var (
		pc  pionice.Candidate
		err error
	)
	address := c.IP.String()
	switch c.Kind {
	case CandidateKindHost:
		pc, err = pionice.NewCandidateHost(&pionice.CandidateHostConfig{
			Network:    "udp",
			Address:    address,
			Port:       c.Port,
			Component:  c.Component,
			Priority:   c.Priority,
			Foundation: c.Foundation,
		})
	case CandidateKindServerReflexive:
		pc, err = pionice.NewCandidateServerReflexive(&pionice.CandidateServerReflexiveConfig{
			Network:    "udp",
			Address:    address,
			Port:       c.Port,
			Component:  c.Component,
			Priority:   c.Priority,
			Foundation: c.Foundation,
			RelAddr:    net.IPv4zero.String(),
		})
	case CandidateKindPeerReflexive:
		pc, err = pionice.NewCandidatePeerReflexive(&pionice.CandidatePeerReflexiveConfig{
			Network:    "udp",
			Address:    address,
			Port:       c.Port,
			Component:  c.Component,
			Priority:   c.Priority,
			Foundation: c.Foundation,
			RelAddr:    net.IPv4zero.String(),
		})
	case CandidateKindRelay:
		pc, err = pionice.NewCandidateRelay(&pionice.CandidateRelayConfig{
			Network:       "udp",
			Address:       address,
			Port:          c.Port,
			Component:     c.Component,
			Priority:      c.Priority,
			Foundation:    c.Foundation,
			RelAddr:       net.IPv4zero.String(),
			RelayProtocol: "udp",
		})
	default:
		return "", errors.Wrapf(ErrInvalidCandidate, "unknown kind %s", c.Kind)
	}
	if err != nil {
		return "", errors.Wrap(err, "could not marshal candidate")
	}
	return candidatePrefix + pc.Marshal(), nil
}

// UnmarshalCandidate parses a remote candidate received over signaling.
func UnmarshalCandidate(raw string) (Candidate, error) {
	pc, err := pionice.UnmarshalCandidate(strings.TrimPrefix(strings.TrimSpace(raw), candidatePrefix))
	if err != nil {
		return Candidate{}, errors.Wrap(ErrInvalidCandidate, err.Error())
	}

	var kind CandidateKind
	switch pc.Type() {
	case pionice.CandidateTypeHost:
		kind = CandidateKindHost
	case pionice.CandidateTypeServerReflexive:
		kind = CandidateKindServerReflexive
	case pionice.CandidateTypePeerReflexive:
		kind = CandidateKindPeerReflexive
	case pionice.CandidateTypeRelay:
		kind = CandidateKindRelay
	default:
		return Candidate{}, errors.Wrapf(ErrInvalidCandidate, "unsupported type %s", pc.Type())
	}

	ip := net.ParseIP(pc.Address())
	if ip == nil {
		return Candidate{}, errors.Wrapf(ErrInvalidCandidate, "address %q", pc.Address())
	}
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}

	return Candidate{
		Kind:       kind,
		IP:         ip,
		Port:       pc.Port(),
		Priority:   pc.Priority(),
		Foundation: pc.Foundation(),
		Component:  pc.Component(),
		LocalPref:  uint16(pc.Priority() >> 8),
		SocketID:   InvalidSocketID,
	}, nil
}
