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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidateSignaling(t *testing.T) {
	candidates := []Candidate{
		NewCandidate(CandidateKindHost, net.IPv4(192, 168, 1, 10).To4(), 50000, 65535, 0),
		NewCandidate(CandidateKindServerReflexive, net.IPv4(203, 0, 113, 7).To4(), 61000, 65534, 0),
		NewRelayCandidate(&net.UDPAddr{IP: net.IPv4(198, 51, 100, 2).To4(), Port: 49170}, "turn.example.com:3478"),
	}

	for _, c := range candidates {
		t.Run(c.Kind.String(), func(t *testing.T) {
			raw, err := MarshalCandidate(c)
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(raw, "candidate:"))
			require.Contains(t, raw, "typ "+c.Kind.String())

			parsed, err := UnmarshalCandidate(raw)
			require.NoError(t, err)
			require.Equal(t, c.Kind, parsed.Kind)
			require.True(t, c.IP.Equal(parsed.IP))
			require.Equal(t, c.Port, parsed.Port)
			require.Equal(t, c.Priority, parsed.Priority)
			require.Equal(t, c.Foundation, parsed.Foundation)
			require.Equal(t, c.LocalPref, parsed.LocalPref)
			require.Equal(t, InvalidSocketID, parsed.SocketID)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		_, err := UnmarshalCandidate("candidate:garbage")
		require.ErrorIs(t, err, ErrInvalidCandidate)
	})
}
