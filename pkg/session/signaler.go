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

package session

import (
	"github.com/livekit/streamlink/pkg/ice"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

// Signaler carries local candidates to the remote peer over whatever
// rendezvous channel the application uses.
//
//counterfeiter:generate . Signaler
type Signaler interface {
	SendCandidate(candidate ice.Candidate) error
	SendGatheringComplete() error
}
