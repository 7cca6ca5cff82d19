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
	"fmt"
	"net"
	"sync"

	"github.com/frostbyte73/core"
	"go.uber.org/zap/zapcore"

	"github.com/livekit/streamlink/pkg/ice"
	"github.com/livekit/streamlink/pkg/turn"
)

type PathKind int

const (
	PathKindDirect PathKind = iota
	PathKindRelay
)

func (k PathKind) String() string {
	switch k {
	case PathKindDirect:
		return "direct"
	case PathKindRelay:
		return "relay"
	default:
		return fmt.Sprintf("%d", int(k))
	}
}

// Path is the established transport to the remote peer. Conn only exchanges
// datagrams with Remote.
type Path struct {
	Kind       PathKind
	Conn       net.Conn
	Local      ice.Candidate
	Remote     ice.Candidate
	Allocation *turn.RelayAllocation

	closeOnce sync.Once
	closed    core.Fuse
}

func (p *Path) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Break()
		err = p.Conn.Close()
	})
	return err
}

func (p *Path) IsClosed() bool {
	return p.closed.IsBroken()
}

func (p *Path) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if p == nil {
		return nil
	}
	e.AddString("kind", p.Kind.String())
	if err := e.AddObject("local", p.Local); err != nil {
		return err
	}
	if err := e.AddObject("remote", p.Remote); err != nil {
		return err
	}
	if p.Allocation != nil {
		return e.AddObject("allocation", p.Allocation)
	}
	return nil
}
