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
	"context"
	"net"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/pion/transport/v2"
	"github.com/pion/transport/v2/stdnet"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
)

var ErrNoCandidates = errors.New("no local candidates could be gathered")

type GathererConfig struct {
	STUNServers     []string      `yaml:"stun_servers,omitempty"`
	STUNTimeout     time.Duration `yaml:"stun_timeout,omitempty"`
	STUNAttempts    int           `yaml:"stun_attempts,omitempty"`
	Workers         int           `yaml:"workers,omitempty"`
	IncludeLoopback bool          `yaml:"include_loopback,omitempty"`
}

var DefaultGathererConfig = GathererConfig{
	STUNServers:  []string{"stun.l.google.com:19302"},
	STUNTimeout:  time.Second,
	STUNAttempts: 2,
	Workers:      4,
}

type GathererParams struct {
	Config  GathererConfig
	Net     transport.Net
	Sockets *SocketSet
	Logger  logger.Logger
}

// Gatherer binds a UDP socket on every usable IPv4 interface and learns the
// server reflexive address of each socket from the configured STUN servers.
type Gatherer struct {
	params GathererParams

	lock       sync.Mutex
	candidates []Candidate
}

func NewGatherer(params GathererParams) *Gatherer {
	if params.Sockets == nil {
		params.Sockets = NewSocketSet()
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Config.STUNTimeout <= 0 {
		params.Config.STUNTimeout = DefaultGathererConfig.STUNTimeout
	}
	if params.Config.STUNAttempts <= 0 {
		params.Config.STUNAttempts = DefaultGathererConfig.STUNAttempts
	}
	if params.Config.Workers <= 0 {
		params.Config.Workers = DefaultGathererConfig.Workers
	}
	if params.Net == nil {
		if nw, err := stdnet.NewNet(); err != nil {
			params.Logger.Warnw("could not create network", err)
		} else {
			params.Net = nw
		}
	}
	return &Gatherer{
		params: params,
	}
}

// Sockets returns the arena holding the sockets of gathered candidates.
func (g *Gatherer) Sockets() *SocketSet {
	return g.params.Sockets
}

func (g *Gatherer) Candidates() []Candidate {
	g.lock.Lock()
	defer g.lock.Unlock()

	return append([]Candidate{}, g.candidates...)
}

func (g *Gatherer) Gather(ctx context.Context) ([]Candidate, error) {
	hosts, err := g.gatherHost()
	if err != nil {
		return nil, err
	}

	candidates := append([]Candidate{}, hosts...)
	known := make(map[string]struct{}, len(hosts))
	for _, c := range hosts {
		known[c.Key()] = struct{}{}
	}

	for _, c := range g.gatherServerReflexive(ctx, hosts) {
		if _, ok := known[c.Key()]; ok {
			g.params.Logger.Debugw("dropping duplicate candidate", "candidate", c)
			continue
		}
		known[c.Key()] = struct{}{}
		candidates = append(candidates, c)
	}

	g.lock.Lock()
	g.candidates = candidates
	g.lock.Unlock()

	g.params.Logger.Infow("gathered candidates", "candidates", candidatesLogger(candidates))
	return append([]Candidate{}, candidates...), nil
}

func (g *Gatherer) gatherHost() ([]Candidate, error) {
	ips, err := g.localIPs()
	if err != nil {
		return nil, err
	}

	var hosts []Candidate
	localPref := uint16(maxLocalPreference)
	for _, ip := range ips {
		conn, err := g.params.Net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: 0})
		if err != nil {
			g.params.Logger.Warnw("could not bind socket", err, "ip", ip)
			continue
		}

		id := g.params.Sockets.Add(conn)
		if id == InvalidSocketID {
			return nil, errors.Wrap(ErrNoCandidates, "socket set closed")
		}
		addr, ok := conn.LocalAddr().(*net.UDPAddr)
		if !ok {
			continue
		}
		hosts = append(hosts, NewCandidate(CandidateKindHost, ip, addr.Port, localPref, id))
		localPref--
	}

	if len(hosts) == 0 {
		return nil, ErrNoCandidates
	}
	return hosts, nil
}

func (g *Gatherer) localIPs() ([]net.IP, error) {
	if g.params.Net == nil {
		return nil, ErrNoCandidates
	}
	ifaces, err := g.params.Net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 && !g.params.Config.IncludeLoopback {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch typedAddr := addr.(type) {
			case *net.IPNet:
				ip = typedAddr.IP.To4()
			case *net.IPAddr:
				ip = typedAddr.IP.To4()
			default:
				continue
			}
			if ip == nil {
				continue
			}
			if ip.IsLoopback() && !g.params.Config.IncludeLoopback {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips, nil
}

func (g *Gatherer) gatherServerReflexive(ctx context.Context, hosts []Candidate) []Candidate {
	type server struct {
		name string
		addr *net.UDPAddr
	}
	var servers []server
	for _, s := range g.params.Config.STUNServers {
		addr, err := ResolveSTUNServer(g.params.Net, s)
		if err != nil {
			g.params.Logger.Warnw("could not resolve stun server", err, "server", s)
			continue
		}
		servers = append(servers, server{name: s, addr: addr})
	}
	if len(servers) == 0 {
		return nil
	}

	var (
		lock    sync.Mutex
		results []Candidate
	)
	pool := workerpool.New(min(g.params.Config.Workers, len(hosts)))
	for _, host := range hosts {
		host := host
		pool.Submit(func() {
			conn, ok := g.params.Sockets.Get(host.SocketID)
			if !ok {
				return
			}
			// a socket has a single reader, so the servers are queried in turn
			for _, s := range servers {
				if ctx.Err() != nil {
					return
				}
				mapped, err := stunBinding(conn, s.addr, g.params.Config.STUNTimeout, g.params.Config.STUNAttempts)
				if err != nil {
					g.params.Logger.Warnw("stun binding failed", err, "server", s.name, "local", host.Key())
					continue
				}

				c := NewCandidate(CandidateKindServerReflexive, mapped.IP, mapped.Port, host.LocalPref, host.SocketID)
				c.Foundation = Foundation(CandidateKindServerReflexive, host.IP, s.name)
				lock.Lock()
				results = append(results, c)
				lock.Unlock()
			}
		})
	}
	pool.StopWait()

	return results
}

// NewRelayCandidate describes a TURN relayed address. It owns no socket of
// the arena, the relay client carries the traffic.
func NewRelayCandidate(relayed *net.UDPAddr, server string) Candidate {
	c := NewCandidate(CandidateKindRelay, relayed.IP, relayed.Port, maxLocalPreference, InvalidSocketID)
	c.Foundation = Foundation(CandidateKindRelay, relayed.IP, server)
	return c
}
