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
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"
)

var (
	ErrNotStarted     = errors.New("connectivity checks not started")
	ErrChecksFailed   = errors.New("all connectivity checks failed")
	ErrCheckerStopped = errors.New("connectivity checker stopped")
)

var probeTag = []byte{'S', 'L', 'N', 'K'}

// IsProbe reports whether the datagram is a connectivity probe.
func IsProbe(b []byte) bool {
	return bytes.Equal(b, probeTag)
}

// ------------------------------------------------

type CheckerState int

const (
	CheckerStateIdle CheckerState = iota
	CheckerStateChecking
	CheckerStateConnected
	CheckerStateFailed
)

func (s CheckerState) String() string {
	switch s {
	case CheckerStateIdle:
		return "IDLE"
	case CheckerStateChecking:
		return "CHECKING"
	case CheckerStateConnected:
		return "CONNECTED"
	case CheckerStateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// ------------------------------------------------

type CheckerConfig struct {
	CheckInterval time.Duration `yaml:"check_interval,omitempty"`
	PollTimeout   time.Duration `yaml:"poll_timeout,omitempty"`
	CheckTimeout  time.Duration `yaml:"check_timeout,omitempty"`
	ConfirmProbes int           `yaml:"confirm_probes,omitempty"`
	// an unmatched probe source is accepted as a peer reflexive remote unless set.
	// probes are not authenticated, so any sender of the tag can win the race.
	RejectUnmatchedProbes bool `yaml:"reject_unmatched_probes,omitempty"`
}

var DefaultCheckerConfig = CheckerConfig{
	CheckInterval: 200 * time.Millisecond,
	PollTimeout:   50 * time.Millisecond,
	CheckTimeout:  5 * time.Second,
	ConfirmProbes: 3,
}

type CheckerParams struct {
	Config  CheckerConfig
	Sockets *SocketSet
	Logger  logger.Logger
}

type CheckResult struct {
	Pair *CandidatePair
	Err  error
}

type ProbeStats struct {
	Sent     uint64
	Received uint64
}

// ------------------------------------------------

// ConnectivityChecker races probes over every (local socket, remote candidate)
// combination and selects the first pair a probe arrives on.
type ConnectivityChecker struct {
	params CheckerParams

	lock          sync.Mutex
	state         CheckerState
	locals        []Candidate
	remotes       *orderedmap.OrderedMap[string, Candidate]
	selected      *CandidatePair
	onStateChange func(CheckerState)
	cancel        context.CancelFunc
	done          chan struct{}

	stopOnce sync.Once

	probesSent     atomic.Uint64
	probesReceived atomic.Uint64
}

func NewConnectivityChecker(params CheckerParams, locals []Candidate) *ConnectivityChecker {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Sockets == nil {
		params.Sockets = NewSocketSet()
	}
	if params.Config.CheckInterval <= 0 {
		params.Config.CheckInterval = DefaultCheckerConfig.CheckInterval
	}
	if params.Config.PollTimeout <= 0 {
		params.Config.PollTimeout = DefaultCheckerConfig.PollTimeout
	}
	if params.Config.CheckTimeout <= 0 {
		params.Config.CheckTimeout = DefaultCheckerConfig.CheckTimeout
	}
	return &ConnectivityChecker{
		params:  params,
		locals:  append([]Candidate{}, locals...),
		remotes: orderedmap.NewOrderedMap[string, Candidate](),
	}
}

func (c *ConnectivityChecker) OnStateChange(f func(state CheckerState)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onStateChange = f
}

func (c *ConnectivityChecker) State() CheckerState {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.state
}

// AddRemoteCandidate may be called at any time. Candidates arriving after
// Start are kept but not probed by the running check.
func (c *ConnectivityChecker) AddRemoteCandidate(candidate Candidate) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	candidate.SocketID = InvalidSocketID
	key := candidate.Key()
	if existing, ok := c.remotes.Get(key); ok && existing.Priority >= candidate.Priority {
		return false
	}
	c.remotes.Set(key, candidate)
	return true
}

func (c *ConnectivityChecker) RemoteCandidates() []Candidate {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.remoteSnapshotLocked()
}

func (c *ConnectivityChecker) remoteSnapshotLocked() []Candidate {
	remotes := make([]Candidate, 0, c.remotes.Len())
	for el := c.remotes.Front(); el != nil; el = el.Next() {
		remotes = append(remotes, el.Value)
	}
	return remotes
}

func (c *ConnectivityChecker) SelectedPair() (*CandidatePair, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.selected, c.selected != nil
}

func (c *ConnectivityChecker) ProbeStats() ProbeStats {
	return ProbeStats{
		Sent:     c.probesSent.Load(),
		Received: c.probesReceived.Load(),
	}
}

// Start begins checking. The returned channel receives exactly one result and
// is then closed.
func (c *ConnectivityChecker) Start() (<-chan CheckResult, error) {
	c.lock.Lock()
	if c.state != CheckerStateIdle {
		state := c.state
		c.lock.Unlock()
		return nil, errors.Wrapf(ErrNotStarted, "checker is %s", state)
	}
	if len(c.locals) == 0 {
		c.lock.Unlock()
		return nil, errors.Wrap(ErrNotStarted, "no local candidates")
	}
	if c.remotes.Len() == 0 {
		c.lock.Unlock()
		return nil, errors.Wrap(ErrNotStarted, "no remote candidates")
	}

	remotes := c.remoteSnapshotLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	resCh := make(chan CheckResult, 1)
	notify := c.setStateLocked(CheckerStateChecking)
	c.lock.Unlock()
	notify()

	c.params.Logger.Infow(
		"starting connectivity checks",
		"locals", candidatesLogger(c.locals),
		"remotes", candidatesLogger(remotes),
	)
	go c.worker(ctx, remotes, resCh)
	return resCh, nil
}

// Stop cancels a running check, waits for it and closes every socket still
// owned by the checker. The socket of a selected pair belongs to the pair.
func (c *ConnectivityChecker) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.lock.Lock()
		cancel, done := c.cancel, c.done
		c.lock.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}

		notify := func() {}
		c.lock.Lock()
		if c.state == CheckerStateIdle {
			notify = c.setStateLocked(CheckerStateFailed)
		}
		c.lock.Unlock()
		notify()

		err = c.params.Sockets.Close()
	})
	return err
}

// setStateLocked returns the notification to run once the lock is released.
func (c *ConnectivityChecker) setStateLocked(state CheckerState) func() {
	if c.state == state {
		return func() {}
	}
	c.params.Logger.Debugw("checker state change", "from", c.state, "to", state)
	c.state = state
	f := c.onStateChange
	return func() {
		if f != nil {
			f(state)
		}
	}
}

// ------------------------------------------------

type probeHit struct {
	socketID SocketID
	from     *net.UDPAddr
}

func (c *ConnectivityChecker) worker(ctx context.Context, remotes []Candidate, resCh chan<- CheckResult) {
	defer close(c.done)
	defer close(resCh)

	checkCtx, cancel := context.WithTimeout(ctx, c.params.Config.CheckTimeout)
	defer cancel()

	sockets := make(map[SocketID]net.PacketConn)
	for _, local := range c.locals {
		if _, ok := sockets[local.SocketID]; ok {
			continue
		}
		if conn, ok := c.params.Sockets.Get(local.SocketID); ok {
			sockets[local.SocketID] = conn
		}
	}

	hitCh := make(chan probeHit, 1)
	g, gctx := errgroup.WithContext(checkCtx)
	for id, conn := range sockets {
		id, conn := id, conn
		g.Go(func() error {
			return c.readProbes(gctx, id, conn, remotes, hitCh)
		})
	}
	g.Go(func() error {
		return c.sendProbes(gctx, sockets, remotes)
	})

	var hit *probeHit
	select {
	case h := <-hitCh:
		hit = &h
	case <-checkCtx.Done():
	}
	cancel()
	_ = g.Wait()

	if hit == nil {
		// a hit may have landed while the group was winding down
		select {
		case h := <-hitCh:
			hit = &h
		default:
		}
	}

	if hit == nil || ctx.Err() != nil {
		err := ErrChecksFailed
		if ctx.Err() != nil {
			err = ErrCheckerStopped
		}
		c.fail(err, resCh)
		return
	}

	pair, err := c.selectPair(*hit, remotes)
	if err != nil {
		c.fail(err, resCh)
		return
	}

	c.lock.Lock()
	c.selected = pair
	notify := c.setStateLocked(CheckerStateConnected)
	c.lock.Unlock()
	notify()

	c.params.Logger.Infow("connectivity established", "pair", pair, "probes", c.ProbeStats())
	resCh <- CheckResult{Pair: pair}
}

func (c *ConnectivityChecker) fail(err error, resCh chan<- CheckResult) {
	c.lock.Lock()
	notify := c.setStateLocked(CheckerStateFailed)
	c.lock.Unlock()
	notify()

	c.params.Logger.Infow("connectivity checks failed", "error", err, "probes", c.ProbeStats())
	resCh <- CheckResult{Err: err}
}

func (c *ConnectivityChecker) selectPair(hit probeHit, remotes []Candidate) (*CandidatePair, error) {
	remote, ok := matchRemote(remotes, hit.from)
	if !ok {
		remote = NewCandidate(CandidateKindPeerReflexive, hit.from.IP, hit.from.Port, maxLocalPreference, InvalidSocketID)
	}

	var local Candidate
	for _, l := range c.locals {
		if l.SocketID == hit.socketID {
			local = l
			break
		}
	}

	conn, ok := c.params.Sockets.Release(hit.socketID)
	if !ok {
		return nil, errors.Wrap(ErrChecksFailed, "selected socket no longer available")
	}

	for i := 0; i < c.params.Config.ConfirmProbes; i++ {
		if _, err := conn.WriteTo(probeTag, remote.Addr()); err != nil {
			break
		}
		c.probesSent.Inc()
	}

	return &CandidatePair{
		Local:  local,
		Remote: remote,
		Conn:   newConnectedConn(conn, remote.Addr()),
	}, nil
}

func (c *ConnectivityChecker) sendProbes(ctx context.Context, sockets map[SocketID]net.PacketConn, remotes []Candidate) error {
	ticker := time.NewTicker(c.params.Config.CheckInterval)
	defer ticker.Stop()

	for {
		for id, conn := range sockets {
			for _, remote := range remotes {
				if _, err := conn.WriteTo(probeTag, remote.Addr()); err != nil {
					if errors.Is(err, net.ErrClosed) {
						return nil
					}
					c.params.Logger.Debugw("could not send probe", "error", err, "socketID", id, "remote", remote.Key())
					continue
				}
				c.probesSent.Inc()
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *ConnectivityChecker) readProbes(
	ctx context.Context,
	id SocketID,
	conn net.PacketConn,
	remotes []Candidate,
	hitCh chan<- probeHit,
) error {
	buf := make([]byte, stunReadBufferSize)
	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(c.params.Config.PollTimeout)); err != nil {
			return nil
		}
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.params.Logger.Warnw("probe read failed", err, "socketID", id)
			continue
		}
		if !IsProbe(buf[:n]) {
			continue
		}
		c.probesReceived.Inc()

		addr, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		if c.params.Config.RejectUnmatchedProbes {
			if _, matched := matchRemote(remotes, addr); !matched {
				c.params.Logger.Debugw("ignoring probe from unknown source", "from", addr)
				continue
			}
		}

		select {
		case hitCh <- probeHit{socketID: id, from: addr}:
		default:
		}
		_ = conn.SetReadDeadline(time.Time{})
		return nil
	}
	_ = conn.SetReadDeadline(time.Time{})
	return nil
}

func matchRemote(remotes []Candidate, from *net.UDPAddr) (Candidate, bool) {
	for _, r := range remotes {
		if r.Port == from.Port && r.IP.Equal(from.IP) {
			return r, true
		}
	}
	return Candidate{}, false
}
