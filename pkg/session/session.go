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
	"context"
	"net"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/frostbyte73/core"
	"github.com/pion/transport/v2"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/streamlink/pkg/bwe"
	"github.com/livekit/streamlink/pkg/fec"
	"github.com/livekit/streamlink/pkg/ice"
	"github.com/livekit/streamlink/pkg/qos"
	"github.com/livekit/streamlink/pkg/telemetry/prometheus"
	"github.com/livekit/streamlink/pkg/turn"
	"github.com/livekit/streamlink/pkg/utils"
)

const (
	permissionRefreshInterval = 4 * time.Minute
)

var (
	ErrSessionClosed     = errors.New("session closed")
	ErrNotGathered       = errors.New("local candidates not gathered")
	ErrAlreadyConnected  = errors.New("session already connected")
	ErrRelayUnavailable  = errors.New("no relay configured")
	ErrNoRelayPermission = errors.New("no relay permission could be installed")
)

type Config struct {
	StatusInterval     time.Duration `yaml:"status_interval,omitempty"`
	QualityLogDebounce time.Duration `yaml:"quality_log_debounce,omitempty"`
}

var DefaultConfig = Config{
	StatusInterval:     5 * time.Second,
	QualityLogDebounce: 10 * time.Second,
}

type Params struct {
	ID             string
	Config         Config
	GathererConfig ice.GathererConfig
	CheckerConfig  ice.CheckerConfig
	// relay fallback is disabled when Server is empty
	TurnConfig turn.ClientConfig
	QoSConfig  qos.ControllerConfig
	Preset     qos.Preset
	Net        transport.Net
	Signaler   Signaler
	Encoder    qos.Encoder
	// a Reed-Solomon coder is used when nil
	FEC qos.FEC
	// an arrival based estimator fed through OnPacketArrival is used when nil
	Gradient qos.DelayGradientSource
	Logger   logger.Logger
}

type Status struct {
	ID        string
	Connected bool
	PathKind  PathKind
	Probes    ice.ProbeStats
	QoS       qos.Stats
}

// Session takes one peer from candidate gathering to an established path and
// then drives the congestion controller for it.
type Session struct {
	params     Params
	gatherer   *ice.Gatherer
	estimator  *bwe.Estimator
	fec        qos.FEC
	controller *qos.Controller
	trend      *bwe.TrendDetector
	qualityLog func(func())

	lock       sync.Mutex
	locals     []ice.Candidate
	remotes    []ice.Candidate
	checker    *ice.ConnectivityChecker
	connecting bool
	path       *Path

	closed       core.Fuse
	closeOnce    sync.Once
	reporterDone chan struct{}
}

func NewSession(params Params) *Session {
	if params.ID == "" {
		params.ID = utils.NewGuid(utils.SessionPrefix)
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	params.Logger = params.Logger.WithValues("sessionID", params.ID)
	if params.Config.StatusInterval <= 0 {
		params.Config.StatusInterval = DefaultConfig.StatusInterval
	}
	if params.Config.QualityLogDebounce <= 0 {
		params.Config.QualityLogDebounce = DefaultConfig.QualityLogDebounce
	}
	if params.Preset.TargetBitrateKbps == 0 {
		params.Preset = qos.GetPreset(qos.ModeBalanced)
	}

	s := &Session{
		params: params,
		gatherer: ice.NewGatherer(ice.GathererParams{
			Config: params.GathererConfig,
			Net:    params.Net,
			Logger: params.Logger,
		}),
		fec:          params.FEC,
		trend:        bwe.NewTrendDetector(bwe.DefaultTrendConfig),
		qualityLog:   debounce.New(params.Config.QualityLogDebounce),
		reporterDone: make(chan struct{}),
	}
	if s.fec == nil {
		s.fec = fec.NewCoder(fec.CoderParams{
			InitialRatio: params.Preset.MinFECRatio,
			Logger:       params.Logger,
		})
	}
	gradient := params.Gradient
	if gradient == nil {
		s.estimator = bwe.NewEstimator(bwe.DefaultEstimatorConfig)
		gradient = s.estimator
	}
	s.controller = qos.NewController(qos.ControllerParams{
		Config:   params.QoSConfig,
		Base:     qos.BaseConfigFromPreset(params.Preset),
		Encoder:  params.Encoder,
		FEC:      s.fec,
		Gradient: gradient,
		Logger:   params.Logger,
	})

	prometheus.AddSession()
	go s.reporterWorker()
	return s
}

func (s *Session) ID() string {
	return s.params.ID
}

func (s *Session) Controller() *qos.Controller {
	return s.controller
}

func (s *Session) FEC() qos.FEC {
	return s.fec
}

// Gather collects local candidates and signals each of them followed by the
// end of gathering marker.
func (s *Session) Gather(ctx context.Context) ([]ice.Candidate, error) {
	if s.closed.IsBroken() {
		return nil, ErrSessionClosed
	}

	candidates, err := s.gatherer.Gather(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		prometheus.RecordCandidate(c.Kind.String(), "local")
	}

	s.lock.Lock()
	s.locals = candidates
	s.lock.Unlock()

	if s.params.Signaler != nil {
		for _, c := range candidates {
			if err := s.params.Signaler.SendCandidate(c); err != nil {
				return nil, errors.Wrap(err, "could not signal candidate")
			}
		}
		if err := s.params.Signaler.SendGatheringComplete(); err != nil {
			return nil, errors.Wrap(err, "could not signal end of candidates")
		}
	}
	return candidates, nil
}

func (s *Session) AddRemoteCandidate(candidate ice.Candidate) error {
	if s.closed.IsBroken() {
		return ErrSessionClosed
	}

	s.lock.Lock()
	s.remotes = append(s.remotes, candidate)
	checker := s.checker
	s.lock.Unlock()

	prometheus.RecordCandidate(candidate.Kind.String(), "remote")
	if checker != nil {
		checker.AddRemoteCandidate(candidate)
	}
	s.params.Logger.Debugw("remote candidate added", "candidate", candidate)
	return nil
}

// AddRemoteCandidateString parses a signaled candidate line.
func (s *Session) AddRemoteCandidateString(raw string) error {
	candidate, err := ice.UnmarshalCandidate(raw)
	if err != nil {
		return err
	}
	return s.AddRemoteCandidate(candidate)
}

// Connect races connectivity checks over the gathered and remote candidates.
// When every check fails and a TURN server is configured it falls back to a
// relayed path.
func (s *Session) Connect(ctx context.Context) (*Path, error) {
	s.lock.Lock()
	switch {
	case s.closed.IsBroken():
		s.lock.Unlock()
		return nil, ErrSessionClosed
	case s.path != nil || s.connecting:
		s.lock.Unlock()
		return nil, ErrAlreadyConnected
	case len(s.locals) == 0:
		s.lock.Unlock()
		return nil, ErrNotGathered
	}
	checker := ice.NewConnectivityChecker(ice.CheckerParams{
		Config:  s.params.CheckerConfig,
		Sockets: s.gatherer.Sockets(),
		Logger:  s.params.Logger,
	}, s.locals)
	for _, r := range s.remotes {
		checker.AddRemoteCandidate(r)
	}
	s.checker = checker
	s.connecting = true
	s.lock.Unlock()

	sw := utils.NewStopwatch()
	path, err := s.connect(ctx, checker, sw)

	s.lock.Lock()
	s.connecting = false
	if err == nil && s.closed.IsBroken() {
		err = ErrSessionClosed
		_ = path.Close()
	}
	if err == nil {
		s.path = path
	}
	s.lock.Unlock()

	if err != nil {
		s.params.Logger.Warnw("could not connect", err, "timing", sw)
		return nil, err
	}
	s.params.Logger.Infow("session connected", "path", path, "timing", sw)
	return path, nil
}

func (s *Session) connect(ctx context.Context, checker *ice.ConnectivityChecker, sw *utils.Stopwatch) (*Path, error) {
	resCh, err := checker.Start()
	if err != nil {
		return nil, err
	}

	var res ice.CheckResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		_ = checker.Stop()
		return nil, ctx.Err()
	case <-s.closed.Watch():
		_ = checker.Stop()
		return nil, ErrSessionClosed
	}

	// releases every socket but the selected one
	_ = checker.Stop()
	sw.Mark("checks")

	probes := checker.ProbeStats()
	prometheus.IncrementProbes(prometheus.Outgoing, probes.Sent)
	prometheus.IncrementProbes(prometheus.Incoming, probes.Received)
	prometheus.RecordConnectivity(prometheus.PathDirect, res.Err)

	if res.Err == nil {
		return &Path{
			Kind:   PathKindDirect,
			Conn:   res.Pair.Conn,
			Local:  res.Pair.Local,
			Remote: res.Pair.Remote,
		}, nil
	}

	if !errors.Is(res.Err, ice.ErrChecksFailed) {
		return nil, res.Err
	}
	if s.params.TurnConfig.Server == "" {
		return nil, errors.Wrap(res.Err, ErrRelayUnavailable.Error())
	}

	path, err := s.connectRelay(ctx, checker.RemoteCandidates(), sw)
	prometheus.RecordConnectivity(prometheus.PathRelay, err)
	return path, err
}

func (s *Session) connectRelay(ctx context.Context, remotes []ice.Candidate, sw *utils.Stopwatch) (*Path, error) {
	if len(remotes) == 0 {
		return nil, errors.Wrap(ErrNoRelayPermission, "no remote candidates")
	}

	client, err := turn.NewClient(turn.ClientParams{
		Config: s.params.TurnConfig,
		Net:    s.params.Net,
		Logger: s.params.Logger,
	})
	if err != nil {
		return nil, err
	}

	allocation, err := client.Allocate(ctx)
	prometheus.RecordTurnRequest("allocate", err)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	sw.Mark("allocate")

	peers := s.installPermissions(ctx, client, remotes)
	sw.Mark("permissions")
	if len(peers) == 0 {
		_ = client.Close()
		return nil, ErrNoRelayPermission
	}

	relayConn, err := turn.NewRelayConn(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	local := ice.NewRelayCandidate(allocation.RelayedAddr, s.params.TurnConfig.Server)
	if s.params.Signaler != nil {
		if err := s.params.Signaler.SendCandidate(local); err != nil {
			s.params.Logger.Warnw("could not signal relay candidate", err)
		}
	}

	remote := highestPriority(remotes)
	path := &Path{
		Kind:       PathKindRelay,
		Conn:       ice.ConnectPacketConn(relayConn, remote.Addr()),
		Local:      local,
		Remote:     remote,
		Allocation: allocation,
	}
	go s.refreshWorker(path, client, peers)
	return path, nil
}

func (s *Session) installPermissions(ctx context.Context, client *turn.Client, remotes []ice.Candidate) []net.IP {
	var peers []net.IP
	seen := make(map[string]struct{}, len(remotes))
	for _, r := range remotes {
		key := r.IP.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		err := client.CreatePermission(ctx, r.IP)
		prometheus.RecordTurnRequest("create_permission", err)
		if err != nil {
			s.params.Logger.Warnw("could not create relay permission", err, "peer", key)
			continue
		}
		peers = append(peers, r.IP)
	}
	return peers
}

// refreshWorker keeps the allocation and its permissions alive until the path closes.
func (s *Session) refreshWorker(path *Path, client *turn.Client, peers []net.IP) {
	interval := permissionRefreshInterval
	if lifetime := path.Allocation.Lifetime; lifetime > 0 && lifetime/2 < interval {
		interval = lifetime / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-path.closed.Watch():
			return
		case <-s.closed.Watch():
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		err := client.Refresh(ctx, s.params.TurnConfig.Lifetime)
		prometheus.RecordTurnRequest("refresh", err)
		if err != nil {
			cancel()
			if errors.Is(err, turn.ErrClientClosed) {
				return
			}
			s.params.Logger.Warnw("could not refresh allocation", err)
			continue
		}
		for _, peer := range peers {
			err := client.CreatePermission(ctx, peer)
			prometheus.RecordTurnRequest("create_permission", err)
			if err != nil {
				s.params.Logger.Warnw("could not refresh relay permission", err, "peer", peer)
			}
		}
		cancel()
	}
}

func highestPriority(candidates []ice.Candidate) ice.Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Priority > best.Priority {
			best = c
		}
	}
	return best
}

func (s *Session) Path() (*Path, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.path, s.path != nil
}

// OnFeedback applies a receiver report to the congestion controller.
func (s *Session) OnFeedback(sample qos.FeedbackSample) {
	if s.closed.IsBroken() {
		return
	}
	s.controller.OnFeedback(sample)
}

// OnFeedbackPacket decodes a feedback record off the wire. Malformed records
// are discarded.
func (s *Session) OnFeedbackPacket(b []byte) error {
	sample, err := qos.UnmarshalFeedback(b)
	if err != nil {
		s.params.Logger.Debugw("discarding feedback", "error", err, "size", len(b))
		return err
	}
	s.OnFeedback(sample)
	return nil
}

// OnPacketArrival feeds the built in estimator. It is a no-op when an
// external gradient source was supplied.
func (s *Session) OnPacketArrival(sendTimeMicros, recvTimeMicros int64, size int) {
	if s.estimator != nil {
		s.estimator.OnPacket(sendTimeMicros, recvTimeMicros, size)
	}
}

func (s *Session) GetStatus() Status {
	s.lock.Lock()
	path, checker := s.path, s.checker
	s.lock.Unlock()

	status := Status{
		ID:  s.params.ID,
		QoS: s.controller.GetStats(),
	}
	if path != nil {
		status.Connected = !path.IsClosed()
		status.PathKind = path.Kind
	}
	if checker != nil {
		status.Probes = checker.ProbeStats()
	}
	return status
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Break()
		<-s.reporterDone

		s.lock.Lock()
		checker, path := s.checker, s.path
		s.lock.Unlock()

		if checker != nil {
			_ = checker.Stop()
		}
		if path != nil {
			err = path.Close()
		}
		if serr := s.gatherer.Sockets().Close(); err == nil {
			err = serr
		}

		prometheus.ForgetSession(s.params.ID)
		prometheus.SubSession()
		s.params.Logger.Infow("session closed")
	})
	return err
}

// ------------------------------------------------

func (s *Session) reporterWorker() {
	defer close(s.reporterDone)

	ticker := time.NewTicker(s.params.Config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportStatus()

		case <-s.closed.Watch():
			return
		}
	}
}

func (s *Session) reportStatus() {
	stats := s.controller.GetStats()
	prometheus.RecordQoS(s.params.ID, stats)
	s.params.Logger.Debugw("qos status", "stats", stats)

	prev := s.trend.GetDirection()
	s.trend.AddValue(stats.CurrentBitrateKbps)
	if dir := s.trend.GetDirection(); dir == bwe.TrendDirectionDownward && prev != dir {
		prometheus.RecordQualityDrop("bitrate")

		state := qos.MediaState{
			Fps:         stats.CurrentFps,
			Resolution:  s.params.Preset.TargetResolution,
			BitrateKbps: int(stats.CurrentBitrateKbps),
			FECRatio:    stats.FECRatio,
		}
		next := qos.GetNextDegradationAction(s.params.Preset, state)
		s.qualityLog(func() {
			s.params.Logger.Infow("stream quality degrading", "stats", stats, "nextAction", next)
		})
	}
}
