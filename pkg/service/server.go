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

package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/frostbyte73/core"
	"github.com/pion/transport/v2"
	"github.com/pion/transport/v2/stdnet"
	"github.com/pion/turn/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/streamlink/pkg/config"
)

var ErrAlreadyRunning = errors.New("already running")

// StreamlinkServer hosts the development relay and the metrics endpoint.
type StreamlinkServer struct {
	config     *config.Config
	turnServer *turn.Server
	httpServer *http.Server
	running    atomic.Bool
	done       core.Fuse
}

func NewStreamlinkServer(conf *config.Config, turnServer *turn.Server) (*StreamlinkServer, error) {
	s := &StreamlinkServer{
		config:     conf,
		turnServer: turnServer,
	}

	if conf.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/", s.healthCheck)
		s.httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.PrometheusPort),
			Handler: mux,
		}
	}
	return s, nil
}

func (s *StreamlinkServer) IsRunning() bool {
	return s.running.Load()
}

// Start blocks until Stop is called.
func (s *StreamlinkServer) Start() error {
	if s.running.Swap(true) {
		return ErrAlreadyRunning
	}

	if s.httpServer != nil {
		// ensure we could listen
		ln, err := net.Listen("tcp", s.httpServer.Addr)
		if err != nil {
			s.running.Store(false)
			return err
		}

		go func() {
			logger.Infow("starting metrics server", "address", s.httpServer.Addr)
			if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Errorw("metrics server failed", err)
			}
		}()
	}

	logger.Infow("streamlink node started",
		"nodeID", s.config.NodeID,
		"relay", s.turnServer != nil,
	)

	<-s.done.Watch()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.httpServer.Shutdown(ctx)
		cancel()
	}
	if s.turnServer != nil {
		if err := s.turnServer.Close(); err != nil {
			logger.Warnw("could not close TURN server", err)
		}
	}
	s.running.Store(false)
	return nil
}

func (s *StreamlinkServer) Stop() {
	s.done.Break()
}

func (s *StreamlinkServer) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if !s.IsRunning() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func createNet() (transport.Net, error) {
	nw, err := stdnet.NewNet()
	if err != nil {
		return nil, err
	}
	return nw, nil
}
