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
	"fmt"
	"net"
	"strings"

	"github.com/jxskiss/base62"
	"github.com/pion/transport/v2"
	"github.com/pion/turn/v2"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/logger/pionlogger"

	"github.com/livekit/streamlink/pkg/config"
	"github.com/livekit/streamlink/pkg/telemetry"
)

const (
	allocateRetries = 50
	turnMinPort     = 1024
	turnMaxPort     = 30000
)

var (
	ErrTURNCredentialsRequired = errors.New("TURN username and password required")
	ErrInvalidRelayIP          = errors.New("TURN relay ip is not a valid address")
)

// NewTurnServer starts the development relay. No server is started when the
// bind address is empty.
func NewTurnServer(conf *config.Config, authHandler turn.AuthHandler, nw transport.Net) (*turn.Server, error) {
	turnConf := conf.TURNServer
	if turnConf.BindAddress == "" {
		return nil, nil
	}
	if turnConf.Username == "" || turnConf.Password == "" {
		return nil, ErrTURNCredentialsRequired
	}

	relayIP := net.ParseIP(turnConf.RelayIP)
	if relayIP == nil {
		return nil, ErrInvalidRelayIP
	}

	minPort, maxPort := turnConf.RelayPortRangeStart, turnConf.RelayPortRangeEnd
	if minPort == 0 || maxPort < minPort {
		minPort, maxPort = turnMinPort, turnMaxPort
	}

	udpListener, err := nw.ListenPacket("udp4", turnConf.BindAddress)
	if err != nil {
		return nil, errors.Wrap(err, "could not listen on TURN UDP port")
	}

	relayAddrGen := telemetry.NewRelayAddressGenerator(&turn.RelayAddressGeneratorPortRange{
		RelayAddress: relayIP,
		Address:      "0.0.0.0",
		MinPort:      minPort,
		MaxPort:      maxPort,
		MaxRetries:   allocateRetries,
		Net:          nw,
	})

	server, err := turn.NewServer(turn.ServerConfig{
		Realm:       turnConf.Realm,
		AuthHandler: authHandler,
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn:            udpListener,
				RelayAddressGenerator: relayAddrGen,
			},
		},
		LoggerFactory: pionlogger.NewLoggerFactory(logger.GetLogger()),
	})
	if err != nil {
		_ = udpListener.Close()
		return nil, err
	}

	logger.Infow("starting TURN server",
		"turn.address", udpListener.LocalAddr().String(),
		"turn.relayIP", relayIP.String(),
		"turn.relay_range_start", minPort,
		"turn.relay_range_end", maxPort,
	)
	return server, nil
}

func getTURNAuthHandlerFunc(handler *TURNAuthHandler) turn.AuthHandler {
	return handler.HandleAuth
}

// TURNAuthHandler accepts the configured username as well as per session
// usernames minted by CreateUsername. All of them share the configured password.
type TURNAuthHandler struct {
	username string
	password string
}

func NewTURNAuthHandler(conf *config.Config) *TURNAuthHandler {
	return &TURNAuthHandler{
		username: conf.TURNServer.Username,
		password: conf.TURNServer.Password,
	}
}

func (h *TURNAuthHandler) CreateUsername(sessionID string) string {
	return base62.EncodeToString([]byte(fmt.Sprintf("%s|%s", h.username, sessionID)))
}

// ParseUsername returns the session a username was minted for, empty for the
// configured username.
func (h *TURNAuthHandler) ParseUsername(username string) (sessionID string, ok bool) {
	if username == h.username {
		return "", true
	}

	decoded, err := base62.DecodeString(username)
	if err != nil {
		return "", false
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[0] != h.username || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (h *TURNAuthHandler) HandleAuth(username, realm string, srcAddr net.Addr) (key []byte, ok bool) {
	sessionID, ok := h.ParseUsername(username)
	if !ok {
		logger.Debugw("rejected TURN username", "username", username, "remote", srcAddr.String())
		return nil, false
	}

	logger.Debugw("TURN auth", "sessionID", sessionID, "remote", srcAddr.String())
	return turn.GenerateAuthKey(username, realm, h.password), true
}
