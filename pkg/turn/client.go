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

package turn

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/pion/stun"
	"github.com/pion/transport/v2"
	"github.com/pion/transport/v2/stdnet"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/livekit/protocol/logger"
)

const (
	DefaultTURNPort = "3478"

	// a Data indication wrapping a full MTU datagram exceeds the MTU
	readBufferSize  = 1 << 16
	dataChannelSize = 256
)

var (
	ErrTransactionTimeout = errors.New("turn transaction timed out")
	ErrErrorResponse      = errors.New("turn error response")
	ErrNotAllocated       = errors.New("no turn allocation")
	ErrAlreadyAllocated   = errors.New("turn allocation exists")
	ErrIntegrityMismatch  = errors.New("turn response integrity mismatch")
	ErrClientClosed       = errors.New("turn client closed")
	ErrMissingAttribute   = errors.New("turn response missing attribute")
)

type ClientConfig struct {
	Server         string        `yaml:"server,omitempty"`
	Username       string        `yaml:"username,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	MaxAttempts    int           `yaml:"max_attempts,omitempty"`
	// requested allocation lifetime, zero lets the server decide
	Lifetime time.Duration `yaml:"lifetime,omitempty"`
}

var DefaultClientConfig = ClientConfig{
	RequestTimeout: 3 * time.Second,
	MaxAttempts:    3,
}

type ClientParams struct {
	Config ClientConfig
	// Conn is used when set, otherwise a socket is bound through Net
	Conn   net.PacketConn
	Net    transport.Net
	Logger logger.Logger
}

// RelayAllocation describes an allocation held on the server. The lifetime
// must be refreshed by the caller before it expires.
type RelayAllocation struct {
	RelayedAddr *net.UDPAddr
	MappedAddr  *net.UDPAddr
	Lifetime    time.Duration
}

func (a *RelayAllocation) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if a == nil {
		return nil
	}
	e.AddString("relayed", a.RelayedAddr.String())
	e.AddString("mapped", a.MappedAddr.String())
	e.AddDuration("lifetime", a.Lifetime)
	return nil
}

// Datagram is a payload relayed from a peer.
type Datagram struct {
	Peer    *net.UDPAddr
	Payload []byte
}

// ------------------------------------------------

// Client speaks TURN over UDP to a single server. Requests block for at most
// MaxAttempts * RequestTimeout.
type Client struct {
	params     ClientParams
	serverAddr *net.UDPAddr
	conn       net.PacketConn

	lock         sync.Mutex
	realm        string
	nonce        string
	integrity    stun.MessageIntegrity
	allocation   *RelayAllocation
	transactions map[[stun.TransactionIDSize]byte]chan *stun.Message

	dataCh     chan Datagram
	closed     core.Fuse
	closeOnce  sync.Once
	readerDone chan struct{}
}

func NewClient(params ClientParams) (*Client, error) {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Config.RequestTimeout <= 0 {
		params.Config.RequestTimeout = DefaultClientConfig.RequestTimeout
	}
	if params.Config.MaxAttempts <= 0 {
		params.Config.MaxAttempts = DefaultClientConfig.MaxAttempts
	}
	if params.Net == nil {
		nw, err := stdnet.NewNet()
		if err != nil {
			return nil, err
		}
		params.Net = nw
	}

	server := strings.TrimPrefix(params.Config.Server, "turn:")
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, DefaultTURNPort)
	}
	serverAddr, err := params.Net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve turn server")
	}

	conn := params.Conn
	if conn == nil {
		conn, err = params.Net.ListenPacket("udp4", "0.0.0.0:0")
		if err != nil {
			return nil, errors.Wrap(err, "could not bind turn socket")
		}
	}

	c := &Client{
		params:       params,
		serverAddr:   serverAddr,
		conn:         conn,
		transactions: make(map[[stun.TransactionIDSize]byte]chan *stun.Message),
		dataCh:       make(chan Datagram, dataChannelSize),
		readerDone:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) ServerAddr() *net.UDPAddr {
	return c.serverAddr
}

func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Client) Allocation() (*RelayAllocation, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.allocation == nil {
		return nil, false
	}
	allocation := *c.allocation
	return &allocation, true
}

// Allocate requests a UDP relay. The first, unauthenticated request is
// expected to be challenged with 401, which supplies realm and nonce for a
// single authenticated retry.
func (c *Client) Allocate(ctx context.Context) (*RelayAllocation, error) {
	if _, ok := c.Allocation(); ok {
		return nil, ErrAlreadyAllocated
	}

	setters := []stun.Setter{RequestedTransport{Protocol: ProtoUDP}}
	if c.params.Config.Lifetime > 0 {
		setters = append(setters, Lifetime{c.params.Config.Lifetime})
	}

	req, err := stun.Build(append([]stun.Setter{
		stun.TransactionID,
		stun.NewType(stun.MethodAllocate, stun.ClassRequest),
	}, setters...)...)
	if err != nil {
		return nil, err
	}
	res, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "allocate failed")
	}

	if res.Type.Class == stun.ClassErrorResponse {
		code := errorCode(res)
		if code != stun.CodeUnauthorized {
			return nil, errors.Wrapf(ErrErrorResponse, "allocate rejected with %d", code)
		}
		if err := c.adoptChallenge(res); err != nil {
			return nil, err
		}
		res, err = c.authenticatedRoundTrip(ctx, stun.MethodAllocate, setters...)
		if err != nil {
			return nil, errors.Wrap(err, "authenticated allocate failed")
		}
		if res.Type.Class == stun.ClassErrorResponse {
			return nil, errors.Wrapf(ErrErrorResponse, "allocate rejected with %d", errorCode(res))
		}
	}

	var relayed RelayedAddress
	if err := relayed.GetFrom(res); err != nil {
		return nil, errors.Wrap(ErrMissingAttribute, "xor-relayed-address")
	}
	allocation := &RelayAllocation{
		RelayedAddr: &net.UDPAddr{IP: relayed.IP, Port: relayed.Port},
	}
	var mapped stun.XORMappedAddress
	if err := mapped.GetFrom(res); err == nil {
		allocation.MappedAddr = &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}
	}
	var lifetime Lifetime
	if err := lifetime.GetFrom(res); err == nil {
		allocation.Lifetime = lifetime.Duration
	}

	stored := *allocation
	c.lock.Lock()
	c.allocation = &stored
	c.lock.Unlock()

	c.params.Logger.Infow("turn allocation created", "allocation", allocation, "server", c.serverAddr)
	return allocation, nil
}

// CreatePermission allows the peer to exchange data through the relay.
func (c *Client) CreatePermission(ctx context.Context, peerIP net.IP) error {
	if _, ok := c.Allocation(); !ok {
		return ErrNotAllocated
	}

	res, err := c.authenticatedRoundTrip(ctx, stun.MethodCreatePermission, PeerAddress{IP: peerIP, Port: 0})
	if err != nil {
		return errors.Wrap(err, "create permission failed")
	}
	if res.Type.Class == stun.ClassErrorResponse {
		return errors.Wrapf(ErrErrorResponse, "create permission rejected with %d", errorCode(res))
	}

	c.params.Logger.Debugw("turn permission created", "peer", peerIP)
	return nil
}

// Refresh extends the allocation. A zero lifetime deletes it.
func (c *Client) Refresh(ctx context.Context, lifetime time.Duration) error {
	if _, ok := c.Allocation(); !ok {
		return ErrNotAllocated
	}

	res, err := c.authenticatedRoundTrip(ctx, stun.MethodRefresh, Lifetime{lifetime})
	if err != nil {
		return errors.Wrap(err, "refresh failed")
	}
	if res.Type.Class == stun.ClassErrorResponse {
		return errors.Wrapf(ErrErrorResponse, "refresh rejected with %d", errorCode(res))
	}

	granted := lifetime
	var l Lifetime
	if err := l.GetFrom(res); err == nil {
		granted = l.Duration
	}

	c.lock.Lock()
	if lifetime == 0 {
		c.allocation = nil
	} else if c.allocation != nil {
		c.allocation.Lifetime = granted
	}
	c.lock.Unlock()

	c.params.Logger.Debugw("turn allocation refreshed", "lifetime", granted)
	return nil
}

// SendData relays payload to peer with a Send indication. Delivery is not acknowledged.
func (c *Client) SendData(payload []byte, peer *net.UDPAddr) error {
	if c.closed.IsBroken() {
		return ErrClientClosed
	}
	msg, err := stun.Build(
		stun.TransactionID,
		stun.NewType(stun.MethodSend, stun.ClassIndication),
		PeerAddress{IP: peer.IP, Port: peer.Port},
		Data(payload),
	)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteTo(msg.Raw, c.serverAddr)
	return err
}

// ReadData returns the next payload relayed from a peer.
func (c *Client) ReadData(ctx context.Context) (Datagram, error) {
	select {
	case d := <-c.dataCh:
		return d, nil
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	case <-c.closed.Watch():
		return Datagram{}, ErrClientClosed
	}
}

// Close deletes the allocation when one exists and releases the socket.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if _, ok := c.Allocation(); ok {
			ctx, cancel := context.WithTimeout(context.Background(), c.params.Config.RequestTimeout*time.Duration(c.params.Config.MaxAttempts))
			if rerr := c.Refresh(ctx, 0); rerr != nil {
				c.params.Logger.Warnw("could not delete turn allocation", rerr)
			}
			cancel()
		}

		c.closed.Break()
		err = multierr.Append(err, c.conn.Close())
		<-c.readerDone
	})
	return err
}

// ------------------------------------------------

func (c *Client) adoptChallenge(res *stun.Message) error {
	var (
		realm stun.Realm
		nonce stun.Nonce
	)
	if err := realm.GetFrom(res); err != nil {
		return errors.Wrap(ErrMissingAttribute, "realm")
	}
	if err := nonce.GetFrom(res); err != nil {
		return errors.Wrap(ErrMissingAttribute, "nonce")
	}

	c.lock.Lock()
	c.realm = realm.String()
	c.nonce = nonce.String()
	c.integrity = stun.NewLongTermIntegrity(c.params.Config.Username, c.realm, c.params.Config.Password)
	c.lock.Unlock()
	return nil
}

// authenticatedRoundTrip adopts a fresh nonce and retries once on 438 Stale Nonce.
func (c *Client) authenticatedRoundTrip(ctx context.Context, method stun.Method, setters ...stun.Setter) (*stun.Message, error) {
	var (
		res *stun.Message
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		var req *stun.Message
		req, err = c.buildAuthenticated(method, setters...)
		if err != nil {
			return nil, err
		}
		res, err = c.roundTrip(ctx, req)
		if err != nil {
			return nil, err
		}
		if res.Type.Class != stun.ClassErrorResponse || errorCode(res) != stun.CodeStaleNonce {
			return res, nil
		}

		var nonce stun.Nonce
		if nerr := nonce.GetFrom(res); nerr != nil {
			return res, nil
		}
		c.params.Logger.Debugw("turn nonce is stale, retrying", "method", method)
		c.lock.Lock()
		c.nonce = nonce.String()
		c.lock.Unlock()
	}
	return res, err
}

func (c *Client) buildAuthenticated(method stun.Method, setters ...stun.Setter) (*stun.Message, error) {
	c.lock.Lock()
	realm, nonce, integrity := c.realm, c.nonce, c.integrity
	c.lock.Unlock()

	if integrity == nil {
		return nil, errors.Wrap(ErrNotAllocated, "no credentials negotiated")
	}

	all := []stun.Setter{
		stun.TransactionID,
		stun.NewType(method, stun.ClassRequest),
	}
	all = append(all, setters...)
	all = append(all,
		stun.NewUsername(c.params.Config.Username),
		stun.NewRealm(realm),
		stun.NewNonce(nonce),
		integrity,
	)
	return stun.Build(all...)
}

// roundTrip retransmits the same request until a response with its
// transaction id arrives.
func (c *Client) roundTrip(ctx context.Context, req *stun.Message) (*stun.Message, error) {
	if c.closed.IsBroken() {
		return nil, ErrClientClosed
	}

	resCh := make(chan *stun.Message, 1)
	c.lock.Lock()
	c.transactions[req.TransactionID] = resCh
	c.lock.Unlock()
	defer func() {
		c.lock.Lock()
		delete(c.transactions, req.TransactionID)
		c.lock.Unlock()
	}()

	for attempt := 0; attempt < c.params.Config.MaxAttempts; attempt++ {
		if _, err := c.conn.WriteTo(req.Raw, c.serverAddr); err != nil {
			return nil, errors.Wrap(err, "could not send request")
		}

		timer := time.NewTimer(c.params.Config.RequestTimeout)
		select {
		case res := <-resCh:
			timer.Stop()
			if err := c.checkIntegrity(res); err != nil {
				return nil, err
			}
			return res, nil
		case <-timer.C:
			c.params.Logger.Debugw("turn request timed out", "method", req.Type.Method, "attempt", attempt+1)
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-c.closed.Watch():
			timer.Stop()
			return nil, ErrClientClosed
		}
	}
	return nil, ErrTransactionTimeout
}

func (c *Client) checkIntegrity(res *stun.Message) error {
	if !res.Contains(stun.AttrMessageIntegrity) {
		return nil
	}
	c.lock.Lock()
	integrity := c.integrity
	c.lock.Unlock()
	if integrity == nil {
		return nil
	}
	if err := integrity.Check(res); err != nil {
		return errors.Wrap(ErrIntegrityMismatch, err.Error())
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.readerDone)

	buf := make([]byte, readBufferSize)
	for {
		n, from, err := c.conn.ReadFrom(buf)
		if err != nil {
			if c.closed.IsBroken() || errors.Is(err, net.ErrClosed) {
				return
			}
			c.params.Logger.Warnw("turn read failed", err)
			continue
		}
		if addr, ok := from.(*net.UDPAddr); !ok || addr.Port != c.serverAddr.Port || !addr.IP.Equal(c.serverAddr.IP) {
			continue
		}
		if !stun.IsMessage(buf[:n]) {
			continue
		}
		msg := &stun.Message{Raw: append([]byte{}, buf[:n]...)}
		if err := msg.Decode(); err != nil {
			c.params.Logger.Debugw("dropping malformed turn message", "error", err)
			continue
		}

		if msg.Type.Class == stun.ClassIndication {
			if msg.Type.Method == stun.MethodData {
				c.handleData(msg)
			}
			continue
		}

		c.lock.Lock()
		resCh, ok := c.transactions[msg.TransactionID]
		c.lock.Unlock()
		if !ok {
			continue
		}
		select {
		case resCh <- msg:
		default:
		}
	}
}

func (c *Client) handleData(msg *stun.Message) {
	var (
		peer PeerAddress
		data Data
	)
	if err := peer.GetFrom(msg); err != nil {
		c.params.Logger.Debugw("dropping data indication", "error", err)
		return
	}
	if err := data.GetFrom(msg); err != nil {
		c.params.Logger.Debugw("dropping data indication", "error", err, "peer", peer.IP)
		return
	}

	select {
	case c.dataCh <- Datagram{Peer: &net.UDPAddr{IP: peer.IP, Port: peer.Port}, Payload: data}:
	default:
		c.params.Logger.Debugw("relay data dropped, reader too slow", "peer", peer.IP)
	}
}

func errorCode(m *stun.Message) stun.ErrorCode {
	var code stun.ErrorCodeAttribute
	if err := code.GetFrom(m); err != nil {
		return 0
	}
	return code.Code
}
