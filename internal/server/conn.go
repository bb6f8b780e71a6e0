// Package server accepts gateway and UI client connections and bridges
// each one onto the hub's bus.
//
// A Conn walks Handshaking → Authenticating → Connected → Closing → Closed.
// Once connected it is a bus subscriber: events that pass its address
// filter are written to the peer, and frames from the peer are posted.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/metrics"
	"github.com/alfredjeanlab/leafbus/internal/presence"
	"github.com/alfredjeanlab/leafbus/internal/transport"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// ConnState is the lifecycle position of a Conn.
type ConnState int32

const (
	Handshaking ConnState = iota
	Authenticating
	Connected
	Closing
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Authenticating:
		return "authenticating"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("ConnState(%d)", int32(s))
}

// Handshake outcomes returned by Conn.Run.
var (
	ErrHandshake        = errors.New("handshake failed")
	ErrNoToken          = errors.New("no token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrAlreadyConnected = errors.New("already connected")
)

// Authenticator maps a token to a bus identity: a tree id (optionally
// "tree:branch") for gateways, "@N" for UI clients.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (string, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

const (
	DefaultTimeout      = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Options tunes a Conn.
type Options struct {
	// Timeout is the keepalive interval advertised to the peer. The
	// handshake waits Timeout+1s for put_auth.
	Timeout time.Duration

	// ReadTimeout bounds each read once connected. Default: 2*Timeout.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write. Default: 5s.
	WriteTimeout time.Duration

	// Host is echoed to the peer in hello_connected.
	Host string

	// Versions, if set, reports the hub-side document versions for an
	// authenticated identity.
	Versions func(ctx context.Context, identity string) wire.Versions

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * o.Timeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Conn is one peer connection.
type Conn struct {
	t      transport.Transport
	bus    *bus.Bus
	reg    *presence.Registry
	auth   Authenticator
	opts   Options
	logger *slog.Logger

	state atomic.Int32

	// Set during the handshake, read-only afterwards.
	identity string
	self     addr.Address
	gateway  bool
	session  string

	// sendMu serializes writes to the transport and orders hello_connected
	// before any bus delivery.
	sendMu    sync.Mutex
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// NewConn returns a connection over t. Call Run to serve it.
func NewConn(t transport.Transport, b *bus.Bus, reg *presence.Registry, auth Authenticator, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{t: t, bus: b, reg: reg, auth: auth, opts: opts, logger: opts.Logger}
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) { c.state.Store(int32(s)) }

// Identity returns the authenticated address, or "" before authentication.
func (c *Conn) Identity() string {
	if c.State() < Connected {
		return ""
	}
	return c.identity
}

// Run performs the handshake and serves the connection until either side
// closes it. It returns nil after a connected session ends normally, or
// the reason the handshake was refused. A panic while serving is recovered
// and returned as an error.
func (c *Conn) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("conn: panic recovered",
				"identity", c.identity,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			c.setState(Closed)
			_ = c.t.Close("internal error")
			err = fmt.Errorf("conn %s: panic: %v", c.identity, r)
		}
	}()

	if err := c.handshake(ctx); err != nil {
		c.setState(Closed)
		_ = c.t.Close(err.Error())
		return err
	}
	defer c.finish(ctx)
	c.receiveLoop(ctx)
	return nil
}

func (c *Conn) handshake(ctx context.Context) error {
	c.setState(Handshaking)
	if err := c.send(ctx, wire.Make(wire.TypeGetAuth, addr.Server, "")); err != nil {
		return c.refuse("transport", fmt.Errorf("%w: sending get_auth: %v", ErrHandshake, err))
	}

	token, err := c.awaitToken(ctx)
	if err != nil {
		c.sendBestEffort(ctx, wire.Make(wire.TypeByeTimeout, addr.Server, ""))
		return c.refuse("timeout", err)
	}

	c.setState(Authenticating)
	if token == "" {
		c.sendBestEffort(ctx, wire.Make(wire.TypeHelloNoToken, addr.Server, ""))
		return c.refuse("no_token", ErrNoToken)
	}
	identity, err := c.auth.Authenticate(ctx, token)
	if err == nil {
		err = c.adopt(identity)
	}
	if err != nil {
		c.sendBestEffort(ctx, wire.Make(wire.TypeHelloInvalidToken, addr.Server, ""))
		return c.refuse("invalid_token", fmt.Errorf("%w: %v", ErrInvalidToken, err))
	}

	params := wire.Params{
		ClientAddr:      identity,
		TimeoutInterval: c.opts.Timeout.Seconds(),
		Host:            c.opts.Host,
	}
	if c.opts.Versions != nil {
		params.Versions = c.opts.Versions(ctx, identity)
	}
	rec, ok := c.reg.Claim(identity, params)
	if !ok {
		c.sendBestEffort(ctx, wire.Make(wire.TypeHelloAlreadyConnected, addr.Server, identity))
		return c.refuse("already_connected", fmt.Errorf("%w: %s", ErrAlreadyConnected, identity))
	}
	c.session = rec.Session

	c.sendMu.Lock()
	c.bus.Subscribe(c)
	err = c.sendLocked(ctx, &wire.HelloConnected{
		Header: wire.Header{Type: wire.TypeHelloConnected, Src: addr.Server, Dst: identity},
		Param:  params,
	})
	if err == nil {
		c.setState(Connected)
	}
	c.sendMu.Unlock()
	if err != nil {
		c.bus.Unsubscribe(c)
		c.reg.Release(identity, rec.Session)
		return c.refuse("transport", fmt.Errorf("%w: sending hello: %v", ErrHandshake, err))
	}

	metrics.Connections.WithLabelValues(rec.Class).Inc()
	c.logger.Info("conn: connected", "identity", identity, "class", rec.Class, "session", rec.Session)

	if c.gateway {
		c.postConnected(ctx, true)
		c.bus.Post(ctx, wire.Make(wire.TypeGetState, identity, addr.Server))
		c.bus.Post(ctx, wire.Make(wire.TypeGetLog, identity, addr.Server))
	}
	return nil
}

func (c *Conn) awaitToken(ctx context.Context) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.Timeout+time.Second)
	defer cancel()

	raw, err := c.t.ReceiveJSON(rctx)
	if err != nil {
		return "", fmt.Errorf("%w: waiting for put_auth: %v", ErrHandshake, err)
	}
	e, err := wire.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	reply, ok := e.(*wire.PutAuth)
	if !ok {
		return "", fmt.Errorf("%w: expected put_auth, got %s", ErrHandshake, e.Kind())
	}
	return reply.Token, nil
}

// adopt records identity as this connection's address.
func (c *Conn) adopt(identity string) error {
	a, err := addr.Parse(identity)
	if err != nil {
		return err
	}
	switch a.(type) {
	case addr.Client:
	case addr.Branch:
		c.gateway = true
	default:
		return fmt.Errorf("%w: %s is not a peer address", addr.ErrInvalid, identity)
	}
	c.identity, c.self = identity, a
	return nil
}

func (c *Conn) refuse(reason string, err error) error {
	metrics.HandshakeFailures.WithLabelValues(reason).Inc()
	c.logger.Debug("conn: handshake refused", "reason", reason, "err", err)
	return err
}

func (c *Conn) receiveLoop(ctx context.Context) {
	for c.State() == Connected {
		rctx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
		raw, err := c.t.ReceiveJSON(rctx)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, transport.ErrMalformed):
			c.logger.Warn("conn: malformed frame", "identity", c.identity, "err", err)
			continue
		case errors.Is(err, transport.ErrTimeout):
			c.timedOut(ctx)
			return
		default:
			if c.State() == Connected {
				c.logger.Debug("conn: receive failed", "identity", c.identity, "err", err)
			}
			return
		}

		c.reg.Touch(c.identity)
		objs, err := wire.SplitFrame(raw)
		if err != nil {
			c.logger.Warn("conn: malformed frame", "identity", c.identity, "err", err)
			continue
		}
		for _, obj := range objs {
			if !c.handle(ctx, obj) {
				return
			}
		}
	}
}

// handle processes one inbound event. It returns false when the
// connection should close.
func (c *Conn) handle(ctx context.Context, raw []byte) bool {
	e, err := wire.Decode(raw)
	if err != nil {
		c.logger.Warn("conn: dropped event", "identity", c.identity, "err", err)
		return true
	}
	switch e.Kind() {
	case wire.TypePing:
		return c.send(ctx, wire.Make(wire.TypePong, addr.Server, c.identity)) == nil
	case wire.TypeBye:
		c.logger.Debug("conn: bye", "identity", c.identity)
		return false
	}

	h := e.Head()
	if h.Dst == "" {
		c.logger.Warn("conn: dropped event without dst", "identity", c.identity, "type", e.Kind())
		return true
	}
	if !c.gateway {
		h.Src = c.identity
	}
	c.bus.Post(ctx, e)
	return true
}

func (c *Conn) timedOut(ctx context.Context) {
	c.logger.Info("conn: read timeout", "identity", c.identity, "timeout", c.opts.ReadTimeout)
	c.sendBestEffort(ctx, wire.Make(wire.TypeByeTimeout, addr.Server, c.identity))
	c.bus.Post(ctx, wire.Make(wire.TypeByeTimeout, c.identity, addr.Server))
}

// Receive delivers a bus event to the peer if it passes the address filter.
func (c *Conn) Receive(ctx context.Context, e wire.Event) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.State() != Connected {
		return transport.ErrClosed
	}
	if !Accepts(c.self, e.Head().Dst) {
		return nil
	}
	if err := c.sendLocked(ctx, e); err != nil {
		c.close()
		return fmt.Errorf("conn %s: %w", c.identity, err)
	}
	return nil
}

func (c *Conn) send(ctx context.Context, e wire.Event) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendLocked(ctx, e)
}

func (c *Conn) sendLocked(ctx context.Context, e wire.Event) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.WriteTimeout)
	defer cancel()
	return c.t.SendJSON(wctx, e)
}

func (c *Conn) sendBestEffort(ctx context.Context, e wire.Event) {
	if err := c.send(ctx, e); err != nil {
		c.logger.Debug("conn: best-effort send failed", "type", e.Kind(), "err", err)
	}
}

// close stops delivery and wakes the receive loop. Safe to call from
// inside Receive.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.setState(Closing)
		c.bus.Unsubscribe(c)
		if c.cancel != nil {
			c.cancel()
		}
	})
}

func (c *Conn) finish(ctx context.Context) {
	c.close()
	ctx = context.WithoutCancel(ctx)

	c.reg.Release(c.identity, c.session)
	class := presence.ClassClient
	if c.gateway {
		class = presence.ClassGateway
		c.postConnected(ctx, false)
	}
	metrics.Connections.WithLabelValues(class).Dec()

	_ = c.t.Close("bye")
	c.setState(Closed)
	c.logger.Info("conn: disconnected", "identity", c.identity, "session", c.session)
}

func (c *Conn) postConnected(ctx context.Context, connected bool) {
	eid := c.self.(addr.Branch).Tree + ":gateway:status:connected"
	st, err := wire.NewState(c.identity, addr.Clients, eid, connected, time.Now())
	if err != nil {
		c.logger.Error("conn: building connected state", "err", err)
		return
	}
	c.bus.Post(ctx, st)
}

// Accepts reports whether an event addressed to dst should be delivered
// to the peer at self.
//
// A client sees #clients and its own address. A gateway sees #branches and
// any address inside its tree; a gateway bound to one branch sees only that
// branch and tree-wide addresses.
func Accepts(self addr.Address, dst string) bool {
	switch s := self.(type) {
	case addr.Client:
		return dst == addr.Clients || dst == s.String()
	case addr.Branch:
		if dst == addr.Branches {
			return true
		}
		a, err := addr.Parse(dst)
		if err != nil {
			return false
		}
		d, ok := a.(addr.Branch)
		if !ok || d.Tree != s.Tree {
			return false
		}
		return s.Branch == "" || d.Branch == "" || d.Branch == s.Branch
	}
	return false
}
