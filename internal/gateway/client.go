// Package gateway is the tree side of the hub protocol: it keeps one
// connection to the hub alive, relays events between the hub and the
// gateway's local bus, and fetches config, secrets and certificates when
// the hub's versions differ from the cached ones.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/metrics"
	"github.com/alfredjeanlab/leafbus/internal/transport"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// Reasons a connection attempt ends.
var (
	ErrUnreachable = errors.New("hub unreachable")
	ErrRefused     = errors.New("connection refused")
	ErrTimeout     = errors.New("hub timed out")
	ErrClosed      = errors.New("connection closed")
)

const (
	defaultInterval         = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

// Dialer opens a transport to the hub.
type Dialer func(ctx context.Context, url string) (transport.Transport, error)

// DialWebsocket is the production Dialer.
func DialWebsocket(ctx context.Context, url string) (transport.Transport, error) {
	return transport.Dial(ctx, url, nil)
}

// Options configures a Client.
type Options struct {
	URL string

	// Token returns the token for the next handshake.
	Token func() string

	// Local returns the versions of the locally cached documents.
	Local func() wire.Versions

	Dial             Dialer
	Backoff          *Backoff
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Logger           *slog.Logger
}

// Client maintains the gateway's connection to the hub. While connected it
// is subscribed to the local bus as the uplink.
type Client struct {
	bus    *bus.Bus
	opts   Options
	logger *slog.Logger

	// wait sleeps between attempts; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
	t  transport.Transport
}

// NewClient returns a client relaying for b.
func NewClient(b *bus.Bus, opts Options) *Client {
	if opts.Dial == nil {
		opts.Dial = DialWebsocket
	}
	if opts.Backoff == nil {
		opts.Backoff = NewBackoff(0, 0)
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	if opts.Local == nil {
		opts.Local = func() wire.Versions { return wire.Versions{} }
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{bus: b, opts: opts, logger: opts.Logger, wait: sleep}
}

// Connected reports whether a hub connection is currently up.
func (c *Client) Connected() bool {
	return c.current() != nil
}

// Run connects to the hub and reconnects with backoff until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		stable, err := c.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if stable {
			c.opts.Backoff.Reset()
		}
		delay := c.opts.Backoff.Next()
		c.logger.Info("gateway: disconnected", "url", c.opts.URL, "reason", err, "retry_in", delay)
		if err := c.wait(ctx, delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect runs one connection attempt to completion. stable reports
// whether it stayed up for at least one keepalive interval.
func (c *Client) connect(ctx context.Context) (stable bool, err error) {
	t, err := c.opts.Dial(ctx, c.opts.URL)
	if err != nil {
		metrics.Reconnects.WithLabelValues("unreachable").Inc()
		return false, fmt.Errorf("%w: %s: %v", ErrUnreachable, c.opts.URL, err)
	}
	defer t.Close("bye")

	params, err := c.handshake(ctx, t)
	if err != nil {
		metrics.Reconnects.WithLabelValues("refused").Inc()
		return false, err
	}
	metrics.Reconnects.WithLabelValues("connected").Inc()
	c.logger.Info("gateway: connected", "url", c.opts.URL, "as", params.ClientAddr, "host", params.Host)

	interval := params.Interval()
	if interval <= 0 {
		interval = defaultInterval
	}
	start := time.Now()
	err = c.serve(ctx, t, interval, params.Versions)
	return time.Since(start) >= interval, err
}

func (c *Client) handshake(ctx context.Context, t transport.Transport) (wire.Params, error) {
	e, err := c.receiveOne(ctx, t)
	if err != nil {
		return wire.Params{}, err
	}
	if e.Kind() != wire.TypeGetAuth {
		return wire.Params{}, fmt.Errorf("%w: expected get_auth, got %s", ErrRefused, e.Kind())
	}
	auth := &wire.PutAuth{Header: wire.Header{Type: wire.TypePutAuth, Src: c.bus.Addr(), Dst: addr.Server}, Token: c.opts.Token()}
	if err := c.send(ctx, t, auth); err != nil {
		return wire.Params{}, fmt.Errorf("%w: sending put_auth: %v", ErrClosed, err)
	}
	e, err = c.receiveOne(ctx, t)
	if err != nil {
		return wire.Params{}, err
	}
	hello, ok := e.(*wire.HelloConnected)
	if !ok {
		return wire.Params{}, fmt.Errorf("%w: %s", ErrRefused, e.Kind())
	}
	return hello.Param, nil
}

func (c *Client) receiveOne(ctx context.Context, t transport.Transport) (wire.Event, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()
	raw, err := t.ReceiveJSON(rctx)
	if err != nil {
		return nil, fmt.Errorf("%w: handshake: %v", ErrClosed, err)
	}
	e, err := wire.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: handshake: %v", ErrRefused, err)
	}
	return e, nil
}

// serve runs the keepalive, receiver and reconciliation for one
// established connection and returns why it ended.
func (c *Client) serve(ctx context.Context, t transport.Transport, interval time.Duration, hub wire.Versions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.setCurrent(t)
	c.bus.Subscribe(c)
	defer func() {
		c.bus.Unsubscribe(c)
		c.setCurrent(nil)
	}()

	done := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Go(func() { done <- c.keepalive(ctx, t, interval) })
	wg.Go(func() { done <- c.receive(ctx, t, 2*interval+time.Second) })

	c.reconcile(ctx, t, hub)

	err := <-done
	cancel()
	wg.Wait()
	return err
}

func (c *Client) keepalive(ctx context.Context, t transport.Transport, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := c.send(ctx, t, wire.Make(wire.TypePing, c.bus.Addr(), addr.Server)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: ping: %v", ErrClosed, err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) receive(ctx context.Context, t transport.Transport, timeout time.Duration) error {
	for {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		raw, err := t.ReceiveJSON(rctx)
		cancel()
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, transport.ErrMalformed):
			c.logger.Warn("gateway: malformed frame", "err", err)
			continue
		case errors.Is(err, transport.ErrTimeout):
			return fmt.Errorf("%w: no traffic for %s", ErrTimeout, timeout)
		default:
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}

		objs, err := wire.SplitFrame(raw)
		if err != nil {
			c.logger.Warn("gateway: malformed frame", "err", err)
			continue
		}
		for _, obj := range objs {
			e, err := wire.Decode(obj)
			if err != nil {
				c.logger.Warn("gateway: dropped event", "err", err)
				continue
			}
			switch e.Kind() {
			case wire.TypePong:
				continue
			case wire.TypeByeTimeout:
				return fmt.Errorf("%w: hub sent bye_timeout", ErrTimeout)
			case wire.TypeBye:
				return fmt.Errorf("%w: hub sent bye", ErrClosed)
			}
			c.bus.Post(ctx, e)
		}
	}
}

// reconcile requests each document whose hub version differs from the
// cached one. An empty hub version means the hub does not serve it.
func (c *Client) reconcile(ctx context.Context, t transport.Transport, hub wire.Versions) {
	local := c.opts.Local()
	for _, doc := range []struct {
		hub, local string
		request    wire.Type
	}{
		{hub.Config, local.Config, wire.TypeGetConfig},
		{hub.Secrets, local.Secrets, wire.TypeGetSecrets},
		{hub.Certificate, local.Certificate, wire.TypeGetCert},
	} {
		if doc.hub == "" || doc.hub == doc.local {
			continue
		}
		c.logger.Info("gateway: refreshing", "request", doc.request, "hub", doc.hub, "local", doc.local)
		if err := c.send(ctx, t, wire.Make(doc.request, c.bus.Addr(), addr.Earth)); err != nil {
			c.logger.Warn("gateway: refresh request failed", "request", doc.request, "err", err)
			return
		}
	}
}

// Receive is the uplink: local events for clients, the hub, or a single
// client are forwarded to the hub.
func (c *Client) Receive(ctx context.Context, e wire.Event) error {
	if !Uplinks(e.Head().Dst) {
		return nil
	}
	t := c.current()
	if t == nil {
		return nil
	}
	return c.send(ctx, t, e)
}

// Uplinks reports whether a local event addressed to dst belongs on the
// hub connection.
func Uplinks(dst string) bool {
	return dst == addr.Clients || dst == addr.Earth || addr.IsClient(dst)
}

func (c *Client) send(ctx context.Context, t transport.Transport, e wire.Event) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.WriteTimeout)
	defer cancel()
	return t.SendJSON(wctx, e)
}

func (c *Client) current() transport.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Client) setCurrent(t transport.Transport) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}
