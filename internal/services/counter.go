package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// Counter is a demo entity: it publishes an incrementing value for its eid
// on every tick and resets to zero on a "reset" action.
type Counter struct {
	bus      *bus.Bus
	eid      string
	interval time.Duration
	limit    int
	dst      string

	mu    sync.Mutex
	value int
}

// NewCounter creates a counter for eid, qualified with the bus address if
// it is a bare "leaf:attr". limit caps the number of ticks; 0 means none.
func NewCounter(b *bus.Bus, eid string, interval time.Duration, limit int) *Counter {
	return &Counter{
		bus:      b,
		eid:      addr.Qualify(eid, b.Addr()),
		interval: interval,
		limit:    limit,
		dst:      addr.Clients,
	}
}

// EID returns the counter's fully-qualified eid.
func (c *Counter) EID() string { return c.eid }

// Value returns the current count.
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Run ticks until ctx is cancelled or the limit is reached.
func (c *Counter) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for n := 0; c.limit == 0 || n < c.limit; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		c.value++
		v := c.value
		c.mu.Unlock()
		if e := c.state(v); e != nil {
			c.bus.PostSync(e)
		}
	}
}

func (c *Counter) Receive(ctx context.Context, e wire.Event) error {
	a, ok := e.(*wire.Action)
	if !ok || a.Action != "reset" || addr.Lineage(a.EID) != addr.Lineage(c.eid) {
		return nil
	}
	c.mu.Lock()
	c.value = 0
	c.mu.Unlock()
	if s := c.state(0); s != nil {
		c.bus.Post(ctx, s)
	}
	return nil
}

func (c *Counter) state(v int) wire.Event {
	s, err := wire.NewState(c.bus.Addr(), c.dst, c.eid, v, time.Now())
	if err != nil {
		slog.Error("counter: encode state", "eid", c.eid, "err", err)
		return nil
	}
	return s
}
