package services

import (
	"context"
	"sync"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// DefaultLogCapacity is the hub's log history size.
const DefaultLogCapacity = 500

// LogHistory keeps the most recent error-level log events and replays
// them, oldest first, to anyone who sends get_log. Only broadcast log
// events are recorded; a replay is always unicast, whether it is this
// history answering or a hub replay arriving at a gateway.
type LogHistory struct {
	bus *bus.Bus

	mu   sync.Mutex
	ring []*wire.Log
	pos  int // next write position
	n    int // valid entries
}

// NewLogHistory returns an empty history holding up to capacity events.
func NewLogHistory(b *bus.Bus, capacity int) *LogHistory {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogHistory{bus: b, ring: make([]*wire.Log, capacity)}
}

func (h *LogHistory) Receive(ctx context.Context, e wire.Event) error {
	switch v := e.(type) {
	case *wire.Log:
		if v.Levelno < wire.LevelError {
			return nil
		}
		if unicast(v.Dst) {
			return nil
		}
		h.append(v)
	case *wire.GetLog:
		if v.Src == "" {
			return nil
		}
		for _, entry := range h.Entries() {
			h.bus.Post(ctx, wire.WithDst(entry, v.Src))
		}
	}
	return nil
}

func unicast(dst string) bool {
	a, err := addr.Parse(dst)
	if err != nil {
		return false
	}
	_, group := a.(addr.Group)
	return !group
}

func (h *LogHistory) append(e *wire.Log) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.pos] = e
	h.pos = (h.pos + 1) % len(h.ring)
	if h.n < len(h.ring) {
		h.n++
	}
}

// Entries returns the buffered events, oldest first.
func (h *LogHistory) Entries() []*wire.Log {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*wire.Log, 0, h.n)
	start := h.pos - h.n
	if start < 0 {
		start += len(h.ring)
	}
	for i := range h.n {
		out = append(out, h.ring[(start+i)%len(h.ring)])
	}
	return out
}

// Len returns the number of buffered events.
func (h *LogHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}
