// Package services holds the subscribers that give the bus its behaviour:
// the current-state cache, the config store, log history, the counter
// example, and the secrets and certificate distributors.
package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// Entry is the last known value of an entity attribute.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	Timestamp float64         `json:"timestamp"`
}

// CurrentState caches the last state event per eid and replays the cache
// to anyone who sends get_state.
//
// Updates are last-write-wins by arrival order; a late event carrying an
// older timestamp still overwrites.
type CurrentState struct {
	bus *bus.Bus

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCurrentState returns an empty cache that replies through b.
func NewCurrentState(b *bus.Bus) *CurrentState {
	return &CurrentState{bus: b, entries: make(map[string]Entry)}
}

func (s *CurrentState) Receive(ctx context.Context, e wire.Event) error {
	switch v := e.(type) {
	case *wire.State:
		s.mu.Lock()
		s.entries[v.EID] = Entry{Value: v.Value, Timestamp: v.Timestamp}
		s.mu.Unlock()
	case *wire.GetState:
		if v.Src == "" {
			return nil
		}
		s.replay(ctx, v.Src)
	}
	return nil
}

func (s *CurrentState) replay(ctx context.Context, dst string) {
	snap := s.Snapshot()
	eids := make([]string, 0, len(snap))
	for eid := range snap {
		eids = append(eids, eid)
	}
	sort.Strings(eids)

	for _, eid := range eids {
		entry := snap[eid]
		s.bus.Post(ctx, &wire.State{
			Header:    wire.Header{Type: wire.TypeState, Src: s.bus.Addr(), Dst: dst},
			EID:       eid,
			Value:     entry.Value,
			Timestamp: entry.Timestamp,
		})
	}
}

// Snapshot returns a copy of the cache.
func (s *CurrentState) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Get returns the cached entry for eid.
func (s *CurrentState) Get(eid string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[eid]
	return v, ok
}
