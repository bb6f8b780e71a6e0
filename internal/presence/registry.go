// Package presence is the connection registry: which gateways and UI
// clients are connected right now, and when each gateway was last seen.
//
// Claim is the only way into the connected state and is an atomic
// check-and-set, so two connections can never both hold the same address.
// Gateway records survive disconnection for auditing; client records are
// removed because client addresses are reissued.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/idgen"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// Connection classes.
const (
	ClassGateway = "gateway"
	ClassClient  = "client"
)

// Record is a snapshot of one registry entry.
type Record struct {
	Addr           string      `json:"addr"`
	Class          string      `json:"class"`
	Session        string      `json:"session"`
	Params         wire.Params `json:"params"`
	Connected      bool        `json:"connected"`
	ConnectedAt    time.Time   `json:"connected_at"`
	DisconnectedAt time.Time   `json:"disconnected_at,omitzero"`
	LastSeen       time.Time   `json:"last_seen"`
	Frames         int64       `json:"frames"`
}

// ReaperConfig configures eviction of long-disconnected gateway records.
type ReaperConfig struct {
	// EvictAfter is how long a gateway may stay disconnected before its
	// record is dropped. Default: 7 days.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: 10 minutes.
	SweepInterval time.Duration

	// OnEvict is called outside the lock for each evicted address.
	OnEvict func(address string)
}

// Registry maps addresses to connection records.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Claim marks address connected with params. It returns false, leaving the
// registry unchanged, if address is already connected.
func (r *Registry) Claim(address string, params wire.Params) (Record, bool) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[address]; ok && rec.Connected {
		return *rec, false
	}
	rec := &Record{
		Addr:        address,
		Class:       classOf(address),
		Session:     idgen.MustSession(),
		Params:      params,
		Connected:   true,
		ConnectedAt: now,
		LastSeen:    now,
	}
	r.records[address] = rec
	return *rec, true
}

// Touch records activity on a connected address.
func (r *Registry) Touch(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[address]; ok && rec.Connected {
		rec.LastSeen = time.Now()
		rec.Frames++
	}
}

// Release ends the connection identified by address and session. Client
// records are deleted; gateway records are kept, marked disconnected. A
// session that no longer owns the record is ignored.
func (r *Registry) Release(address, session string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[address]
	if !ok || rec.Session != session {
		return
	}
	if rec.Class == ClassClient {
		delete(r.records, address)
		return
	}
	rec.Connected = false
	rec.DisconnectedAt = time.Now()
}

// Get returns the record for address.
func (r *Registry) Get(address string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[address]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// IsConnected reports whether address currently holds a connection.
func (r *Registry) IsConnected(address string) bool {
	rec, ok := r.Get(address)
	return ok && rec.Connected
}

// Snapshot returns all records, connected first, then most recently seen.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Connected != out[j].Connected {
			return out[i].Connected
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Addr < out[j].Addr
	})
	return out
}

// Count returns the number of connected records in class.
func (r *Registry) Count(class string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.records {
		if rec.Connected && rec.Class == class {
			n++
		}
	}
	return n
}

// StartReaper launches a goroutine that evicts stale gateway records.
// Call Stop to shut it down.
func (r *Registry) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 7 * 24 * time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 10 * time.Minute
	}

	r.reaperStop = make(chan struct{})
	r.reaperDone = make(chan struct{})

	go r.reapLoop(cfg)
	slog.Info("presence: reaper started",
		"evict_after", cfg.EvictAfter,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (r *Registry) Stop() {
	if r.reaperStop != nil {
		close(r.reaperStop)
		<-r.reaperDone
		r.reaperStop = nil
		r.reaperDone = nil
	}
}

func (r *Registry) reapLoop(cfg *ReaperConfig) {
	defer close(r.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.reaperStop:
			return
		case <-ticker.C:
			r.sweep(cfg)
		}
	}
}

func (r *Registry) sweep(cfg *ReaperConfig) {
	now := time.Now()
	var evicted []string

	r.mu.Lock()
	for address, rec := range r.records {
		if rec.Connected || rec.DisconnectedAt.IsZero() {
			continue
		}
		if now.Sub(rec.DisconnectedAt) > cfg.EvictAfter {
			delete(r.records, address)
			evicted = append(evicted, address)
		}
	}
	r.mu.Unlock()

	for _, address := range evicted {
		slog.Info("presence: evicted stale gateway", "addr", address, "evict_after", cfg.EvictAfter)
		if cfg.OnEvict != nil {
			cfg.OnEvict(address)
		}
	}
}

func classOf(address string) string {
	if addr.IsClient(address) {
		return ClassClient
	}
	return ClassGateway
}
