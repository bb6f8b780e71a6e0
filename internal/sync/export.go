// Package sync periodically exports a snapshot of the hub (connection
// registry, current state, config version) as JSONL to S3 or a git repo.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/presence"
	"github.com/alfredjeanlab/leafbus/internal/services"
)

// Registry lists connection records.
type Registry interface {
	Snapshot() []presence.Record
}

// StateCache lists current-state entries by eid.
type StateCache interface {
	Snapshot() map[string]services.Entry
}

// Versioned reports a document version.
type Versioned interface {
	Version() string
}

// Source is what ExportJSONL reads. Nil fields export nothing.
type Source struct {
	Registry Registry
	State    StateCache
	Config   Versioned
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version         string    `json:"version"`
	Type            string    `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	ConfigVersion   string    `json:"config_version,omitempty"`
	ConnectionCount int       `json:"connection_count"`
	StateCount      int       `json:"state_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type stateLine struct {
	EID string `json:"eid"`
	services.Entry
}

// ExportJSONL writes a header, then one "connection" record per registry
// entry sorted by address, then one "state" record per eid sorted by eid.
func ExportJSONL(ctx context.Context, src Source, w io.Writer) error {
	var conns []presence.Record
	if src.Registry != nil {
		conns = src.Registry.Snapshot()
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].Addr < conns[j].Addr })

	var states []stateLine
	if src.State != nil {
		for eid, e := range src.State.Snapshot() {
			states = append(states, stateLine{EID: eid, Entry: e})
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].EID < states[j].EID })

	h := header{
		Version:         "1",
		Type:            "header",
		Timestamp:       time.Now().UTC(),
		ConnectionCount: len(conns),
		StateCount:      len(states),
	}
	if src.Config != nil {
		h.ConfigVersion = src.Config.Version()
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, c := range conns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(record{Type: "connection", Data: c}); err != nil {
			return fmt.Errorf("encode connection %s: %w", c.Addr, err)
		}
	}
	for _, s := range states {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(record{Type: "state", Data: s}); err != nil {
			return fmt.Errorf("encode state %s: %w", s.EID, err)
		}
	}
	return nil
}
