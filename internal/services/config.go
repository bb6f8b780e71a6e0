package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/store"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// ConfigMode selects how a Config store reacts to incoming documents.
type ConfigMode int

const (
	// Authoritative is the hub: documents addressed to it are persisted and
	// broadcast to every gateway and client.
	Authoritative ConfigMode = iota
	// Replica is a gateway: any document it sees replaces its local copy.
	Replica
)

// Config holds the shared config document.
type Config struct {
	bus     *bus.Bus
	storage store.ConfigStorage
	mode    ConfigMode
	logger  *slog.Logger

	mu     sync.RWMutex
	doc    json.RawMessage
	parsed map[string]any
}

// NewConfig creates a config store. storage may be nil.
func NewConfig(b *bus.Bus, storage store.ConfigStorage, mode ConfigMode, logger *slog.Logger) *Config {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Config{bus: b, storage: storage, mode: mode, logger: logger}
	c.set(json.RawMessage(`{}`), map[string]any{})
	return c
}

// Load reads the persisted document. A missing document leaves the store
// empty.
func (c *Config) Load(ctx context.Context) error {
	if c.storage == nil {
		return nil
	}
	doc, err := c.storage.LoadConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	parsed, err := parseDocument(doc)
	if err != nil {
		return err
	}
	c.set(doc, parsed)
	return nil
}

func (c *Config) Receive(ctx context.Context, e wire.Event) error {
	switch v := e.(type) {
	case *wire.GetConfig:
		if v.Src == "" {
			return nil
		}
		c.bus.Post(ctx, &wire.PutConfig{
			Header: wire.Header{Type: wire.TypePutConfig, Src: c.bus.Addr(), Dst: v.Src},
			Data:   c.Document(),
		})
	case *wire.PutConfig:
		if c.accepts(v.Header) {
			return c.Replace(ctx, v.Data)
		}
	case *wire.UpdateConfig:
		if c.accepts(v.Header) {
			return c.Replace(ctx, v.Data)
		}
	}
	return nil
}

func (c *Config) accepts(h wire.Header) bool {
	if h.Src == c.bus.Addr() {
		return false
	}
	if c.mode == Replica {
		return true
	}
	return h.Dst == addr.Server || h.Dst == addr.Earth || h.Dst == c.bus.Addr()
}

// Replace swaps in doc wholesale and persists it. An authoritative store
// then broadcasts it to all gateways and clients.
func (c *Config) Replace(ctx context.Context, doc json.RawMessage) error {
	parsed, err := parseDocument(doc)
	if err != nil {
		c.logger.Warn("config: rejected document", "err", err)
		return err
	}
	c.set(doc, parsed)
	version := c.Version()

	if c.storage != nil {
		// The document is already live; finish persisting it even if the
		// connection that sent it has gone.
		if err := c.storage.SaveConfig(context.WithoutCancel(ctx), doc); err != nil {
			c.logger.Error("config: persist failed", "version", version, "err", err)
		}
	}
	c.logger.Info("config: replaced", "version", version, "mode", c.mode)

	if c.mode == Authoritative {
		for _, dst := range []string{addr.Branches, addr.Clients} {
			c.bus.Post(ctx, &wire.UpdateConfig{
				Header: wire.Header{Type: wire.TypeUpdateConfig, Src: c.bus.Addr(), Dst: dst},
				Data:   doc,
			})
		}
	}
	return nil
}

func (c *Config) set(doc json.RawMessage, parsed map[string]any) {
	c.mu.Lock()
	c.doc = doc
	c.parsed = parsed
	c.mu.Unlock()
}

// Document returns the current document.
func (c *Config) Document() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc
}

// Version returns the document's "version" field, or "" if unset.
func (c *Config) Version() string {
	v, ok := c.Get("version")
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Get looks up a slash-separated path such as "wifi/ssid". Array elements
// are addressed by index. An empty path returns the whole document.
func (c *Config) Get(path string) (any, bool) {
	c.mu.RLock()
	var cur any = c.parsed
	c.mu.RUnlock()

	if path == "" {
		return cur, true
	}
	for _, key := range strings.Split(path, "/") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func (m ConfigMode) String() string {
	if m == Replica {
		return "replica"
	}
	return "authoritative"
}

func parseDocument(doc json.RawMessage) (map[string]any, error) {
	var parsed map[string]any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("config document: %w", err)
	}
	if parsed == nil {
		return nil, errors.New("config document: not an object")
	}
	return parsed, nil
}
