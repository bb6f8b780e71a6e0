package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/presence"
	"github.com/alfredjeanlab/leafbus/internal/services"
	"github.com/alfredjeanlab/leafbus/internal/transport"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// Versioner reports the current version of a per-tree document.
type Versioner interface {
	Version(ctx context.Context, treeID string) (string, error)
}

// Hub serves gateway and client connections onto one bus.
type Hub struct {
	bus      *bus.Bus
	registry *presence.Registry
	opts     Options
	logger   *slog.Logger

	// Gateways and Clients authenticate the two websocket endpoints.
	Gateways Authenticator
	Clients  Authenticator

	// Optional. Config supplies the config version and is the target of
	// rebuilds; Secrets and Certs supply per-tree versions for gateways.
	Config  *services.Config
	Secrets Versioner
	Certs   Versioner

	// Rebuild, if set, regenerates the config document on request.
	Rebuild func(ctx context.Context) (json.RawMessage, error)
}

// NewHub returns a hub posting to b and tracking connections in reg.
func NewHub(b *bus.Bus, reg *presence.Registry, opts Options) *Hub {
	opts = opts.withDefaults()
	return &Hub{bus: b, registry: reg, opts: opts, logger: opts.Logger}
}

// Registry returns the connection registry.
func (h *Hub) Registry() *presence.Registry { return h.registry }

// Serve runs one connection over t to completion.
func (h *Hub) Serve(ctx context.Context, t transport.Transport, auth Authenticator, host string) error {
	opts := h.opts
	opts.Host = host
	opts.Versions = h.versions
	return NewConn(t, h.bus, h.registry, auth, opts).Run(ctx)
}

func (h *Hub) versions(ctx context.Context, identity string) wire.Versions {
	var v wire.Versions
	if h.Config != nil {
		v.Config = h.Config.Version()
	}
	a, err := addr.Parse(identity)
	if err != nil {
		return v
	}
	tree, ok := a.(addr.Branch)
	if !ok {
		return v
	}
	v.Secrets = h.version(ctx, h.Secrets, "secrets", tree.Tree)
	v.Certificate = h.version(ctx, h.Certs, "certificate", tree.Tree)
	return v
}

func (h *Hub) version(ctx context.Context, src Versioner, what, treeID string) string {
	if src == nil {
		return ""
	}
	v, err := src.Version(ctx, treeID)
	if err != nil {
		h.logger.Warn("hub: version lookup failed", "document", what, "tree", treeID, "err", err)
		return ""
	}
	return v
}

// OnlyGateways restricts a to gateway identities.
func OnlyGateways(a Authenticator) Authenticator {
	return AuthenticatorFunc(func(ctx context.Context, token string) (string, error) {
		id, err := a.Authenticate(ctx, token)
		if err != nil {
			return "", err
		}
		if addr.IsClient(id) {
			return "", ErrInvalidToken
		}
		return id, nil
	})
}

// OnlyClients restricts a to client identities.
func OnlyClients(a Authenticator) Authenticator {
	return AuthenticatorFunc(func(ctx context.Context, token string) (string, error) {
		id, err := a.Authenticate(ctx, token)
		if err != nil {
			return "", err
		}
		if !addr.IsClient(id) {
			return "", ErrInvalidToken
		}
		return id, nil
	})
}
