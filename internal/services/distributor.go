package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// Bundle is a per-tree document handed to a gateway.
type Bundle struct {
	Data    map[string]any
	Version string
}

// Provider produces bundles for trees.
type Provider interface {
	Get(ctx context.Context, treeID string) (Bundle, error)
	Version(ctx context.Context, treeID string) (string, error)
}

// Distributor answers a gateway's request for its bundle. Secrets and
// certificates are both distributed this way.
type Distributor struct {
	bus      *bus.Bus
	provider Provider
	request  wire.Type
	reply    func(wire.Header, json.RawMessage) wire.Event
	logger   *slog.Logger
}

// NewSecrets answers get_secrets with put_secrets.
func NewSecrets(b *bus.Bus, p Provider, logger *slog.Logger) *Distributor {
	return newDistributor(b, p, wire.TypeGetSecrets, logger, func(h wire.Header, data json.RawMessage) wire.Event {
		h.Type = wire.TypePutSecrets
		return &wire.PutSecrets{Header: h, Data: data}
	})
}

// NewCertificates answers get_cert with put_cert.
func NewCertificates(b *bus.Bus, p Provider, logger *slog.Logger) *Distributor {
	return newDistributor(b, p, wire.TypeGetCert, logger, func(h wire.Header, data json.RawMessage) wire.Event {
		h.Type = wire.TypePutCert
		return &wire.PutCert{Header: h, Data: data}
	})
}

func newDistributor(b *bus.Bus, p Provider, request wire.Type, logger *slog.Logger, reply func(wire.Header, json.RawMessage) wire.Event) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{bus: b, provider: p, request: request, reply: reply, logger: logger}
}

func (d *Distributor) Receive(ctx context.Context, e wire.Event) error {
	if e.Kind() != d.request {
		return nil
	}
	src := e.Head().Src
	a, err := addr.Parse(src)
	if err != nil {
		d.logger.Warn("distributor: bad requester", "type", d.request, "src", src)
		return nil
	}
	tree, ok := a.(addr.Branch)
	if !ok {
		d.logger.Warn("distributor: request from non-gateway ignored", "type", d.request, "src", src)
		return nil
	}

	data, err := d.bundle(ctx, tree.Tree)
	if err != nil {
		d.logger.Error("distributor: bundle failed", "type", d.request, "tree", tree.Tree, "err", err)
		return err
	}
	d.bus.Post(ctx, d.reply(wire.Header{Src: d.bus.Addr(), Dst: src}, data))
	return nil
}

func (d *Distributor) bundle(ctx context.Context, treeID string) (json.RawMessage, error) {
	b, err := d.provider.Get(ctx, treeID)
	if err != nil {
		return nil, err
	}
	data := make(map[string]any, len(b.Data)+1)
	for k, v := range b.Data {
		data[k] = v
	}
	data["version"] = b.Version
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding bundle for %s: %w", treeID, err)
	}
	return raw, nil
}

// Version returns the provider's current version for treeID.
func (d *Distributor) Version(ctx context.Context, treeID string) (string, error) {
	return d.provider.Version(ctx, treeID)
}
