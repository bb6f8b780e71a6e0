// Package client talks to a running hub's admin surface: the HTTP API for
// connections, health and config rebuilds, and the gRPC health service.
package client

import (
	"context"

	"github.com/alfredjeanlab/leafbus/internal/server"
)

// EarthClient is what the earth CLI commands use to reach the hub.
type EarthClient interface {
	Connections(ctx context.Context) (*server.ConnectionsResponse, error)
	Health(ctx context.Context) (*HealthResponse, error)
	RebuildConfig(ctx context.Context) (string, error)
	Close() error
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Gateways int    `json:"gateways"`
	Clients  int    `json:"clients"`
}

var _ EarthClient = (*HTTPClient)(nil)
