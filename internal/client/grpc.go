package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth queries the hub's gRPC health service.
type GRPCHealth struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// NewGRPCHealth connects to the given gRPC address.
func NewGRPCHealth(addr string) (*GRPCHealth, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCHealth{conn: conn, client: healthpb.NewHealthClient(conn)}, nil
}

func (c *GRPCHealth) Close() error {
	return c.conn.Close()
}

// Check returns the serving status of service ("" for the server as a
// whole), e.g. "SERVING".
func (c *GRPCHealth) Check(ctx context.Context, service string) (string, error) {
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}
