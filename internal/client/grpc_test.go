package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/server"
)

func TestGRPCHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv, hs := server.NewGRPCServer("admin")
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(srv.Stop)

	c, err := NewGRPCHealth(lis.Addr().String())
	if err != nil {
		t.Fatalf("NewGRPCHealth: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := c.Check(ctx, server.HealthService)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != "NOT_SERVING" {
		t.Errorf("before SetServing: %s", status)
	}

	server.SetServing(hs, true)
	for _, svc := range []string{"", server.HealthService} {
		status, err := c.Check(ctx, svc)
		if err != nil {
			t.Fatalf("Check(%q): %v", svc, err)
		}
		if status != "SERVING" {
			t.Errorf("Check(%q) = %s, want SERVING", svc, status)
		}
	}

	if _, err := c.Check(ctx, "unknown.Service"); err == nil {
		t.Error("expected NotFound for an unregistered service")
	}
}
