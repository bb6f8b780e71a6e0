package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the name the hub reports under in the gRPC health
// service, alongside the empty overall name.
const HealthService = "leafbus.Earth"

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the health service and reflection. The returned health server
// starts NOT_SERVING; callers flip it once the hub is accepting.
func NewGRPCServer(adminToken string) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(adminToken),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamAuthInterceptor(adminToken),
		),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, hs
}

// SetServing flips every status on hs.
func SetServing(hs *health.Server, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(HealthService, status)
}
