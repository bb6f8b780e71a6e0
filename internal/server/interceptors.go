package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const healthMethodPrefix = "/grpc.health.v1.Health/"

var (
	errNoCredentials = errors.New("missing authorization header")
	errBadScheme     = errors.New("invalid authorization scheme")
	errBadToken      = errors.New("invalid token")
)

// checkBearer validates an Authorization value against the admin token.
// An empty admin token accepts everything.
func checkBearer(header, admin string) error {
	if admin == "" {
		return nil
	}
	if header == "" {
		return errNoCredentials
	}
	provided, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return errBadScheme
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(admin)) != 1 {
		return errBadToken
	}
	return nil
}

// checkRPC applies checkBearer to the incoming metadata of method. Health
// RPCs are exempt so load balancers need no credentials.
func checkRPC(ctx context.Context, method, admin string) error {
	if strings.HasPrefix(method, healthMethodPrefix) {
		return nil
	}
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
	}
	if err := checkBearer(header, admin); err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	return nil
}

// LoggingInterceptor logs failed unary RPCs at error level and the rest at
// debug, since health checks dominate the traffic.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logRPC(info.FullMethod, start, err)
	return resp, err
}

func logRPC(method string, start time.Time, err error) {
	if err != nil {
		slog.Error("rpc: failed", "method", method, "duration", time.Since(start), "err", err)
		return
	}
	slog.Debug("rpc: completed", "method", method, "duration", time.Since(start))
}

// RecoveryInterceptor turns a panic in a unary handler into codes.Internal.
func RecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer recoverRPC(info.FullMethod, &err)
	return handler(ctx, req)
}

// StreamRecoveryInterceptor is RecoveryInterceptor for streams (health
// Watch, reflection).
func StreamRecoveryInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer recoverRPC(info.FullMethod, &err)
	return handler(srv, ss)
}

func recoverRPC(method string, err *error) {
	if r := recover(); r != nil {
		slog.Error("rpc: panic recovered", "method", method, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		*err = status.Errorf(codes.Internal, "internal server error")
	}
}

// AuthInterceptor requires "authorization: Bearer <token>" metadata on
// every unary RPC except health checks. An empty token disables the check.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := checkRPC(ctx, info.FullMethod, token); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is AuthInterceptor for streams.
func StreamAuthInterceptor(token string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkRPC(ss.Context(), info.FullMethod, token); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// AuthMiddleware wraps next with the same bearer check for the admin HTTP
// routes.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := checkBearer(r.Header.Get("Authorization"), token); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
