// Package healthz serves the standard gRPC health-checking protocol
// (grpc.health.v1) using the pre-generated stubs shipped inside
// google.golang.org/grpc, the way Chapter11's linksrus services sit a gRPC
// listener alongside the rest of the application (spec.md §9.5).
package healthz

import (
	"context"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Server reports a single boolean health status ("" service = the whole
// process) that flips to NOT_SERVING once the Scheduler stops accepting new
// frames.
type Server struct {
	grpc_health_v1.UnimplementedHealthServer

	mu      sync.RWMutex
	serving bool

	grpcServer *grpc.Server
}

// NewServer returns a Server reporting SERVING.
func NewServer() *Server {
	return &Server{serving: true}
}

// SetServing flips the reported status.
func (s *Server) SetServing(serving bool) {
	s.mu.Lock()
	s.serving = serving
	s.mu.Unlock()
}

// Check implements grpc_health_v1.HealthServer.
func (s *Server) Check(context.Context, *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if s.serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: status}, nil
}

// Serve starts a gRPC listener on addr exposing only the health service. It
// blocks until the listener is closed.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.grpcServer = grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s)
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the gRPC listener, if Serve was called.
func (s *Server) Stop() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}
