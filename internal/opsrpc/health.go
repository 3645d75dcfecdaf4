// Package opsrpc exposes the standard gRPC health service and reflection on
// a separate operator listener.
package opsrpc

import (
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// MonitorService is the health service name tracking the timeout monitor.
const MonitorService = "keyaccess.TimeoutMonitor"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *log.Logger
}

func New(logger *log.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	// The process itself is serving as soon as the listener is up; the
	// monitor reports separately.
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(MonitorService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{grpc: gs, health: hs, logger: logger}
}

// SetMonitorRunning is shaped to be the monitor's status hook.
func (s *Server) SetMonitorRunning(running bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if running {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(MonitorService, st)
	s.logger.Printf("health %s=%s", MonitorService, st)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks everything not serving and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
