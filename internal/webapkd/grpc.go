package webapkd

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/autopeer-io/webapkd/pkg/log"
	"github.com/autopeer-io/webapkd/pkg/options"
)

// ServiceName is the health service name webapkd reports under, next to the
// overall "" entry.
const ServiceName = "webapkd"

// healthPollInterval is how often readiness is mirrored into the health service.
const healthPollInterval = 5 * time.Second

// grpcServer serves the standard gRPC health service so orchestrators can
// check webapkd without speaking its HTTP API.
type grpcServer struct {
	server  *grpc.Server
	health  *health.Server
	ready   func() bool
	options *options.GrpcOptions
}

func newGRPCServer(opts *options.GrpcOptions, ready func() bool) *grpcServer {
	s := grpc.NewServer(grpc.UnaryInterceptor(unaryTimeoutInterceptor(opts.Timeout)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s) // Enable grpc_cli support

	return &grpcServer{
		server:  s,
		health:  hs,
		ready:   ready,
		options: opts,
	}
}

// Serve serves on lis until ctx is done.
func (s *grpcServer) Serve(ctx context.Context, lis net.Listener) error {
	s.syncHealth()

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.syncHealth()
		case <-ctx.Done():
			s.health.Shutdown()
			s.server.GracefulStop()
			return nil
		}
	}
}

// Start listens on the configured address and serves until ctx is done.
func (s *grpcServer) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}

	log.Info("Starting gRPC Server", "addr", s.options.Addr)
	return s.Serve(ctx, lis)
}

func (s *grpcServer) syncHealth() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.ready != nil && !s.ready() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// unaryTimeoutInterceptor bounds calls that arrive without a deadline.
func unaryTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); !ok && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return handler(ctx, req)
	}
}
