package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/ChuLiYu/replica-scaler/internal/controller"
	"github.com/ChuLiYu/replica-scaler/internal/registry"
)

// log resolves the default logger on every call, so a handler installed
// after package init still applies.
func log() *slog.Logger { return slog.Default() }

// Server exposes a registry.Manager over gRPC.
type Server struct {
	manager *registry.Manager
	health  *health.Server
}

var _ adminService = (*Server)(nil)

// NewServer creates the admin server for manager.
func NewServer(manager *registry.Manager) *Server {
	return &Server{manager: manager, health: health.NewServer()}
}

// Register attaches the admin and health services to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Serve runs the admin API on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener, opts ...grpc.ServerOption) error {
	gs := grpc.NewServer(opts...)
	s.Register(gs)

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		gs.GracefulStop()
	}()

	log().Info("Admin API listening", "address", lis.Addr().String())
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func (s *Server) scale(ctx context.Context, req scaleRequest) error {
	if req.Replicas < 0 {
		return status.Errorf(codes.InvalidArgument, "replicas must not be negative, got %d", req.Replicas)
	}
	return toStatus(s.manager.ScaleJob(ctx, req.Job, req.Replicas))
}

func (s *Server) manage(ctx context.Context, req manageRequest) error {
	return toStatus(s.manager.ManageJob(ctx, req.Job, registry.Instruction(req.Instruction)))
}

func (s *Server) shutdown(ctx context.Context, req jobRequest) error {
	return toStatus(s.manager.ShutdownJob(ctx, req.Job))
}

func (s *Server) status(ctx context.Context) (statusResponse, error) {
	return statusResponse{Jobs: s.manager.Status()}, nil
}

func invalid(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

// toStatus maps registry and controller errors onto gRPC codes.
func toStatus(err error) error {
	var cfgErr *controller.ConfigurationError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrJobNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, registry.ErrUnknownInstruction), errors.As(err, &cfgErr):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
