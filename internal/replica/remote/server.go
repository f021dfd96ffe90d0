// ============================================================================
// Replica Agent - 為遠端控制器託管副本的 gRPC 伺服器
// ============================================================================
//
// Package: internal/replica/remote
// 文件: server.go
// 功能: 在 local.Pool 中代替其他進程的控制器運行副本，
//       提供 ReplicaAgent 服務與標準 health 服務
//
// 遠端副本的生命週期:
//   Create  - 放入副本池，回覆 id
//   Run     - 啟動副本，保持調用直到副本退出
//   Pause / Resume / Shutdown / Kill / EvaluateQueues - 按 id 轉發
//   客戶端中斷 Run 調用時副本會被終止，因為已無人觀察其結果
//
// ============================================================================

package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/ChuLiYu/replica-scaler/internal/replica"
	"github.com/ChuLiYu/replica-scaler/internal/replica/local"
)

// log resolves the default logger on every call, so a handler installed
// after package init still applies.
func log() *slog.Logger { return slog.Default() }

// AgentServer implements the ReplicaAgent service on top of a local pool.
type AgentServer struct {
	pool   *local.Pool
	health *health.Server

	mu       sync.RWMutex
	replicas map[string]*local.Replica // by id, until its outcome was delivered
}

var _ agentService = (*AgentServer)(nil)

// NewAgentServer creates an agent backed by pool.
func NewAgentServer(pool *local.Pool) *AgentServer {
	return &AgentServer{
		pool:     pool,
		health:   health.NewServer(),
		replicas: make(map[string]*local.Replica),
	}
}

// Register attaches the agent and health services to gs.
func (s *AgentServer) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Serve runs a gRPC server on lis until ctx is cancelled, then stops the
// pool so no replica outlives the agent.
func (s *AgentServer) Serve(ctx context.Context, lis net.Listener, opts ...grpc.ServerOption) error {
	gs := grpc.NewServer(opts...)
	s.Register(gs)

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.pool.Stop(context.WithoutCancel(ctx))
		gs.GracefulStop()
	}()

	log().Info("Replica agent listening", "address", lis.Addr().String())
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("agent server: %w", err)
	}
	return nil
}

func (s *AgentServer) lookup(id string) (*local.Replica, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.replicas[id]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "replica %s not found", id)
	}
	return r, nil
}

func (s *AgentServer) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.replicas, id)
}

func (s *AgentServer) create(ctx context.Context, req createRequest) (createResponse, error) {
	if err := req.Descriptor.Validate(); err != nil {
		return createResponse{}, invalid(err)
	}

	// The controller owns the replica-count gauge; the agent reports nothing.
	r, err := s.pool.CreateReplica(ctx, req.Descriptor, req.Ordinal)
	if err != nil {
		var pe *replica.PlacementError
		if errors.As(err, &pe) {
			return createResponse{}, status.Error(codes.ResourceExhausted, pe.Error())
		}
		return createResponse{}, status.Error(codes.Internal, err.Error())
	}

	s.mu.Lock()
	s.replicas[r.ID()] = r
	s.mu.Unlock()

	log().Info("Replica created", "label", r.Label(), "id", r.ID(), "node", r.Node())
	return createResponse{ID: r.ID(), Label: r.Label(), Node: r.Node()}, nil
}

func (s *AgentServer) run(ctx context.Context, id string) (runResponse, error) {
	r, err := s.lookup(id)
	if err != nil {
		return runResponse{}, err
	}

	signal := r.Run(ctx)
	select {
	case <-signal.Done():
	case <-ctx.Done():
		log().Warn("Run call dropped, killing replica", "label", r.Label(), "id", id)
		r.Kill(context.WithoutCancel(ctx))
		s.forget(id)
		return runResponse{}, status.FromContextError(ctx.Err()).Err()
	}
	s.forget(id)

	resp := runResponse{}
	if err := signal.Err(); err != nil {
		resp.Killed = errors.Is(err, replica.ErrKilled)
		resp.Error = err.Error()
	}
	return resp, nil
}

func (s *AgentServer) pause(ctx context.Context, id string) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	return toStatus(r.Pause(ctx))
}

func (s *AgentServer) resume(ctx context.Context, id string) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	return toStatus(r.Resume(ctx))
}

func (s *AgentServer) shutdown(ctx context.Context, id string) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	return toStatus(r.GracefulShutdown(ctx))
}

func (s *AgentServer) kill(ctx context.Context, id string) error {
	r, err := s.lookup(id)
	if err != nil {
		// Already gone counts as killed.
		return nil
	}
	r.Kill(ctx)
	return nil
}

func (s *AgentServer) evaluateQueues(ctx context.Context, req evaluateRequest) error {
	r, err := s.lookup(req.ID)
	if err != nil {
		return err
	}
	return toStatus(r.EvaluateQueues(ctx, req.Bindings))
}

func invalid(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, replica.ErrKilled):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
