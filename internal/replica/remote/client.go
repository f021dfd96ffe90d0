package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/replica-scaler/internal/replica"
	"github.com/ChuLiYu/replica-scaler/internal/rpc"
	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

// ErrNoAgents means the factory was configured without agent addresses.
var ErrNoAgents = errors.New("no replica agents configured")

// Config lists the agents a Factory places replicas on.
type Config struct {
	Agents      []string
	DialTimeout time.Duration // bounds the health check of one agent
	DialOptions []grpc.DialOption
}

// Factory is a replica.Factory that creates replicas on remote agents.
// Agents are tried round-robin; one that is unhealthy or out of capacity is
// skipped in favour of the next.
type Factory struct {
	cfg Config

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn // cached per agent address
	next  int
}

var _ replica.Factory = (*Factory)(nil)

// NewFactory creates a factory. Connections are opened lazily.
func NewFactory(cfg Config) *Factory {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if len(cfg.DialOptions) == 0 {
		cfg.DialOptions = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Factory{cfg: cfg, conns: make(map[string]*grpc.ClientConn)}
}

// conn returns the cached connection to addr, creating it on first use.
func (f *Factory) conn(addr string) (*grpc.ClientConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if conn, ok := f.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(addr, f.cfg.DialOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial agent %s: %w", addr, err)
	}
	f.conns[addr] = conn
	return conn, nil
}

// order returns the agents starting at the round-robin cursor.
func (f *Factory) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.cfg.Agents)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, f.cfg.Agents[(f.next+i)%n])
	}
	if n > 0 {
		f.next = (f.next + 1) % n
	}
	return out
}

// checkHealth retries the health check with exponential backoff until the
// agent reports SERVING or the dial timeout passes.
func (f *Factory) checkHealth(ctx context.Context, conn *grpc.ClientConn) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.DialTimeout)
	defer cancel()

	client := healthpb.NewHealthClient(conn)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(func() error {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return backoff.Permanent(err)
			}
			return err
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("agent is %s", resp.GetStatus())
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// Create places a replica on the first agent that accepts it.
func (f *Factory) Create(ctx context.Context, desc types.JobInstanceDescriptor, ordinal int, _ replica.MetricsSink) (replica.Handle, error) {
	label := replica.Label(desc.Name, ordinal)
	agents := f.order()
	if len(agents) == 0 {
		return nil, &replica.PlacementError{Label: label, Reason: "no agent available", Err: ErrNoAgents}
	}

	req, err := rpc.Encode(createRequest{Descriptor: desc, Ordinal: ordinal})
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, addr := range agents {
		conn, err := f.conn(addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := f.checkHealth(ctx, conn); err != nil {
			log().Warn("Agent unhealthy, skipping", "agent", addr, "label", label, "error", err)
			errs = append(errs, fmt.Errorf("agent %s unhealthy: %w", addr, err))
			continue
		}

		out := new(structpb.Struct)
		if err := conn.Invoke(ctx, methodCreate, req, out); err != nil {
			if status.Code(err) == codes.ResourceExhausted {
				log().Debug("Agent out of capacity", "agent", addr, "label", label)
			} else {
				log().Warn("Create on agent failed", "agent", addr, "label", label, "error", err)
			}
			errs = append(errs, fmt.Errorf("agent %s: %w", addr, err))
			continue
		}

		var resp createResponse
		if err := rpc.Decode(out, &resp); err != nil {
			return nil, err
		}
		log().Debug("Remote replica created", "agent", addr, "label", resp.Label, "id", resp.ID)
		return &Handle{
			conn:       conn,
			agent:      addr,
			id:         resp.ID,
			label:      resp.Label,
			completion: replica.NewCompletion(),
		}, nil
	}

	return nil, &replica.PlacementError{
		Label:  label,
		Reason: fmt.Sprintf("no agent accepted the replica (%d tried)", len(agents)),
		Err:    errors.Join(errs...),
	}
}

// Close closes every cached connection.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for addr, conn := range f.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
		delete(f.conns, addr)
	}
	return errors.Join(errs...)
}

// Handle is a replica living on an agent.
type Handle struct {
	conn  grpc.ClientConnInterface
	agent string
	id    string
	label string

	runOnce    sync.Once
	completion *replica.Completion
}

var _ replica.Handle = (*Handle)(nil)

func (h *Handle) Label() string { return h.label }

// Agent is the address of the agent hosting the replica.
func (h *Handle) Agent() string { return h.agent }

// Run starts the replica. The outcome arrives when the agent's Run call
// returns; a broken call resolves the signal with the transport error.
func (h *Handle) Run(ctx context.Context) replica.Signal {
	h.runOnce.Do(func() {
		runCtx := context.WithoutCancel(ctx)
		go func() {
			h.completion.Resolve(h.awaitRun(runCtx))
		}()
	})
	return h.completion
}

func (h *Handle) awaitRun(ctx context.Context) error {
	req, err := rpc.Encode(replicaRef{ID: h.id})
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := h.conn.Invoke(ctx, methodRun, req, out); err != nil {
		return fmt.Errorf("run %s on %s: %w", h.label, h.agent, err)
	}

	var resp runResponse
	if err := rpc.Decode(out, &resp); err != nil {
		return err
	}
	switch {
	case resp.Killed:
		return replica.ErrKilled
	case resp.Error != "":
		return errors.New(resp.Error)
	default:
		return nil
	}
}

func (h *Handle) call(ctx context.Context, method string, payload any) error {
	req, err := rpc.Encode(payload)
	if err != nil {
		return err
	}
	if err := h.conn.Invoke(ctx, method, req, new(emptypb.Empty)); err != nil {
		if status.Code(err) == codes.FailedPrecondition {
			return fmt.Errorf("%s: %w", h.label, replica.ErrKilled)
		}
		return fmt.Errorf("%s on %s: %w", h.label, h.agent, err)
	}
	return nil
}

func (h *Handle) Pause(ctx context.Context) error {
	return h.call(ctx, methodPause, replicaRef{ID: h.id})
}

func (h *Handle) Resume(ctx context.Context) error {
	return h.call(ctx, methodResume, replicaRef{ID: h.id})
}

func (h *Handle) GracefulShutdown(ctx context.Context) error {
	return h.call(ctx, methodShutdown, replicaRef{ID: h.id})
}

// Kill asks the agent to kill the replica and resolves the local signal
// whether or not the agent could be reached.
func (h *Handle) Kill(ctx context.Context) {
	if err := h.call(ctx, methodKill, replicaRef{ID: h.id}); err != nil {
		log().Warn("Remote kill failed", "label", h.label, "agent", h.agent, "error", err)
	}
	h.completion.Resolve(replica.ErrKilled)
}

func (h *Handle) EvaluateQueues(ctx context.Context, bindings types.QueueBindings) error {
	return h.call(ctx, methodEvaluateQueues, evaluateRequest{ID: h.id, Bindings: bindings})
}
