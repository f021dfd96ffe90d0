package admin

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/replica-scaler/internal/controller"
	"github.com/ChuLiYu/replica-scaler/internal/registry"
	"github.com/ChuLiYu/replica-scaler/internal/rpc"
)

// Client talks to a running admin API.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the admin API at addr. Plaintext is used unless opts say
// otherwise.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial admin API %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req any) error {
	in, err := rpc.Encode(req)
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, method, in, &emptypb.Empty{})
}

// Scale sets the replica count of job.
func (c *Client) Scale(ctx context.Context, job string, replicas int) error {
	return c.call(ctx, methodScale, scaleRequest{Job: job, Replicas: replicas})
}

// Pause pauses every replica of job.
func (c *Client) Pause(ctx context.Context, job string) error {
	return c.call(ctx, methodManage, manageRequest{Job: job, Instruction: string(registry.InstructionPause)})
}

// Resume resumes every replica of job.
func (c *Client) Resume(ctx context.Context, job string) error {
	return c.call(ctx, methodManage, manageRequest{Job: job, Instruction: string(registry.InstructionResume)})
}

// Manage sends a raw management instruction.
func (c *Client) Manage(ctx context.Context, job, instruction string) error {
	return c.call(ctx, methodManage, manageRequest{Job: job, Instruction: instruction})
}

// Shutdown stops job and removes it from the registry.
func (c *Client) Shutdown(ctx context.Context, job string) error {
	return c.call(ctx, methodShutdown, jobRequest{Job: job})
}

// Status lists every job.
func (c *Client) Status(ctx context.Context) ([]controller.Status, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodStatus, &structpb.Struct{}, out); err != nil {
		return nil, err
	}
	var resp statusResponse
	if err := rpc.Decode(out, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}
