package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/replica-scaler/internal/rpc"
	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

// ServiceName is the gRPC service hosted by every replica agent.
const ServiceName = "replicascaler.agent.v1.ReplicaAgent"

const (
	methodCreate         = "/" + ServiceName + "/Create"
	methodRun            = "/" + ServiceName + "/Run"
	methodPause          = "/" + ServiceName + "/Pause"
	methodResume         = "/" + ServiceName + "/Resume"
	methodShutdown       = "/" + ServiceName + "/Shutdown"
	methodKill           = "/" + ServiceName + "/Kill"
	methodEvaluateQueues = "/" + ServiceName + "/EvaluateQueues"
)

// Wire payloads, carried as structpb.Struct.

type createRequest struct {
	Descriptor types.JobInstanceDescriptor `json:"descriptor"`
	Ordinal    int                         `json:"ordinal"`
}

type createResponse struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Node  string `json:"node"`
}

type replicaRef struct {
	ID string `json:"id"`
}

// runResponse is the outcome of a replica run.
type runResponse struct {
	Killed bool   `json:"killed,omitempty"`
	Error  string `json:"error,omitempty"`
}

type evaluateRequest struct {
	ID       string              `json:"id"`
	Bindings types.QueueBindings `json:"bindings"`
}

// agentService is what the agent implements.
type agentService interface {
	create(ctx context.Context, req createRequest) (createResponse, error)
	run(ctx context.Context, id string) (runResponse, error)
	pause(ctx context.Context, id string) error
	resume(ctx context.Context, id string) error
	shutdown(ctx context.Context, id string) error
	kill(ctx context.Context, id string) error
	evaluateQueues(ctx context.Context, req evaluateRequest) error
}

func reply(v any, err error) (proto.Message, error) {
	if err != nil {
		return nil, err
	}
	return rpc.Encode(v)
}

func empty(err error) (proto.Message, error) {
	if err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func withRef(fn func(agentService, context.Context, string) error) rpc.Call {
	return func(srv any, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
		var ref replicaRef
		if err := rpc.Decode(in, &ref); err != nil {
			return nil, invalid(err)
		}
		return empty(fn(srv.(agentService), ctx, ref.ID))
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*agentService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Create",
			Handler: rpc.Unary(methodCreate, func(srv any, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
				var req createRequest
				if err := rpc.Decode(in, &req); err != nil {
					return nil, invalid(err)
				}
				return reply(srv.(agentService).create(ctx, req))
			}),
		},
		{
			MethodName: "Run",
			Handler: rpc.Unary(methodRun, func(srv any, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
				var ref replicaRef
				if err := rpc.Decode(in, &ref); err != nil {
					return nil, invalid(err)
				}
				return reply(srv.(agentService).run(ctx, ref.ID))
			}),
		},
		{MethodName: "Pause", Handler: rpc.Unary(methodPause, withRef(agentService.pause))},
		{MethodName: "Resume", Handler: rpc.Unary(methodResume, withRef(agentService.resume))},
		{MethodName: "Shutdown", Handler: rpc.Unary(methodShutdown, withRef(agentService.shutdown))},
		{MethodName: "Kill", Handler: rpc.Unary(methodKill, withRef(agentService.kill))},
		{
			MethodName: "EvaluateQueues",
			Handler: rpc.Unary(methodEvaluateQueues, func(srv any, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
				var req evaluateRequest
				if err := rpc.Decode(in, &req); err != nil {
					return nil, invalid(err)
				}
				return empty(srv.(agentService).evaluateQueues(ctx, req))
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "replicascaler/agent/v1/agent.proto",
}
