// ============================================================================
// Replica Scaler Admin API - gRPC 管理介面
// ============================================================================
//
// Package: internal/admin
// 文件: service.go
// 功能: 手寫 ServiceDesc，訊息以 structpb.Struct 承載
//
// 方法:
//   Scale    {job, replicas}     → Empty
//   Manage   {job, instruction}  → Empty
//   Shutdown {job}               → Empty
//   Status   {}                  → {jobs: [...]}
//
// ============================================================================

package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/replica-scaler/internal/controller"
	"github.com/ChuLiYu/replica-scaler/internal/rpc"
)

// ServiceName is the admin gRPC service.
const ServiceName = "replicascaler.admin.v1.Admin"

const (
	methodScale    = "/" + ServiceName + "/Scale"
	methodManage   = "/" + ServiceName + "/Manage"
	methodShutdown = "/" + ServiceName + "/Shutdown"
	methodStatus   = "/" + ServiceName + "/Status"
)

type scaleRequest struct {
	Job      string `json:"job"`
	Replicas int    `json:"replicas"`
}

type manageRequest struct {
	Job         string `json:"job"`
	Instruction string `json:"instruction"`
}

type jobRequest struct {
	Job string `json:"job"`
}

type statusResponse struct {
	Jobs []controller.Status `json:"jobs"`
}

type adminService interface {
	scale(ctx context.Context, req scaleRequest) error
	manage(ctx context.Context, req manageRequest) error
	shutdown(ctx context.Context, req jobRequest) error
	status(ctx context.Context) (statusResponse, error)
}

// decodeThen decodes the request into T and hands it to fn.
func decodeThen[T any](fn func(adminService, context.Context, T) error) rpc.Call {
	return func(srv any, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
		var req T
		if err := rpc.Decode(in, &req); err != nil {
			return nil, invalid(err)
		}
		if err := fn(srv.(adminService), ctx, req); err != nil {
			return nil, err
		}
		return &emptypb.Empty{}, nil
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*adminService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Scale", Handler: rpc.Unary(methodScale, decodeThen(adminService.scale))},
		{MethodName: "Manage", Handler: rpc.Unary(methodManage, decodeThen(adminService.manage))},
		{MethodName: "Shutdown", Handler: rpc.Unary(methodShutdown, decodeThen(adminService.shutdown))},
		{
			MethodName: "Status",
			Handler: rpc.Unary(methodStatus, func(srv any, ctx context.Context, _ *structpb.Struct) (proto.Message, error) {
				resp, err := srv.(adminService).status(ctx)
				if err != nil {
					return nil, err
				}
				return rpc.Encode(resp)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "replicascaler/admin/v1/admin.proto",
}
