package rpc

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

func TestDescriptorSurvivesStruct(t *testing.T) {
	desc := types.JobInstanceDescriptor{
		Name:                 "etl",
		Group:                "pipelines",
		ReplicationMode:      types.ReplicationFollowQueue,
		Resources:            types.ResourceRequest{CPU: 0.5, MemoryBytes: 8 << 30},
		PlacementStrategy:    types.PlacementSpread,
		SingleRun:            true,
		InputQueue:           "in",
		ExtraQueueReferences: []types.QueueReference{"a", "b"},
		Work:                 "drain",
		Parameters:           map[string]string{"items": "3"},
	}

	s, err := Encode(desc)
	require.NoError(t, err)

	var got types.JobInstanceDescriptor
	require.NoError(t, Decode(s, &got))
	if diff := cmp.Diff(desc, got); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestUnaryRunsInterceptor(t *testing.T) {
	var seen string
	h := Unary("/svc/Method", func(srv any, ctx context.Context, req *structpb.Struct) (proto.Message, error) {
		return req, nil
	})
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return handler(ctx, req)
	}

	in, err := structpb.NewStruct(map[string]any{"id": "x"})
	require.NoError(t, err)
	dec := func(v any) error {
		proto.Merge(v.(*structpb.Struct), in)
		return nil
	}

	out, err := h(nil, context.Background(), dec, interceptor)
	require.NoError(t, err)
	assert.Equal(t, "/svc/Method", seen)
	assert.Equal(t, "x", out.(*structpb.Struct).Fields["id"].GetStringValue())
}
