package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/quizarena/royale/internal/errors"
)

const dispatchMethod = "/royale.v1.BattleRoyale/Dispatch"

// BattleRoyaleServer serves the action envelope over gRPC as a google.protobuf.Struct.
type BattleRoyaleServer interface {
	Dispatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var battleRoyaleServiceDesc = grpc.ServiceDesc{
	ServiceName: "royale.v1.BattleRoyale",
	HandlerType: (*BattleRoyaleServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Dispatch",
			Handler:    dispatchHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "royale/v1/royale.proto",
}

func RegisterBattleRoyaleServer(s grpc.ServiceRegistrar, srv BattleRoyaleServer) {
	s.RegisterService(&battleRoyaleServiceDesc, srv)
}

func dispatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(BattleRoyaleServer).Dispatch(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: dispatchMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BattleRoyaleServer).Dispatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type BattleRoyaleClient interface {
	Dispatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type battleRoyaleClient struct {
	cc grpc.ClientConnInterface
}

func NewBattleRoyaleClient(cc grpc.ClientConnInterface) BattleRoyaleClient {
	return &battleRoyaleClient{cc: cc}
}

func (c *battleRoyaleClient) Dispatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, dispatchMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Dispatch implements BattleRoyaleServer. The response is the same JSON document the HTTP
// transport returns, carried as a Struct.
func (a *API) Dispatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	payload := in.AsMap()
	action, _ := payload["action"].(string)
	delete(payload, "action")

	resp, err := a.Route(ctx, action, payload)
	if err != nil {
		return nil, errors.Convert(err)
	}

	return toStruct(resp)
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("marshal response: %w", err))
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Internal(fmt.Errorf("unmarshal response: %w", err))
	}

	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("convert response: %w", err))
	}
	return out, nil
}
