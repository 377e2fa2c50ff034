// Package remote carries executor calls over gRPC so the display can live
// on another host. Messages are google.protobuf.Struct values, so the
// service is declared by hand and needs no generated code.
package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName   = "deskpilot.executor.v1.Executor"
	executeMethod = "/" + serviceName + "/Execute"
	captureMethod = "/" + serviceName + "/Capture"
)

// executorService is the server-side handler set for serviceDesc.
type executorService interface {
	execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	capture(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*executorService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "Capture", Handler: captureHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "deskpilot/executor/v1/executor.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(executorService).execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(executorService).execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func captureHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(executorService).capture(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: captureMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(executorService).capture(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// toStruct converts v to a Struct through JSON so typed slices and ints
// become plain JSON values.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("struct: %w", err)
	}
	return st, nil
}

// fromStruct decodes st into v through JSON.
func fromStruct(st *structpb.Struct, v any) error {
	b, err := st.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

type executeRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

type executeReply struct {
	Success   bool   `json:"success"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

type captureReply struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}
