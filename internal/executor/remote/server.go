package remote

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ankittk/deskpilot/internal/action"
	"github.com/ankittk/deskpilot/internal/executor"
)

// Server exposes a local executor over gRPC. It does not apply policy; the
// calling agent's sandbox has already vetted every action.
type Server struct {
	Executor executor.Executor
	Limits   action.Limits
	Logger   *slog.Logger
}

// Register adds the executor service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.Executor == nil {
		return nil, status.Error(codes.Internal, "executor not set")
	}
	var req executeRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	a, err := action.Decode(req.Action, req.Params, s.Limits)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	res := s.Executor.Execute(ctx, a)
	s.logger().DebugContext(ctx, "remote action", "action", req.Action, "success", res.Success)
	return toStruct(executeReply{
		Success:   res.Success,
		Content:   res.Content,
		IsError:   res.IsError,
		MediaType: res.MediaType,
	})
}

func (s *Server) capture(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	c, ok := s.Executor.(executor.Capturer)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "executor cannot capture")
	}
	shot, err := c.Capture(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "capture: %v", err)
	}
	return toStruct(captureReply{Data: shot.Bytes, MimeType: shot.MimeType})
}
