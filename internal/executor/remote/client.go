package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ankittk/deskpilot/internal/action"
	"github.com/ankittk/deskpilot/internal/executor"
)

// Client is an executor.Executor backed by a remote Server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a remote executor at addr. Without options the
// connection is insecure.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial executor %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Execute sends a to the remote executor. Transport errors become failed
// results.
func (c *Client) Execute(ctx context.Context, a action.Action) action.Result {
	params, err := json.Marshal(a.Params())
	if err != nil {
		return action.Fail("encode %s: %v", a.Kind(), err)
	}
	in, err := toStruct(executeRequest{Action: string(a.Kind()), Params: params})
	if err != nil {
		return action.Fail("encode %s: %v", a.Kind(), err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, executeMethod, in, out); err != nil {
		return action.Fail("remote %s: %v", a.Kind(), err)
	}
	var reply executeReply
	if err := fromStruct(out, &reply); err != nil {
		return action.Fail("decode %s reply: %v", a.Kind(), err)
	}
	return action.Result{
		Success:   reply.Success,
		Content:   reply.Content,
		IsError:   reply.IsError,
		MediaType: reply.MediaType,
	}
}

// Capture asks the remote executor for a screenshot.
func (c *Client) Capture(ctx context.Context) (executor.Capture, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, captureMethod, &structpb.Struct{}, out); err != nil {
		return executor.Capture{}, fmt.Errorf("remote capture: %w", err)
	}
	var reply captureReply
	if err := fromStruct(out, &reply); err != nil {
		return executor.Capture{}, fmt.Errorf("decode capture: %w", err)
	}
	return executor.Capture{Bytes: reply.Data, MimeType: reply.MimeType}, nil
}
