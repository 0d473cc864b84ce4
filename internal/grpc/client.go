package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client is a thin typed wrapper over a connection to racer.v1.RaceService. Every call
// forces the JSON codec so callers need no extra dial options.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.ForceCodec(jsonCodec{})}, opts...)
}

// Command invokes the unary lifecycle RPC.
func (c *Client) Command(ctx context.Context, req *CommandRequest, opts ...grpc.CallOption) (*CommandResponse, error) {
	out := new(CommandResponse)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Command", req, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchClient receives frames from a Watch stream.
type WatchClient struct {
	grpc.ClientStream
}

// Recv blocks for the next frame.
func (x *WatchClient) Recv() (*Frame, error) {
	frame := new(Frame)
	if err := x.ClientStream.RecvMsg(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// Watch opens a server stream of session frames.
func (c *Client) Watch(ctx context.Context, req *WatchRequest, opts ...grpc.CallOption) (*WatchClient, error) {
	stream, err := c.conn.NewStream(ctx, &raceServiceDesc.Streams[0], "/"+ServiceName+"/Watch", callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchClient{stream}, nil
}

// DriveClient sends control frames on a Drive stream.
type DriveClient struct {
	grpc.ClientStream
}

// Send queues one control frame.
func (x *DriveClient) Send(frame *ControlFrame) error { return x.ClientStream.SendMsg(frame) }

// CloseAndRecv half-closes the stream and waits for the summary.
func (x *DriveClient) CloseAndRecv() (*DriveAck, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	ack := new(DriveAck)
	if err := x.ClientStream.RecvMsg(ack); err != nil {
		return nil, err
	}
	return ack, nil
}

// Drive opens a client stream of control frames.
func (c *Client) Drive(ctx context.Context, opts ...grpc.CallOption) (*DriveClient, error) {
	stream, err := c.conn.NewStream(ctx, &raceServiceDesc.Streams[1], "/"+ServiceName+"/Drive", callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &DriveClient{stream}, nil
}
