// Package grpc implements the gRPC transport for voicedesk.
//
// The service carries the raw interaction JSON, so it is registered by hand
// with a JSON codec instead of generated protobuf stubs:
//
//	service voicedesk.v1.Interactions {
//	  rpc Interact(InteractRequest) returns (InteractReply);
//	}
package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nadzzz/voicedesk/internal/transport"
)

const (
	serviceName    = "voicedesk.v1.Interactions"
	interactMethod = "/" + serviceName + "/Interact"
)

// InteractRequest wraps one raw interaction payload.
type InteractRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// InteractReply carries the HTTP-style status and the response body.
type InteractReply struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

// InteractionsServer is the server API for the Interactions service.
type InteractionsServer interface {
	Interact(ctx context.Context, req *InteractRequest) (*InteractReply, error)
}

func interactHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InteractRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InteractionsServer).Interact(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: interactMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InteractionsServer).Interact(ctx, req.(*InteractRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*InteractionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Interact", Handler: interactHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "voicedesk/v1/interactions.proto",
}

// jsonCodec marshals messages as JSON on the wire.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// service adapts a transport.Handler to InteractionsServer.
type service struct {
	handler transport.Handler
}

func (s *service) Interact(ctx context.Context, req *InteractRequest) (*InteractReply, error) {
	if len(req.Payload) == 0 {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}
	resp := s.handler(ctx, req.Payload)
	body, err := json.Marshal(resp.Body())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return &InteractReply{StatusCode: resp.StatusCode, Body: body}, nil
}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port   int
	server *grpc.Server
}

var _ transport.Transport = (*Transport)(nil)

// New creates a new gRPC transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Listen starts the gRPC server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	slog.Info("grpc transport listening", "port", t.port)
	return t.Serve(ctx, lis, handler)
}

// Serve runs the server on an existing listener until ctx is cancelled.
func (t *Transport) Serve(ctx context.Context, lis net.Listener, handler transport.Handler) error {
	t.server = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	t.server.RegisterService(&serviceDesc, &service{handler: handler})

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		t.server.GracefulStop()
	}()

	return t.server.Serve(lis)
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	if t.server != nil {
		t.server.GracefulStop()
	}
	return nil
}

// Client calls the Interactions service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection to a voicedesk gRPC server.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Interact sends one raw payload.
func (c *Client) Interact(ctx context.Context, payload []byte, opts ...grpc.CallOption) (*InteractReply, error) {
	out := new(InteractReply)
	opts = append([]grpc.CallOption{grpc.ForceCodec(jsonCodec{})}, opts...)
	if err := c.cc.Invoke(ctx, interactMethod, &InteractRequest{Payload: payload}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
