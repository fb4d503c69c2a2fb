// Package grpcrouter implements transport.Router/RouterClient over gRPC
// with a hand-written JSON codec (no protoc), adapted from the teacher's
// management RPC service. The five RAFT-era RPCs (GetStatus/Join/Leave/
// AppWrite/AppSync) collapse into one: Dispatch(topic, payload) → reply,
// matching §4.2's single router endpoint.
package grpcrouter

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/rtcluster/coordinator/pkg/observability/tracing"
	"github.com/rtcluster/coordinator/pkg/transport"
)

// dispatchRequest/dispatchReply are the JSON-coded wire shapes for the
// single Dispatch RPC.
type dispatchRequest struct {
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload"`
}

type dispatchReply struct {
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type routerServer interface {
	Dispatch(ctx context.Context, in *dispatchRequest) (*dispatchReply, error)
}

type dispatchImpl struct {
	server *Server
}

func (d *dispatchImpl) Dispatch(ctx context.Context, in *dispatchRequest) (*dispatchReply, error) {
	if in == nil {
		in = &dispatchRequest{}
	}
	ctx, end := tracing.StartSpan(ctx, "grpcrouter.dispatch")
	defer end()
	if d.server.handler == nil {
		return &dispatchReply{Error: "router: no handler registered"}, nil
	}
	reply, err := d.server.handler(transport.Topic(in.Topic), in.Payload)
	if err != nil {
		return &dispatchReply{Error: err.Error()}, nil
	}
	return &dispatchReply{Payload: reply}, nil
}

var _Router_serviceDesc = grpc.ServiceDesc{
	ServiceName: "rtcluster.v1.Router",
	HandlerType: (*routerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: _Router_Dispatch_Handler},
	},
}

func _Router_Dispatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(dispatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(routerServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rtcluster.v1.Router/Dispatch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(routerServer).Dispatch(ctx, req.(*dispatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements transport.Router over gRPC using the JSON codec.
type Server struct {
	bind   string
	lis    net.Listener
	srv    *grpc.Server
	tlsCfg *tls.Config

	handler func(topic transport.Topic, payload map[string]any) (map[string]any, error)
}

// NewServer returns a router bound to addr once Bind is called.
func NewServer() *Server { return &Server{} }

// UseTLS enables TLS for the router server.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

func (s *Server) Handle(fn func(topic transport.Topic, payload map[string]any) (map[string]any, error)) {
	s.handler = fn
}

func (s *Server) Bind(addr string) (string, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.bind = lis.Addr().String()
	s.lis = lis

	var opts []grpc.ServerOption
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
	opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
	if s.tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	s.srv = srv

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	srv.RegisterService(&_Router_serviceDesc, &dispatchImpl{server: s})

	go func() { _ = srv.Serve(lis) }()
	return s.bind, nil
}

func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	ch := make(chan struct{})
	go func() { s.srv.GracefulStop(); close(ch) }()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		s.srv.Stop()
	}
	s.srv = nil
	if s.lis != nil {
		_ = s.lis.Close()
		s.lis = nil
	}
	return nil
}

var _ transport.Router = (*Server)(nil)
