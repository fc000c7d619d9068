// Package grpc exposes SessionQuery, which lets sibling services resolve a
// forwarded session cookie and ask whether a verifier holds an active grant.
// Messages are protobuf well-known types so no generated code is needed.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName          = "atms.identity.v1.SessionQuery"
	resolveSessionMethod = "/" + serviceName + "/ResolveSession"
	checkGrantMethod     = "/" + serviceName + "/CheckGrant"
)

type SessionQueryServer interface {
	ResolveSession(ctx context.Context, token *wrapperspb.StringValue) (*structpb.Struct, error)
	CheckGrant(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error)
}

var SessionQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SessionQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ResolveSession", Handler: resolveSessionHandler},
		{MethodName: "CheckGrant", Handler: checkGrantHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "atms/identity/v1/session_query.proto",
}

func RegisterSessionQueryServer(s grpc.ServiceRegistrar, srv SessionQueryServer) {
	s.RegisterService(&SessionQueryServiceDesc, srv)
}

func resolveSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionQueryServer).ResolveSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: resolveSessionMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionQueryServer).ResolveSession(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func checkGrantHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionQueryServer).CheckGrant(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkGrantMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionQueryServer).CheckGrant(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type SessionQueryClient struct {
	cc grpc.ClientConnInterface
}

func NewSessionQueryClient(cc grpc.ClientConnInterface) *SessionQueryClient {
	return &SessionQueryClient{cc: cc}
}

func (c *SessionQueryClient) ResolveSession(ctx context.Context, token string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, resolveSessionMethod, wrapperspb.String(token), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionQueryClient) CheckGrant(ctx context.Context, studentID, verifierAddress string, opts ...grpc.CallOption) (bool, error) {
	in, err := structpb.NewStruct(map[string]interface{}{
		"studentId":       studentID,
		"verifierAddress": verifierAddress,
	})
	if err != nil {
		return false, err
	}
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, checkGrantMethod, in, out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}
