package httpapi

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"comprobantes.org/internal/audit"
	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/ids"
	"comprobantes.org/internal/obs"
	"comprobantes.org/internal/permission"
)

const (
	accessServiceName = "comprobantes.permission.v1.AccessService"
	canAccessMethod   = "/" + accessServiceName + "/CanAccess"
)

// AccessServer answers access questions over gRPC. Messages are
// structpb.Struct: request {userId, companyId}, response {allowed}.
type AccessServer interface {
	CanAccess(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var accessServiceDesc = grpc.ServiceDesc{
	ServiceName: accessServiceName,
	HandlerType: (*AccessServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CanAccess", Handler: canAccessHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "comprobantes/permission/v1/access.proto",
}

func canAccessHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessServer).CanAccess(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: canAccessMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessServer).CanAccess(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// AccessClient is the client side of AccessServer.
type AccessClient struct {
	cc grpc.ClientConnInterface
}

func NewAccessClient(cc grpc.ClientConnInterface) *AccessClient {
	return &AccessClient{cc: cc}
}

func (c *AccessClient) CanAccess(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, canAccessMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GRPCServer implements AccessServer and the standard health service.
type GRPCServer struct {
	healthpb.UnimplementedHealthServer

	permissions *permission.Service
	resolver    *auth.Resolver
	readiness   readinessChecker
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(resolver *auth.Resolver, permissions *permission.Service, r readinessChecker) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &GRPCServer{
		permissions: permissions,
		resolver:    resolver,
		readiness:   r,
	}
}

// NewServer builds a grpc.Server with the auth interceptor and both
// services registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(requestIDInterceptor, s.authInterceptor))
	server := grpc.NewServer(opts...)
	server.RegisterService(&accessServiceDesc, s)
	healthpb.RegisterHealthServer(server, s)
	return server
}

func (s *GRPCServer) CanAccess(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	session, ok := auth.SessionFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing session")
	}
	userID, err := structID(in, "userId", auth.ErrInvalidUser)
	if err != nil {
		return nil, grpcError(err)
	}
	companyID, err := structID(in, "companyId", auth.ErrInvalidCompany)
	if err != nil {
		return nil, grpcError(err)
	}
	allowed, err := s.permissions.CanAccess(ctx, session, userID, companyID)
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{
		"allowed":   allowed,
		"userId":    ids.FormatID(userID),
		"companyId": ids.FormatID(companyID),
	})
}

// Check evaluates readiness. On failure returns gRPC Unavailable error.
func (s *GRPCServer) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return nil, status.Errorf(codes.Unavailable, "not ready: %v", err)
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func requestIDInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	rid := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-request-id"); len(v) > 0 {
			rid = strings.TrimSpace(v[0])
		}
	}
	if rid == "" || len(rid) > 128 {
		rid = ids.New()
	}
	ctx = audit.WithRequestID(ctx, rid)
	resp, err := handler(ctx, req)
	obs.Logger().Info("rpc_complete",
		zap.String("request_id", rid),
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
	)
	return resp, err
}

// authInterceptor resolves the bearer token in "authorization" metadata.
// Health checks are public.
func (s *GRPCServer) authInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
		return handler(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	header := ""
	if v := md.Get("authorization"); len(v) > 0 {
		header = v[0]
	}
	token, err := extractBearerToken(header)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	session, err := s.resolver.ResolveRole(ctx, token)
	if err != nil {
		return nil, grpcError(err)
	}
	return handler(auth.ContextWithSession(ctx, session), req)
}

func grpcError(err error) error {
	switch auth.Code(err) {
	case "unauthenticated":
		return status.Error(codes.Unauthenticated, err.Error())
	case "forbidden":
		return status.Error(codes.PermissionDenied, err.Error())
	case "invalid_user", "invalid_company", "not_found":
		return status.Error(codes.NotFound, err.Error())
	case "invalid_input":
		return status.Error(codes.InvalidArgument, err.Error())
	case "conflict":
		return status.Error(codes.Aborted, err.Error())
	default:
		obs.Logger().Error("rpc failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

// structID reads a positive integer id given as a number or a numeric string.
// Numbers are float64 on the wire, so ids above 2^53 must be sent as strings.
func structID(in *structpb.Struct, field string, notFound error) (int64, error) {
	v, ok := in.GetFields()[field]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", auth.ErrInvalidInput, field)
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n <= 0 || n != math.Trunc(n) || n >= 1<<63 {
			return 0, fmt.Errorf("%w: %v", notFound, n)
		}
		return int64(n), nil
	case *structpb.Value_StringValue:
		id, err := ids.ParseID(kind.StringValue)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", notFound, kind.StringValue)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number or a numeric string", auth.ErrInvalidInput, field)
	}
}
